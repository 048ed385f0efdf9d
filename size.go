package cache

import (
	"bytes"
	"unicode/utf16"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EstimateSize approximates the stored size of value in bytes: the length
// of its JSON form in UTF-16 code units, two bytes each. Values that cannot
// be serialized are reported as 0.
func EstimateSize(value any) int64 {
	return estimateSize(log.Logger, value)
}

func estimateSize(logger zerolog.Logger, value any) (size int64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msg("tiered-cache: failed to estimate size")
			size = 0
		}
	}()

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		logger.Warn().Err(err).Msg("tiered-cache: failed to estimate size")
		return 0
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return int64(len(utf16.Encode([]rune(string(data))))) * 2
}
