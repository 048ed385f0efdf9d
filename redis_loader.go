package cache

import (
	"context"
	"strings"
)

// globEscaper escapes the characters SCAN MATCH treats as pattern syntax.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (s *RedisStringStore) fetchKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var err error

	keyPattern := globEscaper.Replace(prefix) + "*"

	keys := []string{}
	seen := make(map[string]struct{})

	for {
		var scanKeys []string
		scanKeys, cursor, err = s.Client.Scan(ctx, cursor, keyPattern, s.Options.GetScanCount()).Result()
		if err != nil {
			return nil, err
		}

		// SCAN may return a key more than once
		for _, key := range scanKeys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
