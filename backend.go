package cache

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StorageBackend is the capability set shared by the structured store and
// the string key-value store. Implementations log their own failures and
// report them as errors; a miss is ErrNotFound.
type StorageBackend[V any] interface {
	Name() string
	Init(context.Context) error
	Put(context.Context, *CacheEntry[V]) error
	Get(context.Context, string) (*CacheEntry[V], error)
	Delete(context.Context, string) error
	Clear(context.Context) error
	// RemoveExpired deletes entries whose expiry lies in (0, now] and
	// returns how many were removed.
	RemoveExpired(ctx context.Context, now int64) (int, error)
	Usage(context.Context) (CacheUsage, error)
	Close() error
}

func componentLogger(logger *zerolog.Logger, component string) zerolog.Logger {
	base := log.Logger
	if logger != nil {
		base = *logger
	}
	return base.With().Str("component", component).Logger()
}

func backendLogger(logger *zerolog.Logger, backend string) zerolog.Logger {
	return componentLogger(logger, "storage").With().Str("backend", backend).Logger()
}
