package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mxcd/tiered-cache"

// Options passed to NewTieredCache
//
// Structured: preferred backend, may be nil. It is initialized once in the background
// Fallback: backend used when Structured is missing, failed to initialize or fails an operation
// Clock: time source for entry timestamps, defaults to the system clock
type TieredCacheOptions[V any] struct {
	Structured StorageBackend[V]
	Fallback   StorageBackend[V]
	Clock      clock.Clock
	Logger     *zerolog.Logger
}

// TieredCache is a best-effort cache over two storage backends. No method
// returns an error or panics: failures degrade to a miss or false.
type TieredCache[V any] struct {
	structured StorageBackend[V]
	fallback   StorageBackend[V]
	clock      clock.Clock
	logger     zerolog.Logger
	tracer     trace.Tracer

	// structuredAvailable is written once before ready is closed
	ready               chan struct{}
	structuredAvailable bool

	// closed is guarded by closeMu so no expiry deletion starts after Close
	closeMu   sync.RWMutex
	closed    bool
	pending   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewTieredCache[V any](options *TieredCacheOptions[V]) (*TieredCache[V], error) {
	if options == nil || options.Fallback == nil {
		return nil, errors.New("Fallback storage backend must be provided")
	}

	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}

	c := &TieredCache[V]{
		structured: options.Structured,
		fallback:   options.Fallback,
		clock:      clk,
		logger:     componentLogger(options.Logger, "tiered-cache"),
		tracer:     otel.Tracer(tracerName),
		ready:      make(chan struct{}),
	}

	go c.initialize(context.Background())
	return c, nil
}

func (c *TieredCache[V]) initialize(ctx context.Context) {
	defer close(c.ready)

	if err := c.fallback.Init(ctx); err != nil {
		c.logger.Warn().Err(err).Str("backend", c.fallback.Name()).Msg("tiered-cache: fallback backend failed to initialize")
	}

	if c.structured == nil {
		c.logger.Info().Msg("tiered-cache: no structured backend configured, using fallback only")
		return
	}
	if err := c.structured.Init(ctx); err != nil {
		c.logger.Warn().Err(err).Str("backend", c.structured.Name()).Msg("tiered-cache: structured backend unavailable, using fallback only")
		return
	}
	c.structuredAvailable = true
	c.logger.Debug().Str("backend", c.structured.Name()).Msg("tiered-cache: structured backend initialized")
}

// Ready is closed once backend initialization has finished.
func (c *TieredCache[V]) Ready() <-chan struct{} {
	return c.ready
}

func (c *TieredCache[V]) isClosed() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.closed
}

// await blocks until initialization finished. It reports false if ctx is
// done first or the cache is closed.
func (c *TieredCache[V]) await(ctx context.Context) bool {
	if c.isClosed() {
		return false
	}
	select {
	case <-c.ready:
		return true
	default:
	}
	select {
	case <-c.ready:
		return true
	case <-ctx.Done():
		c.logger.Debug().Err(ctx.Err()).Msg("tiered-cache: gave up waiting for initialization")
		return false
	}
}

func (c *TieredCache[V]) IsStructuredAvailable(ctx context.Context) bool {
	return c.await(ctx) && c.structuredAvailable
}

// backends returns the backends to consult, in order. Only valid after ready.
func (c *TieredCache[V]) backends() []StorageBackend[V] {
	if c.structuredAvailable {
		return []StorageBackend[V]{c.structured, c.fallback}
	}
	return []StorageBackend[V]{c.fallback}
}

func (c *TieredCache[V]) now() int64 {
	return c.clock.Now().UnixMilli()
}

func (c *TieredCache[V]) Set(ctx context.Context, key string, value V, options *SetOptions) bool {
	ctx, span := c.tracer.Start(ctx, "cache.Set", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if !c.validKey("set", key) || !c.await(ctx) {
		return false
	}

	now := c.now()
	entry := &CacheEntry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		Size:      estimateSize(c.logger, value),
	}
	if expiration := options.GetExpiration(); expiration > 0 {
		expiresAt := now + expiration.Milliseconds()
		if expiresAt <= now {
			expiresAt = now + 1
		}
		entry.ExpiresAt = &expiresAt
	}

	if maxSize := options.GetMaxSize(); maxSize > 0 && entry.Size > maxSize {
		c.logger.Debug().Str("key", key).Int64("size", entry.Size).Int64("max_size", maxSize).Msg("tiered-cache: rejecting oversized entry")
		span.SetAttributes(attribute.Bool("cache.rejected", true))
		return false
	}

	backends := c.backends()
	for i, backend := range backends {
		// backends that refused the value must not keep an older copy
		if i > 0 {
			if err := c.evict(ctx, backends[:i], key); err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("tiered-cache: could not remove previous value, write aborted")
				return false
			}
		}

		err := c.guard(backend, "put", key, func() error { return backend.Put(ctx, entry) })
		if err != nil {
			if i < len(backends)-1 {
				c.logger.Warn().Err(err).Str("key", key).Str("backend", backend.Name()).Msg("tiered-cache: write failed, falling back")
			}
			continue
		}

		// the entry lives only in the backend that accepted it
		if err := c.evict(ctx, backends[i+1:], key); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Str("backend", backend.Name()).Msg("tiered-cache: stale copy left in another backend")
			return false
		}
		span.SetAttributes(attribute.String("cache.backend", backend.Name()))
		return true
	}
	return false
}

func (c *TieredCache[V]) evict(ctx context.Context, backends []StorageBackend[V], key string) error {
	var errs []error
	for _, backend := range backends {
		if err := c.guard(backend, "delete", key, func() error { return backend.Delete(ctx, key) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *TieredCache[V]) Get(ctx context.Context, key string) (*V, bool) {
	ctx, span := c.tracer.Start(ctx, "cache.Get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if !c.validKey("get", key) || !c.await(ctx) {
		return nil, false
	}

	now := c.now()
	for _, backend := range c.backends() {
		var entry *CacheEntry[V]
		err := c.guard(backend, "get", key, func() (err error) {
			entry, err = backend.Get(ctx, key)
			return err
		})
		if err != nil {
			continue
		}
		if !entry.IsLive(now) {
			c.deleteAsync(ctx, backend, key)
			continue
		}
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.String("cache.backend", backend.Name()))
		return &entry.Value, true
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	return nil, false
}

func (c *TieredCache[V]) deleteAsync(ctx context.Context, backend StorageBackend[V], key string) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}

	ctx = context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		err := c.guard(backend, "delete", key, func() error { return backend.Delete(ctx, key) })
		if err == nil {
			c.logger.Debug().Str("key", key).Str("backend", backend.Name()).Msg("tiered-cache: removed expired entry")
		}
	}()
}

// Delete removes key from every active backend. It reports false only if
// a backend failed; a missing key is not a failure.
func (c *TieredCache[V]) Delete(ctx context.Context, key string) bool {
	ctx, span := c.tracer.Start(ctx, "cache.Delete", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if !c.validKey("delete", key) || !c.await(ctx) {
		return false
	}

	ok := true
	for _, backend := range c.backends() {
		if err := c.guard(backend, "delete", key, func() error { return backend.Delete(ctx, key) }); err != nil {
			ok = false
		}
	}
	return ok
}

func (c *TieredCache[V]) Clear(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "cache.Clear")
	defer span.End()

	if !c.await(ctx) {
		return false
	}

	ok := true
	for _, backend := range c.backends() {
		if err := c.guard(backend, "clear", "", func() error { return backend.Clear(ctx) }); err != nil {
			ok = false
		}
	}
	return ok
}

// ClearExpiredItems sweeps every active backend. A failing backend does
// not stop the others.
func (c *TieredCache[V]) ClearExpiredItems(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "cache.ClearExpiredItems")
	defer span.End()

	if !c.await(ctx) {
		return
	}

	now := c.now()
	for _, backend := range c.backends() {
		var removed int
		err := c.guard(backend, "remove_expired", "", func() (err error) {
			removed, err = backend.RemoveExpired(ctx, now)
			return err
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("backend", backend.Name()).Msg("tiered-cache: failed to clear expired items")
			continue
		}
		if removed > 0 {
			c.logger.Info().Int("removed", removed).Str("backend", backend.Name()).Msg("tiered-cache: cleared expired items")
		}
	}
}

// GetCacheUsage reports the usage of the backend currently preferred for
// writes. Usage is not summed across backends.
func (c *TieredCache[V]) GetCacheUsage(ctx context.Context) CacheUsage {
	ctx, span := c.tracer.Start(ctx, "cache.GetCacheUsage")
	defer span.End()

	if !c.await(ctx) {
		return CacheUsage{}
	}

	backend := c.backends()[0]
	var usage CacheUsage
	err := c.guard(backend, "usage", "", func() (err error) {
		usage, err = backend.Usage(ctx)
		return err
	})
	if err != nil {
		return CacheUsage{}
	}
	span.SetAttributes(attribute.String("cache.backend", backend.Name()))
	return usage
}

// Close waits for initialization and pending expiry deletions, then closes
// both backends. Operations after Close report a miss or false.
func (c *TieredCache[V]) Close() error {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()

		<-c.ready
		c.pending.Wait()

		var errs []error
		if c.structured != nil {
			errs = append(errs, c.structured.Close())
		}
		errs = append(errs, c.fallback.Close())
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *TieredCache[V]) validKey(op string, key string) bool {
	if strings.TrimSpace(key) == "" {
		c.logger.Warn().Str("op", op).Msg("tiered-cache: key is required")
		return false
	}
	return true
}

// guard runs one backend call, turning a panic into an error.
func (c *TieredCache[V]) guard(backend StorageBackend[V], op string, key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("op", op).Str("key", key).Str("backend", backend.Name()).Msg("tiered-cache: recovered from backend panic")
			err = fmt.Errorf("%s backend panicked during %s: %v", backend.Name(), op, r)
		}
	}()
	return fn()
}
