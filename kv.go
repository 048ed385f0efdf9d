package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	DefaultKeyPrefix   = "cache"
	DefaultMaxItemSize = 4 * datasize.MB
)

// StringStore is a flat string key-value store shared with other users.
// Get reports a missing key as ErrNotFound.
type StringStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Del(ctx context.Context, keys ...string) error
	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options passed to NewKeyValueStorageBackend
//
// KeyPrefix: namespace of this cache inside the store, defaults to DefaultKeyPrefix
// MaxItemSize: upper bound for one serialized entry, defaults to DefaultMaxItemSize
type KeyValueStorageBackendOptions struct {
	Store       StringStore
	KeyPrefix   string
	MaxItemSize datasize.ByteSize
	Logger      *zerolog.Logger
}

func (o *KeyValueStorageBackendOptions) GetKeyPrefix() string {
	if o.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return o.KeyPrefix
}

func (o *KeyValueStorageBackendOptions) GetMaxItemSize() datasize.ByteSize {
	if o.MaxItemSize == 0 {
		return DefaultMaxItemSize
	}
	return o.MaxItemSize
}

// KeyValueStorageBackend keeps whole JSON-encoded entries, metadata
// included, under a namespaced key of a StringStore.
type KeyValueStorageBackend[V any] struct {
	Options *KeyValueStorageBackendOptions
	logger  zerolog.Logger
}

var _ StorageBackend[any] = (*KeyValueStorageBackend[any])(nil)

func NewKeyValueStorageBackend[V any](options *KeyValueStorageBackendOptions) (*KeyValueStorageBackend[V], error) {
	if options == nil || options.Store == nil {
		return nil, errors.New("Store must be provided")
	}
	return &KeyValueStorageBackend[V]{
		Options: options,
		logger:  backendLogger(options.Logger, "kv"),
	}, nil
}

func (b *KeyValueStorageBackend[V]) Name() string {
	return "kv"
}

func (b *KeyValueStorageBackend[V]) GetStringKey(key string) string {
	return b.namespace() + key
}

func (b *KeyValueStorageBackend[V]) namespace() string {
	return b.Options.GetKeyPrefix() + ":"
}

func (b *KeyValueStorageBackend[V]) Init(ctx context.Context) error {
	if err := b.Options.Store.Ping(ctx); err != nil {
		return b.fail("init", "", err)
	}
	return nil
}

func (b *KeyValueStorageBackend[V]) Put(ctx context.Context, entry *CacheEntry[V]) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return b.fail("put", entry.Key, fmt.Errorf("encode entry: %w", err))
	}
	if limit := b.Options.GetMaxItemSize(); datasize.ByteSize(len(data)) > limit {
		return b.fail("put", entry.Key, fmt.Errorf("%w: %d bytes, limit %s", ErrItemTooLarge, len(data), limit.HR()))
	}

	if err := b.Options.Store.Set(ctx, b.GetStringKey(entry.Key), string(data)); err != nil {
		return b.fail("put", entry.Key, err)
	}
	return nil
}

func (b *KeyValueStorageBackend[V]) Get(ctx context.Context, key string) (*CacheEntry[V], error) {
	stringKey := b.GetStringKey(key)
	data, err := b.Options.Store.Get(ctx, stringKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, b.fail("get", key, err)
	}

	entry, err := b.decode(data)
	if err != nil {
		b.fail("get", key, err)
		if delErr := b.Options.Store.Del(ctx, stringKey); delErr != nil {
			b.fail("delete", key, delErr)
		}
		return nil, ErrNotFound
	}
	return entry, nil
}

func (b *KeyValueStorageBackend[V]) Delete(ctx context.Context, key string) error {
	if err := b.Options.Store.Del(ctx, b.GetStringKey(key)); err != nil {
		return b.fail("delete", key, err)
	}
	return nil
}

func (b *KeyValueStorageBackend[V]) Clear(ctx context.Context) error {
	keys, err := b.Options.Store.Keys(ctx, b.namespace())
	if err != nil {
		return b.fail("clear", "", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.Options.Store.Del(ctx, keys...); err != nil {
		return b.fail("clear", "", err)
	}
	return nil
}

func (b *KeyValueStorageBackend[V]) RemoveExpired(ctx context.Context, now int64) (int, error) {
	var expired []string
	err := b.scan(ctx, func(stringKey string, entry *CacheEntry[V]) {
		if entry.expiredBy(now) {
			expired = append(expired, stringKey)
		}
	})
	if err != nil {
		return 0, b.fail("remove_expired", "", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := b.Options.Store.Del(ctx, expired...); err != nil {
		return 0, b.fail("remove_expired", "", err)
	}
	return len(expired), nil
}

func (b *KeyValueStorageBackend[V]) Usage(ctx context.Context) (CacheUsage, error) {
	var usage CacheUsage
	err := b.scan(ctx, func(_ string, entry *CacheEntry[V]) {
		usage.ItemCount++
		usage.TotalSize += entry.Size
	})
	if err != nil {
		return CacheUsage{}, b.fail("usage", "", err)
	}
	return usage, nil
}

func (b *KeyValueStorageBackend[V]) Close() error {
	return b.Options.Store.Close()
}

// scan visits every decodable entry under the namespace. Keys that vanish
// or fail to decode during the scan are skipped.
func (b *KeyValueStorageBackend[V]) scan(ctx context.Context, visit func(string, *CacheEntry[V])) error {
	keys, err := b.Options.Store.Keys(ctx, b.namespace())
	if err != nil {
		return err
	}
	for _, stringKey := range keys {
		data, err := b.Options.Store.Get(ctx, stringKey)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				b.logger.Warn().Err(err).Str("key", stringKey).Msg("tiered-cache: skipping unreadable entry")
			}
			continue
		}
		entry, err := b.decode(data)
		if err != nil {
			b.logger.Warn().Err(err).Str("key", stringKey).Msg("tiered-cache: skipping corrupt entry")
			continue
		}
		visit(stringKey, entry)
	}
	return nil
}

func (b *KeyValueStorageBackend[V]) decode(data string) (*CacheEntry[V], error) {
	var entry CacheEntry[V]
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func (b *KeyValueStorageBackend[V]) fail(op string, key string, err error) error {
	event := b.logger.Error().Err(err).Str("op", op)
	if key != "" {
		event = event.Str("key", key)
	}
	event.Msg("tiered-cache: storage operation failed")
	return err
}
