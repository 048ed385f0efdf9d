package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

type RedisStringStore struct {
	Options *RedisStringStoreOptions
	Client  *redis.Client
}

// Options passed to NewRedisStringStore
//
// ScanCount: COUNT hint for SCAN, 0 lets redis decide
// DeleteBatchSize: number of keys per DEL command, defaults to 1000
type RedisStringStoreOptions struct {
	RedisOptions    *redis.Options
	ScanCount       int64
	DeleteBatchSize int
}

func (o *RedisStringStoreOptions) GetScanCount() int64 {
	if o.ScanCount <= 0 {
		return 0
	}
	return o.ScanCount
}

func (o *RedisStringStoreOptions) GetDeleteBatchSize() int {
	if o.DeleteBatchSize <= 0 {
		return 1000
	}
	return o.DeleteBatchSize
}

var _ StringStore = (*RedisStringStore)(nil)

func NewRedisStringStore(options *RedisStringStoreOptions) (*RedisStringStore, error) {
	if options == nil || options.RedisOptions == nil {
		return nil, errors.New("RedisOptions must be provided")
	}

	client := redis.NewClient(options.RedisOptions)

	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, err
	}

	if err := redisotel.InstrumentMetrics(client); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStringStore{
		Options: options,
		Client:  client,
	}, nil
}

func (s *RedisStringStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *RedisStringStore) Set(ctx context.Context, key string, value string) error {
	return s.Client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStringStore) Del(ctx context.Context, keys ...string) error {
	var errs []error
	batchSize := s.Options.GetDeleteBatchSize()
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := s.Client.Del(ctx, keys[i:end]...).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RedisStringStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.fetchKeysWithPrefix(ctx, prefix)
}

func (s *RedisStringStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *RedisStringStore) Close() error {
	return s.Client.Close()
}
