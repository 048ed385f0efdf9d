package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultLocalCapacity = 5 * datasize.MB

// LocalStringStore is an in-process StringStore with a fixed total
// capacity. It never evicts; writes beyond the capacity fail instead.
type LocalStringStore struct {
	Options *LocalStringStoreOptions
	Cache   *expirable.LRU[string, string]

	mu   sync.Mutex
	used int64
}

// Options passed to NewLocalStringStore
//
// Capacity: total size of all keys and values. Defaults to DefaultLocalCapacity
type LocalStringStoreOptions struct {
	Capacity datasize.ByteSize
}

func (o *LocalStringStoreOptions) GetCapacity() int64 {
	if o == nil || o.Capacity == 0 {
		return int64(DefaultLocalCapacity)
	}
	return int64(o.Capacity)
}

var _ StringStore = (*LocalStringStore)(nil)

func NewLocalStringStore(options *LocalStringStoreOptions) *LocalStringStore {
	if options == nil {
		options = &LocalStringStoreOptions{}
	}
	// size 0 and ttl 0 disable both eviction mechanisms of the LRU
	cache := expirable.NewLRU[string, string](0, nil, 0)
	return &LocalStringStore{
		Options: options,
		Cache:   cache,
	}
}

func itemCost(key string, value string) int64 {
	return int64(len(key) + len(value))
}

func (s *LocalStringStore) Get(_ context.Context, key string) (string, error) {
	value, ok := s.Cache.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *LocalStringStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := itemCost(key, value)
	if old, ok := s.Cache.Peek(key); ok {
		delta -= itemCost(key, old)
	}
	if capacity := s.Options.GetCapacity(); s.used+delta > capacity {
		return fmt.Errorf("%w: %d of %d bytes used", ErrQuotaExceeded, s.used, capacity)
	}

	s.Cache.Add(key, value)
	s.used += delta
	return nil
}

func (s *LocalStringStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		old, ok := s.Cache.Peek(key)
		if !ok {
			continue
		}
		s.Cache.Remove(key)
		s.used -= itemCost(key, old)
	}
	return nil
}

func (s *LocalStringStore) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := []string{}
	for _, key := range s.Cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *LocalStringStore) Ping(_ context.Context) error {
	return nil
}

// Used returns the bytes currently counted against the capacity.
func (s *LocalStringStore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *LocalStringStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cache.Purge()
	s.used = 0
	return nil
}
