package cache

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("cache entry not found")
	ErrItemTooLarge       = errors.New("cache entry exceeds the maximum item size")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrBackendUnavailable = errors.New("storage backend is not available")
)

// CacheEntry is the unit stored by every backend. Entries are replaced
// wholesale on Set, never merged.
type CacheEntry[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
	// Unix milliseconds.
	CreatedAt int64 `json:"createdAt"`
	// Unix milliseconds, nil means the entry never expires.
	ExpiresAt *int64 `json:"expiresAt"`
	// Estimated size in bytes, see EstimateSize.
	Size int64 `json:"size"`
}

// IsLive reports whether the entry is still valid at now (Unix ms).
// An entry is dead once now is strictly past ExpiresAt.
func (e *CacheEntry[V]) IsLive(now int64) bool {
	if e == nil {
		return false
	}
	return e.ExpiresAt == nil || now <= *e.ExpiresAt
}

// expiredBy reports whether the entry falls into the sweep range (0, now].
func (e *CacheEntry[V]) expiredBy(now int64) bool {
	return e.ExpiresAt != nil && *e.ExpiresAt > 0 && *e.ExpiresAt <= now
}

// Options passed to TieredCache.Set
//
// Expiration: lifetime of the entry. Zero or negative means the entry never expires
// MaxSize: reject the write if the estimated size exceeds it. Zero disables the check
type SetOptions struct {
	Expiration time.Duration
	MaxSize    int64
}

func (o *SetOptions) GetExpiration() time.Duration {
	if o == nil || o.Expiration <= 0 {
		return 0
	}
	return o.Expiration
}

func (o *SetOptions) GetMaxSize() int64 {
	if o == nil || o.MaxSize <= 0 {
		return 0
	}
	return o.MaxSize
}

type CacheUsage struct {
	ItemCount int64 `json:"itemCount"`
	TotalSize int64 `json:"totalSize"`
}
