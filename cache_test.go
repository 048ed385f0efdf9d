package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func TestCacheEntryIsLive(t *testing.T) {
	forever := &CacheEntry[string]{Key: "foo", Value: "bar", CreatedAt: 100}
	assert.True(t, forever.IsLive(100))
	assert.True(t, forever.IsLive(1<<50))

	expiring := &CacheEntry[string]{Key: "foo", Value: "bar", CreatedAt: 100, ExpiresAt: int64Ptr(110)}
	assert.True(t, expiring.IsLive(105))
	assert.True(t, expiring.IsLive(110))
	assert.False(t, expiring.IsLive(111))

	var missing *CacheEntry[string]
	assert.False(t, missing.IsLive(0))
}

func TestCacheEntryExpiredBy(t *testing.T) {
	assert.False(t, (&CacheEntry[int]{}).expiredBy(1000))
	assert.True(t, (&CacheEntry[int]{ExpiresAt: int64Ptr(1000)}).expiredBy(1000))
	assert.False(t, (&CacheEntry[int]{ExpiresAt: int64Ptr(1001)}).expiredBy(1000))
	assert.False(t, (&CacheEntry[int]{ExpiresAt: int64Ptr(0)}).expiredBy(1000))
}

func TestSetOptions(t *testing.T) {
	var options *SetOptions
	assert.Equal(t, time.Duration(0), options.GetExpiration())
	assert.Equal(t, int64(0), options.GetMaxSize())

	options = &SetOptions{Expiration: -time.Second, MaxSize: -1}
	assert.Equal(t, time.Duration(0), options.GetExpiration())
	assert.Equal(t, int64(0), options.GetMaxSize())

	options = &SetOptions{Expiration: time.Minute, MaxSize: 64}
	assert.Equal(t, time.Minute, options.GetExpiration())
	assert.Equal(t, int64(64), options.GetMaxSize())
}
