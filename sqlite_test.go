package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testProfile struct {
	Name   string   `json:"name"`
	Visits int      `json:"visits"`
	Tags   []string `json:"tags"`
}

func quietLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func newTestSQLiteBackend[V any](t *testing.T) *SQLiteStorageBackend[V] {
	t.Helper()
	backend := NewSQLiteStorageBackend[V](&SQLiteStorageBackendOptions{
		DSN:    ":memory:",
		Logger: quietLogger(),
	})
	require.NoError(t, backend.Init(context.Background()))
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLiteBackendPutGetDelete(t *testing.T) {
	backend := newTestSQLiteBackend[string](t)
	ctx := context.Background()

	err := backend.Put(ctx, &CacheEntry[string]{Key: "foo", Value: "bar", CreatedAt: 1000, Size: 10})
	assert.Nil(t, err)

	entry, err := backend.Get(ctx, "foo")
	assert.Nil(t, err)
	assert.Equal(t, "foo", entry.Key)
	assert.Equal(t, "bar", entry.Value)
	assert.Equal(t, int64(1000), entry.CreatedAt)
	assert.Nil(t, entry.ExpiresAt)
	assert.Equal(t, int64(10), entry.Size)

	// full overwrite, including the creation time
	err = backend.Put(ctx, &CacheEntry[string]{Key: "foo", Value: "baz", CreatedAt: 2000, ExpiresAt: int64Ptr(3000), Size: 10})
	assert.Nil(t, err)
	entry, err = backend.Get(ctx, "foo")
	assert.Nil(t, err)
	assert.Equal(t, "baz", entry.Value)
	assert.Equal(t, int64(2000), entry.CreatedAt)
	assert.Equal(t, int64(3000), *entry.ExpiresAt)

	assert.Nil(t, backend.Delete(ctx, "foo"))
	assert.Nil(t, backend.Delete(ctx, "foo"))

	entry, err = backend.Get(ctx, "foo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, entry)
}

func TestSQLiteBackendStruct(t *testing.T) {
	backend := newTestSQLiteBackend[testProfile](t)
	ctx := context.Background()

	profile := testProfile{Name: "Ana", Visits: 3, Tags: []string{"color", "cut"}}
	assert.Nil(t, backend.Put(ctx, &CacheEntry[testProfile]{Key: "client:1", Value: profile, CreatedAt: 1}))

	entry, err := backend.Get(ctx, "client:1")
	assert.Nil(t, err)
	assert.Equal(t, profile, entry.Value)
}

func TestSQLiteBackendRemoveExpired(t *testing.T) {
	backend := newTestSQLiteBackend[string](t)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, &CacheEntry[string]{Key: "a", Value: "expired", CreatedAt: 100, ExpiresAt: int64Ptr(500), Size: 18}))
	require.NoError(t, backend.Put(ctx, &CacheEntry[string]{Key: "b", Value: "live", CreatedAt: 100, ExpiresAt: int64Ptr(5000), Size: 12}))
	require.NoError(t, backend.Put(ctx, &CacheEntry[string]{Key: "c", Value: "forever", CreatedAt: 100, Size: 18}))

	removed, err := backend.RemoveExpired(ctx, 1000)
	assert.Nil(t, err)
	assert.Equal(t, 1, removed)

	_, err = backend.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = backend.Get(ctx, "b")
	assert.Nil(t, err)
	_, err = backend.Get(ctx, "c")
	assert.Nil(t, err)

	usage, err := backend.Usage(ctx)
	assert.Nil(t, err)
	assert.Equal(t, CacheUsage{ItemCount: 2, TotalSize: 30}, usage)

	removed, err = backend.RemoveExpired(ctx, 1000)
	assert.Nil(t, err)
	assert.Equal(t, 0, removed)
}

func TestSQLiteBackendClear(t *testing.T) {
	backend := newTestSQLiteBackend[int](t)
	ctx := context.Background()

	for i, key := range []string{"one", "two", "three"} {
		require.NoError(t, backend.Put(ctx, &CacheEntry[int]{Key: key, Value: i, CreatedAt: 1}))
	}

	assert.Nil(t, backend.Clear(ctx))
	usage, err := backend.Usage(ctx)
	assert.Nil(t, err)
	assert.Equal(t, CacheUsage{}, usage)
}

func TestSQLiteBackendSharedDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	backend := NewSQLiteStorageBackend[string](&SQLiteStorageBackendOptions{DB: db, Logger: quietLogger()})
	require.NoError(t, backend.Init(context.Background()))
	assert.True(t, db.Migrator().HasTable(&sqliteEntry{}))
	assert.True(t, db.Migrator().HasIndex(&sqliteEntry{}, "idx_cache_entries_expires_at"))
	assert.True(t, db.Migrator().HasIndex(&sqliteEntry{}, "idx_cache_entries_created_at"))

	// the caller keeps ownership of a supplied database
	assert.Nil(t, backend.Close())
	assert.Nil(t, sqlDB.Ping())
}

func TestSQLiteBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	backend := NewSQLiteStorageBackend[string](&SQLiteStorageBackendOptions{Logger: quietLogger()})

	err := backend.Put(ctx, &CacheEntry[string]{Key: "foo", Value: "bar"})
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
	_, err = backend.Get(ctx, "foo")
	assert.True(t, errors.Is(err, ErrBackendUnavailable))

	// no DSN and no DB
	assert.NotNil(t, backend.Init(ctx))
	_, err = backend.Usage(ctx)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
}

func TestSQLiteBackendClosed(t *testing.T) {
	ctx := context.Background()
	backend := newTestSQLiteBackend[string](t)
	require.NoError(t, backend.Close())

	err := backend.Put(ctx, &CacheEntry[string]{Key: "foo", Value: "bar"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
