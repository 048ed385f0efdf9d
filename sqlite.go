package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type sqliteEntry struct {
	Key       string `gorm:"column:cache_key;primaryKey"`
	Value     []byte `gorm:"column:value"`
	CreatedMs int64  `gorm:"column:created_at;not null;index:idx_cache_entries_created_at"`
	ExpiresMs *int64 `gorm:"column:expires_at;index:idx_cache_entries_expires_at"`
	Size      int64  `gorm:"column:size;not null"`
}

func (sqliteEntry) TableName() string {
	return "cache_entries"
}

// Options passed to NewSQLiteStorageBackend
//
// DSN: database file path, ":memory:" for a private in-memory database. Ignored if DB is set
// DB: an already opened database to store the entry table in
type SQLiteStorageBackendOptions struct {
	DSN    string
	DB     *gorm.DB
	Logger *zerolog.Logger
}

// SQLiteStorageBackend is the structured backend: a single indexed table,
// every operation scoped to one statement or transaction.
type SQLiteStorageBackend[V any] struct {
	Options *SQLiteStorageBackendOptions
	logger  zerolog.Logger

	mu     sync.RWMutex
	db     *gorm.DB
	ownsDB bool
}

var _ StorageBackend[any] = (*SQLiteStorageBackend[any])(nil)

func NewSQLiteStorageBackend[V any](options *SQLiteStorageBackendOptions) *SQLiteStorageBackend[V] {
	if options == nil {
		options = &SQLiteStorageBackendOptions{}
	}
	return &SQLiteStorageBackend[V]{
		Options: options,
		logger:  backendLogger(options.Logger, "sqlite"),
	}
}

func (b *SQLiteStorageBackend[V]) Name() string {
	return "sqlite"
}

func (b *SQLiteStorageBackend[V]) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	db := b.Options.DB
	ownsDB := false
	if db == nil {
		if b.Options.DSN == "" {
			return b.fail("init", "", errors.New("DSN or DB must be provided"))
		}
		var err error
		db, err = gorm.Open(sqlite.Open(b.Options.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return b.fail("init", "", fmt.Errorf("open database: %w", err))
		}
		ownsDB = true

		// sqlite allows a single writer; an in-memory database also lives
		// only as long as its connection
		sqlDB, err := db.DB()
		if err != nil {
			return b.fail("init", "", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(&sqliteEntry{}); err != nil {
		if ownsDB {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.Close()
			}
		}
		return b.fail("init", "", fmt.Errorf("migrate cache table: %w", err))
	}

	b.db = db
	b.ownsDB = ownsDB
	return nil
}

func (b *SQLiteStorageBackend[V]) conn(ctx context.Context) (*gorm.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrBackendUnavailable
	}
	return b.db.WithContext(ctx), nil
}

func (b *SQLiteStorageBackend[V]) Put(ctx context.Context, entry *CacheEntry[V]) error {
	db, err := b.conn(ctx)
	if err != nil {
		return b.fail("put", entry.Key, err)
	}

	// values share the JSON encoding of the key-value backend
	data, err := json.Marshal(entry.Value)
	if err != nil {
		return b.fail("put", entry.Key, fmt.Errorf("encode value: %w", err))
	}

	row := sqliteEntry{
		Key:       entry.Key,
		Value:     data,
		CreatedMs: entry.CreatedAt,
		ExpiresMs: entry.ExpiresAt,
		Size:      entry.Size,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "created_at", "expires_at", "size"}),
	}).Create(&row).Error
	if err != nil {
		return b.fail("put", entry.Key, fmt.Errorf("upsert entry: %w", err))
	}
	return nil
}

func (b *SQLiteStorageBackend[V]) Get(ctx context.Context, key string) (*CacheEntry[V], error) {
	db, err := b.conn(ctx)
	if err != nil {
		return nil, b.fail("get", key, err)
	}

	var row sqliteEntry
	if err := db.Where("cache_key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, b.fail("get", key, fmt.Errorf("query entry: %w", err))
	}

	var value V
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return nil, b.fail("get", key, fmt.Errorf("decode value: %w", err))
	}

	return &CacheEntry[V]{
		Key:       row.Key,
		Value:     value,
		CreatedAt: row.CreatedMs,
		ExpiresAt: row.ExpiresMs,
		Size:      row.Size,
	}, nil
}

func (b *SQLiteStorageBackend[V]) Delete(ctx context.Context, key string) error {
	db, err := b.conn(ctx)
	if err != nil {
		return b.fail("delete", key, err)
	}
	if err := db.Where("cache_key = ?", key).Delete(&sqliteEntry{}).Error; err != nil {
		return b.fail("delete", key, fmt.Errorf("delete entry: %w", err))
	}
	return nil
}

func (b *SQLiteStorageBackend[V]) Clear(ctx context.Context) error {
	db, err := b.conn(ctx)
	if err != nil {
		return b.fail("clear", "", err)
	}
	if err := db.Where("1 = 1").Delete(&sqliteEntry{}).Error; err != nil {
		return b.fail("clear", "", fmt.Errorf("delete entries: %w", err))
	}
	return nil
}

func (b *SQLiteStorageBackend[V]) RemoveExpired(ctx context.Context, now int64) (int, error) {
	db, err := b.conn(ctx)
	if err != nil {
		return 0, b.fail("remove_expired", "", err)
	}

	var removed int64
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", 0, now).
			Delete(&sqliteEntry{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, b.fail("remove_expired", "", fmt.Errorf("delete expired entries: %w", err))
	}
	return int(removed), nil
}

func (b *SQLiteStorageBackend[V]) Usage(ctx context.Context) (CacheUsage, error) {
	db, err := b.conn(ctx)
	if err != nil {
		return CacheUsage{}, b.fail("usage", "", err)
	}

	var usage struct {
		ItemCount int64
		TotalSize int64
	}
	err = db.Model(&sqliteEntry{}).
		Select("COUNT(*) AS item_count, COALESCE(SUM(size), 0) AS total_size").
		Scan(&usage).Error
	if err != nil {
		return CacheUsage{}, b.fail("usage", "", fmt.Errorf("aggregate entries: %w", err))
	}
	return CacheUsage{ItemCount: usage.ItemCount, TotalSize: usage.TotalSize}, nil
}

func (b *SQLiteStorageBackend[V]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	db := b.db
	b.db = nil
	if db == nil || !b.ownsDB {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *SQLiteStorageBackend[V]) fail(op string, key string, err error) error {
	event := b.logger.Error().Err(err).Str("op", op)
	if key != "" {
		event = event.Str("key", key)
	}
	event.Msg("tiered-cache: storage operation failed")
	return err
}
