package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const EnvPrefix = "TIEREDCACHE"

type SQLiteConfig struct {
	Path     string
	Disabled bool
}

// RedisConfig selects redis as the string store. An empty Addr keeps the
// string store in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	SQLite        SQLiteConfig
	Redis         RedisConfig
	KeyPrefix     string
	MaxItemSize   datasize.ByteSize
	Capacity      datasize.ByteSize
	SweepInterval time.Duration
	LogLevel      zerolog.Level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sqlite.path", "tiered-cache.db")
	v.SetDefault("sqlite.disabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("key_prefix", DefaultKeyPrefix)
	v.SetDefault("max_item_size", DefaultMaxItemSize.String())
	v.SetDefault("capacity", DefaultLocalCapacity.String())
	v.SetDefault("sweep_interval", DefaultSweepInterval.String())
	v.SetDefault("log_level", zerolog.InfoLevel.String())
}

// LoadConfig reads configuration from path, if given, with TIEREDCACHE_*
// environment variables taking precedence, e.g. TIEREDCACHE_REDIS_ADDR.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	maxItemSize, err := parseByteSize(v.GetString("max_item_size"))
	if err != nil {
		return nil, fmt.Errorf("max_item_size: %w", err)
	}
	capacity, err := parseByteSize(v.GetString("capacity"))
	if err != nil {
		return nil, fmt.Errorf("capacity: %w", err)
	}
	level, err := zerolog.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}

	cfg := &Config{
		SQLite: SQLiteConfig{
			Path:     v.GetString("sqlite.path"),
			Disabled: v.GetBool("sqlite.disabled"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		KeyPrefix:     v.GetString("key_prefix"),
		MaxItemSize:   maxItemSize,
		Capacity:      capacity,
		SweepInterval: v.GetDuration("sweep_interval"),
		LogLevel:      level,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if !c.SQLite.Disabled && c.SQLite.Path == "" {
		errs = append(errs, errors.New("sqlite.path is required unless sqlite.disabled is set"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be greater than zero"))
	}
	if c.MaxItemSize == 0 {
		errs = append(errs, errors.New("max_item_size must be greater than zero"))
	}
	if c.Capacity == 0 {
		errs = append(errs, errors.New("capacity must be greater than zero"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseByteSize(value string) (datasize.ByteSize, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, err
	}
	return size, nil
}

// Open builds a cache and its sweeper from cfg. The sweeper is returned
// unstarted; the caller owns Start/Stop and TieredCache.Close.
func Open[V any](cfg *Config, logger *zerolog.Logger) (*TieredCache[V], *Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var store StringStore
	if cfg.Redis.Addr != "" {
		redisStore, err := NewRedisStringStore(&RedisStringStoreOptions{
			RedisOptions: &redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create redis store: %w", err)
		}
		store = redisStore
	} else {
		store = NewLocalStringStore(&LocalStringStoreOptions{Capacity: cfg.Capacity})
	}

	fallback, err := NewKeyValueStorageBackend[V](&KeyValueStorageBackendOptions{
		Store:       store,
		KeyPrefix:   cfg.KeyPrefix,
		MaxItemSize: cfg.MaxItemSize,
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	options := &TieredCacheOptions[V]{
		Fallback: fallback,
		Logger:   logger,
	}
	if !cfg.SQLite.Disabled {
		options.Structured = NewSQLiteStorageBackend[V](&SQLiteStorageBackendOptions{
			DSN:    cfg.SQLite.Path,
			Logger: logger,
		})
	}

	c, err := NewTieredCache[V](options)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	sweeper, err := NewSweeper(SweeperParams{
		Cache:    c,
		Interval: cfg.SweepInterval,
		Logger:   logger,
	})
	if err != nil {
		c.Close()
		return nil, nil, err
	}

	return c, sweeper, nil
}
