package localstore

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/infrastructure/config"
	"github.com/storefront/cartsync/internal/infrastructure/telemetry"
)

// Factory creates the configured Store
type Factory struct {
	cfg              config.StoreConfig
	logger           *zap.Logger
	tracing          telemetry.DBTracingConfig
	logLevel         string
	allowMemFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory and the stores it creates
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithDBTracing enables otelgorm tracing on the sqlite store
func WithDBTracing(cfg telemetry.DBTracingConfig) FactoryOption {
	return func(f *Factory) {
		f.tracing = cfg
	}
}

// WithSQLLogLevel sets the gorm log level of the sqlite store
func WithSQLLogLevel(level string) FactoryOption {
	return func(f *Factory) {
		f.logLevel = level
	}
}

// WithMemoryFallback controls whether an unreachable Redis degrades to an
// in-memory store. Default is false.
func WithMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowMemFallback = allow
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.StoreConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:     cfg,
		logger:  zap.NewNop(),
		tracing: telemetry.DefaultDBTracingConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open creates the store selected by cfg.Driver
func (f *Factory) Open() (Store, error) {
	switch f.cfg.Driver {
	case "memory":
		f.logger.Info("using in-memory local store")
		return NewMemoryStore(), nil
	case "file", "":
		f.logger.Info("using file local store", zap.String("dir", f.cfg.Path))
		return NewFileStore(f.cfg.Path)
	case "sqlite":
		path := f.cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "cartsync.db")
		}
		f.logger.Info("using sqlite local store", zap.String("path", path))
		return NewSQLiteStore(SQLiteOptions{
			Path:     path,
			LogLevel: f.logLevel,
			Tracing:  f.tracing,
			Logger:   f.logger,
		})
	case "redis":
		return f.openRedis()
	default:
		return nil, fmt.Errorf("unknown local store driver %q", f.cfg.Driver)
	}
}

func (f *Factory) openRedis() (Store, error) {
	store, err := NewRedisStore(RedisOptions{
		Addr:      f.cfg.Redis.Addr(),
		Password:  f.cfg.Redis.Password,
		DB:        f.cfg.Redis.DB,
		KeyPrefix: f.cfg.Redis.KeyPrefix,
	})
	if err == nil {
		f.logger.Info("using Redis local store", zap.String("addr", f.cfg.Redis.Addr()))
		return store, nil
	}
	if !f.allowMemFallback {
		return nil, fmt.Errorf("redis local store unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory local store. "+
		"The guest cart and credential will not survive a restart.",
		zap.Error(err),
	)
	return NewMemoryStore(), nil
}
