package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/cartsync/internal/infrastructure/config"
)

func TestFactory_Open(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		cfg    config.StoreConfig
		expect any
	}{
		{"memory", config.StoreConfig{Driver: "memory"}, &MemoryStore{}},
		{"file", config.StoreConfig{Driver: "file", Path: filepath.Join(dir, "files")}, &FileStore{}},
		{"sqlite", config.StoreConfig{Driver: "sqlite", Path: filepath.Join(dir, "db")}, &SQLiteStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFactory(tt.cfg, WithSQLLogLevel("silent")).Open()
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.expect, store)
		})
	}
}

func TestFactory_RedisUnavailable(t *testing.T) {
	cfg := config.StoreConfig{
		Driver: "redis",
		Redis:  config.RedisConfig{Host: "127.0.0.1", Port: 1},
	}

	_, err := NewFactory(cfg).Open()
	assert.Error(t, err)

	store, err := NewFactory(cfg, WithMemoryFallback(true)).Open()
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestFactory_UnknownDriver(t *testing.T) {
	_, err := NewFactory(config.StoreConfig{Driver: "etcd"}).Open()
	assert.Error(t, err)
}
