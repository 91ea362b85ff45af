package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/config"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr bool
	}{
		{"postgres", "postgres", false},
		{"mysql", "mysql", false},
		{"sqlite", "sqlite", false},
		{"sqlite3", "sqlite", false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.DefaultDatabaseConfig()
			cfg.Driver = tt.driver
			d, err := Dialector(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}

func TestOpen_SQLiteInMemory(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: "file::memory:"}

	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)

	manager, err := NewPoolManager(db, PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 1, MaxIdleConns: 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Stats().MaxOpenConnections)
	require.NoError(t, manager.Close())
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DefaultDatabaseConfig())
	assert.Equal(t, 25, pc.MaxOpenConns)
	assert.Equal(t, 5, pc.MaxIdleConns)
	assert.NoError(t, pc.Validate())

	// 未设置的字段使用默认值
	pc = PoolConfigFrom(config.DatabaseConfig{})
	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, pc.MaxOpenConns)
	assert.Zero(t, pc.HealthCheckInterval)
}
