package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/playserver/internal/config"
)

func TestHealthCheckFailsWhenUninitialized(t *testing.T) {
	old := DB
	DB = nil
	defer func() { DB = old }()

	err := HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestHealthCheckPassesAgainstOpenConnection(t *testing.T) {
	old := DB
	defer func() { DB = old }()

	cfg := config.DatabaseConfig{DatabasePath: ":memory:"}
	db, err := connectSQLite(cfg)
	require.NoError(t, err)

	DB = db
	assert.NoError(t, HealthCheck())
	assert.Same(t, db, GetDB())
}

func TestConnectSQLiteOpensUsableConnection(t *testing.T) {
	cfg := config.DatabaseConfig{
		DatabasePath:    ":memory:",
		MaxOpenConns:    7,
		MaxIdleConns:    3,
		ConnMaxLifetime: time.Minute,
	}
	db, err := connectSQLite(cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
}
