// Package testutil wires real backing stores for package tests: a gorm SQLite file
// per test and an in-process miniredis.
package testutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/internal/platform/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Logger returns a logger that discards everything.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// NewDB opens a fresh SQLite database and migrates models into it.
func NewDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_foreign_keys=1"
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, Logger())
	require.NoError(t, err)
	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// NewRedis starts a miniredis server and a client pointed at it.
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AssertDecimal compares decimals by value, so "180" equals "180.00".
func AssertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, Dec(want).Equal(got), "want %s got %s", want, got.String())
}
