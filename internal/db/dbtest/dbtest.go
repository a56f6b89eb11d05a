// Package dbtest opens migrated databases for package tests.
package dbtest

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db"
)

// OpenSQLite returns a migrated sqlite database living in t.TempDir().
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	return open(t, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "kbchat.db"),
	})
}

// OpenPostgres connects to TEST_DB_HOST and skips the test when unset.
func OpenPostgres(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set")
	}
	return open(t, config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     5432,
		User:     "kbchat",
		Password: "kbchat_pass",
		DBName:   "kbchat_test",
	})
}

func open(t *testing.T, cfg config.DatabaseConfig) *sql.DB {
	t.Helper()
	conn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open %s: %v", cfg.Driver, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.ApplyMigrations(conn, cfg.Driver); err != nil {
		t.Fatalf("migrate %s: %v", cfg.Driver, err)
	}
	return conn
}
