package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Open connects using the configured driver and verifies the connection.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	driverName, dsn, err := connInfo(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == dbutil.DriverSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return conn, nil
}

func connInfo(cfg config.DatabaseConfig) (string, string, error) {
	switch cfg.Driver {
	case dbutil.DriverSQLite:
		if cfg.DSN != "" {
			return "sqlite", cfg.DSN, nil
		}
		return "sqlite", "file:" + cfg.Path + "?" + sqlitePragmas, nil
	case dbutil.DriverPostgres:
		if cfg.DSN != "" {
			return "postgres", cfg.DSN, nil
		}
		ssl := cfg.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, ssl), nil
	}
	return "", "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// ApplyMigrations runs the embedded scripts for driver in file name order.
// Statements failing with "already exists" are skipped so reruns are safe.
func ApplyMigrations(conn *sql.DB, driver string) error {
	dir := path.Join("migrations", driver)
	names, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		raw, err := fs.ReadFile(migrationsFS, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range statements(string(raw)) {
			if _, err := conn.Exec(stmt); err != nil && !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func statements(script string) []string {
	parts := strings.Split(script, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
