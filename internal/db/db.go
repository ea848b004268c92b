// Package db opens the postgres database that backs the pgvector store and
// the persistent embedding cache.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultPort    = 5432
	maxOpenConns   = 8
	connMaxIdle    = 5 * time.Minute
	connectTimeout = 10 * time.Second
)

func dsnOf(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.DBName, sslmode)
}

// Open connects and pings; a server that does not answer within
// connectTimeout is an error rather than a hang at startup.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsnOf(cfg))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetConnMaxIdleTime(connMaxIdle)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

// ApplyMigrations runs every embedded migration not yet recorded in
// schema_migrations, in file name order, each inside its own transaction.
func ApplyMigrations(conn *sql.DB) error {
	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		version := strings.TrimSuffix(strings.TrimPrefix(file, "migrations/"), ".sql")
		if applied[version] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, file)
		if err != nil {
			return err
		}
		if err := applyOne(ctx, conn, version, string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", version, err)
		}
		logutil.GetLogger(ctx).Info("postgres migration applied", zap.String("version", version))
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.DB) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func applyOne(ctx context.Context, conn *sql.DB, version, content string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
		version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}
