// Package sqlstore is the relational store for price rows and analysis
// results. SQLite (modernc, pure Go) and PostgreSQL (pgx) share one set of
// queries; every write is a single INSERT ... ON CONFLICT DO UPDATE so
// concurrent writers for the same key never produce duplicates.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialects accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Config configures the store.
type Config struct {
	Driver string // sqlite | postgres
	DSN    string // file path for sqlite, URL or key=value DSN for postgres

	MaxOpenConns int // postgres only; sqlite always uses a single connection
}

// Store wraps a *sql.DB with dialect-aware queries.
type Store struct {
	db      *sql.DB
	dialect string
	log     *slog.Logger
}

// Open connects, configures the pool and applies the schema.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DialectSQLite, "":
		cfg.Driver = DialectSQLite
		db, err = openSQLite(cfg.DSN)
	case DialectPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil {
			n := cfg.MaxOpenConns
			if n == 0 {
				n = 10
			}
			db.SetMaxOpenConns(n)
			db.SetMaxIdleConns(n)
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", cfg.Driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", cfg.Driver, err)
	}

	s := &Store{db: db, dialect: cfg.Driver, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s schema: %w", cfg.Driver, err)
	}

	log.Info("database opened", "driver", cfg.Driver)
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "data/stockvision.db"
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer; also keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_rows (
		ticker       TEXT    NOT NULL,
		trading_date TEXT    NOT NULL,
		open         NUMERIC NOT NULL DEFAULT 0,
		high         NUMERIC NOT NULL DEFAULT 0,
		low          NUMERIC NOT NULL DEFAULT 0,
		close        NUMERIC NOT NULL DEFAULT 0,
		volume       INTEGER NOT NULL DEFAULT 0,
		updated_at   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
		PRIMARY KEY (ticker, trading_date)
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		ticker        TEXT NOT NULL,
		analysis_date TEXT NOT NULL,
		analysis_type TEXT NOT NULL,
		result_json   TEXT NOT NULL,
		updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
		PRIMARY KEY (ticker, analysis_date, analysis_type)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_rows (
		ticker       TEXT          NOT NULL,
		trading_date DATE          NOT NULL,
		open         NUMERIC(18,6) NOT NULL DEFAULT 0,
		high         NUMERIC(18,6) NOT NULL DEFAULT 0,
		low          NUMERIC(18,6) NOT NULL DEFAULT 0,
		close        NUMERIC(18,6) NOT NULL DEFAULT 0,
		volume       BIGINT        NOT NULL DEFAULT 0,
		updated_at   TIMESTAMPTZ   NOT NULL DEFAULT now(),
		PRIMARY KEY (ticker, trading_date)
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		ticker        TEXT        NOT NULL,
		analysis_date DATE        NOT NULL,
		analysis_type TEXT        NOT NULL,
		result_json   JSONB       NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (ticker, analysis_date, analysis_type)
	)`,
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
