// Package store provides storage backends for FormPipe.
//
// This file implements the PostgreSQL-backed row store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Insert adds one row to the named table.
func (s *PostgresStore) Insert(ctx context.Context, table string, values map[string]any) error {
	if err := checkIdentifiers(table, values); err != nil {
		return err
	}
	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("PostgresStore Insert failed", "error", err, "table", table)
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	slog.Debug("PostgresStore Insert succeeded", "table", table, "columns", len(cols))
	return nil
}

// Update mutates all rows matching where with the given values.
func (s *PostgresStore) Update(ctx context.Context, table string, values, where map[string]any) error {
	if err := checkIdentifiers(table, values, where); err != nil {
		return err
	}
	setCols := sortedKeys(values)
	whereCols := sortedKeys(where)
	var args []any
	n := 1
	sets := make([]string, len(setCols))
	for i, c := range setCols {
		sets[i] = fmt.Sprintf("%s = $%d", c, n)
		args = append(args, values[c])
		n++
	}
	conds := make([]string, len(whereCols))
	for i, c := range whereCols {
		conds[i] = fmt.Sprintf("%s = $%d", c, n)
		args = append(args, where[c])
		n++
	}
	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("PostgresStore Update failed", "error", err, "table", table)
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	slog.Debug("PostgresStore Update succeeded", "table", table)
	return nil
}

// Select returns all rows matching where by exact column match.
func (s *PostgresStore) Select(ctx context.Context, table string, where map[string]any) ([]map[string]any, error) {
	if err := checkIdentifiers(table, where); err != nil {
		return nil, err
	}
	whereCols := sortedKeys(where)
	var args []any
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if len(whereCols) > 0 {
		conds := make([]string, len(whereCols))
		for i, c := range whereCols {
			conds[i] = fmt.Sprintf("%s = $%d", c, i+1)
			args = append(args, where[c])
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore Select query failed", "error", err, "table", table)
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		slog.Error("PostgresStore Select scan failed", "error", err, "table", table)
		return nil, err
	}
	slog.Debug("PostgresStore Select succeeded", "table", table, "count", len(out))
	return out, nil
}

// IsScriptEnabled reports the gating toggle for a script kind, defaulting
// to enabled when no toggle row exists.
func (s *PostgresStore) IsScriptEnabled(ctx context.Context, kind string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM script_toggles WHERE kind = $1`, kind).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		slog.Error("PostgresStore IsScriptEnabled failed", "error", err, "kind", kind)
		return false, fmt.Errorf("failed to read script toggle for %s: %w", kind, err)
	}
	return enabled, nil
}

// SetScriptEnabled stores the gating toggle for a script kind.
func (s *PostgresStore) SetScriptEnabled(ctx context.Context, kind string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO script_toggles (kind, enabled) VALUES ($1, $2)
		 ON CONFLICT (kind) DO UPDATE SET enabled = EXCLUDED.enabled`, kind, enabled)
	if err != nil {
		slog.Error("PostgresStore SetScriptEnabled failed", "error", err, "kind", kind)
		return fmt.Errorf("failed to store script toggle for %s: %w", kind, err)
	}
	slog.Debug("PostgresStore SetScriptEnabled succeeded", "kind", kind, "enabled", enabled)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
