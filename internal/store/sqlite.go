// Package store provides storage backends for FormPipe.
//
// This file implements the SQLite-backed row store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Insert adds one row to the named table.
func (s *SQLiteStore) Insert(ctx context.Context, table string, values map[string]any) error {
	if err := checkIdentifiers(table, values); err != nil {
		return err
	}
	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("SQLiteStore Insert failed", "error", err, "table", table)
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	slog.Debug("SQLiteStore Insert succeeded", "table", table, "columns", len(cols))
	return nil
}

// Update mutates all rows matching where with the given values.
func (s *SQLiteStore) Update(ctx context.Context, table string, values, where map[string]any) error {
	if err := checkIdentifiers(table, values, where); err != nil {
		return err
	}
	setCols := sortedKeys(values)
	whereCols := sortedKeys(where)
	var args []any
	sets := make([]string, len(setCols))
	for i, c := range setCols {
		sets[i] = c + " = ?"
		args = append(args, values[c])
	}
	conds := make([]string, len(whereCols))
	for i, c := range whereCols {
		conds[i] = c + " = ?"
		args = append(args, where[c])
	}
	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("SQLiteStore Update failed", "error", err, "table", table)
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	slog.Debug("SQLiteStore Update succeeded", "table", table)
	return nil
}

// Select returns all rows matching where by exact column match.
func (s *SQLiteStore) Select(ctx context.Context, table string, where map[string]any) ([]map[string]any, error) {
	if err := checkIdentifiers(table, where); err != nil {
		return nil, err
	}
	whereCols := sortedKeys(where)
	var args []any
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if len(whereCols) > 0 {
		conds := make([]string, len(whereCols))
		for i, c := range whereCols {
			conds[i] = c + " = ?"
			args = append(args, where[c])
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore Select query failed", "error", err, "table", table)
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		slog.Error("SQLiteStore Select scan failed", "error", err, "table", table)
		return nil, err
	}
	slog.Debug("SQLiteStore Select succeeded", "table", table, "count", len(out))
	return out, nil
}

// IsScriptEnabled reports the gating toggle for a script kind, defaulting
// to enabled when no toggle row exists.
func (s *SQLiteStore) IsScriptEnabled(ctx context.Context, kind string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM script_toggles WHERE kind = ?`, kind).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		slog.Error("SQLiteStore IsScriptEnabled failed", "error", err, "kind", kind)
		return false, fmt.Errorf("failed to read script toggle for %s: %w", kind, err)
	}
	return enabled, nil
}

// SetScriptEnabled stores the gating toggle for a script kind.
func (s *SQLiteStore) SetScriptEnabled(ctx context.Context, kind string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO script_toggles (kind, enabled) VALUES (?, ?)`, kind, enabled)
	if err != nil {
		slog.Error("SQLiteStore SetScriptEnabled failed", "error", err, "kind", kind)
		return fmt.Errorf("failed to store script toggle for %s: %w", kind, err)
	}
	slog.Debug("SQLiteStore SetScriptEnabled succeeded", "kind", kind, "enabled", enabled)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
