// Package store provides storage backends for FormPipe.
//
// It implements a generic row store (insert/update/select by column match)
// over SQLite, PostgreSQL, or memory, plus the script gating toggles. The
// conversation engine writes exactly one row per completed conversation;
// everything else is administrative bookkeeping.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Store is the row-store contract consumed by the conversation engine and
// the game context.
type Store interface {
	// Insert adds one row to the named table.
	Insert(ctx context.Context, table string, values map[string]any) error

	// Update mutates all rows matching where with the given values.
	Update(ctx context.Context, table string, values, where map[string]any) error

	// Select returns all rows matching where by exact column match. An empty
	// where returns every row.
	Select(ctx context.Context, table string, where map[string]any) ([]map[string]any, error)

	// IsScriptEnabled reports whether conversations of the given kind may be
	// started. Kinds without a stored toggle are enabled.
	IsScriptEnabled(ctx context.Context, kind string) (bool, error)

	// SetScriptEnabled stores the gating toggle for a script kind.
	SetScriptEnabled(ctx context.Context, kind string, enabled bool) error

	// Close releases the underlying backend.
	Close() error
}

// Opts holds configuration options for storage backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for storage backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" for PostgreSQL
// connection strings, "sqlite" otherwise (file paths are treated as SQLite
// databases).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// identifierPattern restricts table and column names reaching SQL text.
// Scripts are validated at load time, so a violation here is a programming
// error rather than user input.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdentifier returns an error if name cannot be used as a SQL
// identifier.
func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

// sortedKeys returns the map's keys in stable order so generated SQL is
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkIdentifiers validates a table name and every column key in the given
// maps.
func checkIdentifiers(table string, maps ...map[string]any) error {
	if err := validIdentifier(table); err != nil {
		return err
	}
	for _, m := range maps {
		for k := range m {
			if err := validIdentifier(k); err != nil {
				return err
			}
		}
	}
	return nil
}
