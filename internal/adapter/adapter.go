// Package adapter provides database adapter interfaces and implementations
// for the embedded query engine behind a query session.
package adapter

import (
	"context"
)

// Config holds the configuration for connecting to a database.
type Config struct {
	// Type specifies the database type (e.g., "duckdb")
	Type string

	// Path is the file path for file-based databases.
	// Use ":memory:" (or leave empty) for in-memory databases
	Path string

	// Threads caps engine parallelism when greater than zero
	Threads int

	// Options contains additional driver-specific options
	Options map[string]string
}

// Result is a fully materialized query result.
type Result struct {
	// Columns holds the result column names in select order
	Columns []string

	// Rows holds one map per row keyed by column name
	Rows []map[string]any
}

// Adapter defines the interface that all database adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement and returns every row it produces.
	Query(ctx context.Context, sql string) (*Result, error)

	// DialectName returns the SQL dialect name for this adapter.
	DialectName() string
}
