package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Adapter { return NewDuckDBAdapter(logger) })
}

// DuckDBAdapter implements the Adapter interface for DuckDB.
type DuckDBAdapter struct {
	BaseSQLAdapter
}

// NewDuckDBAdapter creates a new DuckDB adapter instance.
// The logger parameter is optional (nil uses a discard logger).
func NewDuckDBAdapter(logger *slog.Logger) *DuckDBAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDBAdapter{BaseSQLAdapter: BaseSQLAdapter{Logger: logger}}
}

// NewDuckDBAdapterWithDB wraps an already opened database handle.
func NewDuckDBAdapterWithDB(db *sql.DB, logger *slog.Logger) *DuckDBAdapter {
	a := NewDuckDBAdapter(logger)
	a.DB = db
	return a
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	dsn := duckDBDSN(cfg)

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.Logger.Debug("connected to duckdb", "path", dsnPath(cfg), "threads", cfg.Threads)

	return nil
}

// DialectName returns the SQL dialect name for DuckDB.
func (a *DuckDBAdapter) DialectName() string {
	return "duckdb"
}

// duckDBDSN builds a connection string. An empty path means in-memory.
func duckDBDSN(cfg Config) string {
	params := url.Values{}
	for k, v := range cfg.Options {
		params.Set(k, v)
	}
	if cfg.Threads > 0 {
		params.Set("threads", strconv.Itoa(cfg.Threads))
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	if len(params) == 0 {
		return path
	}

	return path + "?" + params.Encode()
}

func dsnPath(cfg Config) string {
	if cfg.Path == "" {
		return ":memory:"
	}
	return cfg.Path
}
