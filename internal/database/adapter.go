// Package database normalizes connection lifecycle and query execution across
// the relational (Postgres, SQLite) and document (MongoDB) backends.
//
// One Adapter is built at startup by New and passed explicitly to every
// component that needs database access. Statements are backend specific text
// (SQL, or a MongoDB command in extended JSON), but parameters are always
// bound by name using ":name" placeholders and results always come back as a
// RowSet.
package database

import (
	"context"
	"fmt"
	"time"
)

type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
	BackendMongo    Backend = "mongo"
)

// Relational reports whether statements for this backend are SQL.
func (b Backend) Relational() bool {
	return b == BackendPostgres || b == BackendSQLite
}

// Params are named statement parameters, referenced as ":name".
type Params map[string]any

// Row is one result row: column (or field) name to value.
type Row map[string]any

// RowSet is an ordered sequence of rows.
type RowSet []Row

// Querier executes a single parameterized statement.
type Querier interface {
	Query(ctx context.Context, stmt string, params Params) (RowSet, error)
}

// Adapter is a pooled database handle.
type Adapter interface {
	Querier

	// Initialize establishes the pool. It is idempotent: once initialized,
	// further calls return immediately. Query initializes lazily as well.
	Initialize(ctx context.Context) error

	// Snapshot runs fn against a consistent read view. On relational
	// backends this is one read-only transaction; on the document backend
	// every record is a single document, so each read is atomic per record.
	Snapshot(ctx context.Context, fn func(q Querier) error) error

	Backend() Backend

	// Close releases all pooled resources. Safe to call more than once.
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Driver          string
	DSN             string
	Database        string // MongoDB database name
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

// New returns the adapter variant for cfg.Driver. It does not connect.
func New(cfg Config) (Adapter, error) {
	if cfg.DSN == "" {
		return nil, &ConnectionError{Backend: Backend(cfg.Driver), Err: fmt.Errorf("empty connection string")}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	switch cfg.Driver {
	case "postgres", "pgx":
		return newSQLAdapter(cfg, BackendPostgres, "pgx"), nil
	case "sqlite", "sqlite3":
		return newSQLAdapter(cfg, BackendSQLite, "sqlite3"), nil
	case "mongo", "mongodb":
		return newMongoAdapter(cfg), nil
	default:
		return nil, &ConnectionError{Backend: Backend(cfg.Driver), Err: fmt.Errorf("unsupported driver %q", cfg.Driver)}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
