package database

import (
	"context"
	"database/sql"
	"log"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// sqlRunner is satisfied by both *sqlx.DB and *sqlx.Tx.
type sqlRunner interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

type sqlAdapter struct {
	cfg        Config
	backend    Backend
	driverName string

	mu     sync.RWMutex
	db     *sqlx.DB
	closed bool
}

func newSQLAdapter(cfg Config, backend Backend, driverName string) *sqlAdapter {
	return &sqlAdapter{cfg: cfg, backend: backend, driverName: driverName}
}

func (a *sqlAdapter) Backend() Backend { return a.backend }

func (a *sqlAdapter) Initialize(ctx context.Context) error {
	_, err := a.handle(ctx)
	return err
}

// handle returns the cached pool, opening it on first use.
func (a *sqlAdapter) handle(ctx context.Context) (*sqlx.DB, error) {
	a.mu.RLock()
	db, closed := a.db, a.closed
	a.mu.RUnlock()
	if db != nil {
		return db, nil
	}
	if closed {
		return nil, &ConnectionError{Backend: a.backend, Err: ErrClosed}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db, nil
	}
	if a.closed {
		return nil, &ConnectionError{Backend: a.backend, Err: ErrClosed}
	}

	db, err := sqlx.Open(a.driverName, a.cfg.DSN)
	if err != nil {
		return nil, &ConnectionError{Backend: a.backend, Err: err}
	}
	if a.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.cfg.MaxOpenConns)
	}
	if a.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(a.cfg.MaxIdleConns)
	}
	if a.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(a.cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := withTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Backend: a.backend, Err: err}
	}

	log.Printf("✅ [DB] %s pool initialized (max open: %d)", a.backend, a.cfg.MaxOpenConns)
	a.db = db
	return db, nil
}

func (a *sqlAdapter) Query(ctx context.Context, stmt string, params Params) (RowSet, error) {
	db, err := a.handle(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()
	return runSQL(ctx, db, a.backend, stmt, params)
}

func (a *sqlAdapter) Snapshot(ctx context.Context, fn func(q Querier) error) error {
	db, err := a.handle(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	// SQLite transactions are serializable already and the driver ignores
	// isolation options, so only Postgres gets explicit ones.
	var opts *sql.TxOptions
	if a.backend == BackendPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return newQueryError(a.backend, "BEGIN", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTxQuerier{tx: tx, backend: a.backend}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newQueryError(a.backend, "COMMIT", err)
	}
	return nil
}

// SQLDB exposes the shared pool for libraries that need a *sql.DB.
func (a *sqlAdapter) SQLDB(ctx context.Context) (*sql.DB, error) {
	db, err := a.handle(ctx)
	if err != nil {
		return nil, err
	}
	return db.DB, nil
}

func (a *sqlAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		return &ConnectionError{Backend: a.backend, Err: err}
	}
	log.Printf("🛑 [DB] %s pool closed", a.backend)
	return nil
}

type sqlTxQuerier struct {
	tx      *sqlx.Tx
	backend Backend
}

func (q *sqlTxQuerier) Query(ctx context.Context, stmt string, params Params) (RowSet, error) {
	return runSQL(ctx, q.tx, q.backend, stmt, params)
}

// runSQL binds named params, rebinds to the driver's placeholder style and
// scans every row into a map.
func runSQL(ctx context.Context, r sqlRunner, backend Backend, stmt string, params Params) (RowSet, error) {
	query, args, err := sqlx.Named(stmt, map[string]any(params))
	if err != nil {
		return nil, &QueryError{Backend: backend, Statement: stmt, Err: err}
	}

	rows, err := r.QueryxContext(ctx, r.Rebind(query), args...)
	if err != nil {
		return nil, newQueryError(backend, stmt, err)
	}
	defer rows.Close()

	var out RowSet
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, newQueryError(backend, stmt, err)
		}
		out = append(out, normalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, newQueryError(backend, stmt, err)
	}
	return out, nil
}

func normalizeRow(m map[string]any) Row {
	row := make(Row, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
			continue
		}
		row[k] = v
	}
	return row
}
