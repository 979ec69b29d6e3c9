package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrClosed is returned for any use of an adapter after Close.
var ErrClosed = errors.New("database: adapter closed")

// ConnectionError means the backend could not be reached: unreachable host,
// auth failure or a malformed connection string.
type ConnectionError struct {
	Backend Backend
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database: connect %s: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError wraps the driver error of a failed statement.
type QueryError struct {
	Backend   Backend
	Statement string
	Err       error

	// Retryable is set for timeouts and transient connection loss.
	Retryable bool
	// Conflict is set for unique constraint violations.
	Conflict bool
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("database: query on %s: %v", e.Backend, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a unique constraint violation.
func IsConflict(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Conflict
}

// IsRetryable reports whether err is worth retrying on a later invocation.
func IsRetryable(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Retryable
}

func newQueryError(backend Backend, stmt string, err error) *QueryError {
	qe := &QueryError{Backend: backend, Statement: stmt, Err: err}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		qe.Retryable = true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			qe.Conflict = true
		case "40001", "40P01", "57014":
			qe.Retryable = true
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			qe.Conflict = true
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			qe.Retryable = true
		}
	}

	if mongo.IsDuplicateKeyError(err) {
		qe.Conflict = true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		qe.Retryable = true
	}

	return qe
}
