// Package repositories provides PostgreSQL-backed implementations of the
// domain repository interfaces.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// queryExecutor abstracts sql.DB and sql.Tx.
type queryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// isUniqueViolation reports whether err is a postgres unique constraint
// failure, optionally on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// nullTime converts *time.Time to its sql representation.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts back, preserving nil for unset columns.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// intSlice adapts []int for = ANY($n) parameters.
func intSlice(vals []int) interface{} {
	arr := make(pq.Int64Array, len(vals))
	for i, v := range vals {
		arr[i] = int64(v)
	}
	return arr
}
