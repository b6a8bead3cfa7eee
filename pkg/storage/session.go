package storage

import (
	"context"

	"github.com/ammar0144/rel4go/pkg/query"
)

// Session is one transactional unit of work against a record store. The
// repository engine receives a Session on every call and never begins,
// commits, or rolls back on its own; transaction boundaries belong to the
// caller. All writes performed through one Session must become visible to
// subsequent reads on the same Session before commit (read-your-writes),
// because nested persistence reads back parent keys it has just flushed.
type Session interface {
	// SelectRecords runs a read described by q and returns matching rows
	SelectRecords(ctx context.Context, q query.Query) ([]Record, error)

	// CountRecords returns the number of rows matching q, ignoring the
	// query's paging
	CountRecords(ctx context.Context, q query.Query) (int64, error)

	// InsertRecord writes one row and returns the assigned primary key.
	// The key is generated according to the owning entity's declared
	// primary-key kind and is durable within the session immediately
	// (flush semantics) so children may reference it before commit.
	InsertRecord(ctx context.Context, table string, fields Record) (interface{}, error)

	// UpdateRecords applies the field changes to every row matching the
	// conditions and returns the affected-row count. A caller that needs
	// an atomic conditional update expresses the expectation as a
	// condition and inspects the count.
	UpdateRecords(ctx context.Context, table string, conditions []query.Condition, fields Record) (int64, error)

	// DeleteRecords physically removes matching rows and returns the count
	DeleteRecords(ctx context.Context, table string, conditions []query.Condition) (int64, error)

	// InsertLink writes one junction-table row linking two records
	InsertLink(ctx context.Context, table string, leftColumn string, leftID interface{}, rightColumn string, rightID interface{}) error

	// DeleteLinks removes junction rows matching the conditions
	DeleteLinks(ctx context.Context, table string, conditions []query.Condition) (int64, error)
}

// Tx is a Session the caller can finish
type Tx interface {
	Session

	// Commit makes the session's writes durable
	Commit() error

	// Rollback discards the session's writes. Safe to call after Commit;
	// it is a no-op then, which permits the usual defer pattern.
	Rollback() error
}

// Store hands out transactional sessions
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}
