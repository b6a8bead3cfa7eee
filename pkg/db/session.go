package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ammar0144/rel4go/pkg/query"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// ErrTxFinished is returned when a finished transaction is committed again
var ErrTxFinished = errors.New("transaction already finished")

var _ storage.Tx = (*sqlTx)(nil)

// sqlTx is one database transaction exposed through the storage contract.
// Reads see the transaction's own uncommitted writes, which nested
// persistence relies on when children reference freshly flushed parent keys.
type sqlTx struct {
	db           *gorm.DB
	catalog      *schema.Catalog
	queryTimeout time.Duration
	done         bool
}

// scoped applies the configured per-statement deadline
func (t *sqlTx) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.queryTimeout > 0 {
		return context.WithTimeout(ctx, t.queryTimeout)
	}
	return ctx, func() {}
}

func (t *sqlTx) SelectRecords(ctx context.Context, q query.Query) ([]storage.Record, error) {
	sctx, cancel := t.scoped(ctx)
	defer cancel()

	stmt, err := t.readStatement(sctx, q)
	if err != nil {
		return nil, err
	}
	for _, s := range q.Sorts {
		expr, err := orderExpr(s)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Order(expr)
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}
	if q.Offset > 0 {
		stmt = stmt.Offset(q.Offset)
	}

	var rows []map[string]interface{}
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select failed: %w", err)
	}
	out := make([]storage.Record, len(rows))
	for i, row := range rows {
		out[i] = normalizeRow(row)
	}
	return out, nil
}

func (t *sqlTx) CountRecords(ctx context.Context, q query.Query) (int64, error) {
	sctx, cancel := t.scoped(ctx)
	defer cancel()

	stmt, err := t.readStatement(sctx, q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := stmt.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// readStatement builds the conditioned statement shared by select and count
func (t *sqlTx) readStatement(ctx context.Context, q query.Query) (*gorm.DB, error) {
	if err := validIdent(q.Table); err != nil {
		return nil, err
	}
	stmt := t.db.WithContext(ctx).Table(q.Table)
	where, args, err := buildWhere(q.Conditions)
	if err != nil {
		return nil, err
	}
	if where != "" {
		stmt = stmt.Where(where, args...)
	}
	return stmt, nil
}

func (t *sqlTx) InsertRecord(ctx context.Context, table string, fields storage.Record) (interface{}, error) {
	entity, ok := t.catalog.EntityByTable(table)
	if !ok {
		return nil, fmt.Errorf("table %s is not declared in the catalog", table)
	}

	row := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		row[k] = v
	}

	if id, present := row[entity.PrimaryKey]; present && id != nil {
		if err := t.create(ctx, table, row); err != nil {
			return nil, err
		}
		return id, nil
	}
	delete(row, entity.PrimaryKey)

	if entity.PrimaryKeyKind == schema.PrimaryKeyUUID {
		id := uuid.NewString()
		row[entity.PrimaryKey] = id
		if err := t.create(ctx, table, row); err != nil {
			return nil, err
		}
		return id, nil
	}

	// auto-increment: the server assigns the key during INSERT
	if err := t.create(ctx, table, row); err != nil {
		return nil, err
	}
	sctx, cancel := t.scoped(ctx)
	defer cancel()
	var id int64
	if err := t.db.WithContext(sctx).Raw("SELECT LAST_INSERT_ID()").Scan(&id).Error; err != nil {
		return nil, fmt.Errorf("failed to read assigned key: %w", err)
	}
	return id, nil
}

func (t *sqlTx) UpdateRecords(ctx context.Context, table string, conditions []query.Condition, fields storage.Record) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(conditions)
	if err != nil {
		return 0, err
	}
	if where == "" {
		where = "1 = 1" // scope explicitly; GORM refuses unconditioned updates
	}

	sctx, cancel := t.scoped(ctx)
	defer cancel()
	res := t.db.WithContext(sctx).Table(table).Where(where, args...).Updates(map[string]interface{}(fields))
	if res.Error != nil {
		return 0, fmt.Errorf("update failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (t *sqlTx) DeleteRecords(ctx context.Context, table string, conditions []query.Condition) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(conditions)
	if err != nil {
		return 0, err
	}
	if where == "" {
		where = "1 = 1"
	}

	sctx, cancel := t.scoped(ctx)
	defer cancel()
	res := t.db.WithContext(sctx).Table(table).Where(where, args...).Delete(nil)
	if res.Error != nil {
		return 0, fmt.Errorf("delete failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (t *sqlTx) InsertLink(ctx context.Context, table string, leftColumn string, leftID interface{}, rightColumn string, rightID interface{}) error {
	if err := validIdent(leftColumn); err != nil {
		return err
	}
	if err := validIdent(rightColumn); err != nil {
		return err
	}
	return t.create(ctx, table, map[string]interface{}{
		leftColumn:  leftID,
		rightColumn: rightID,
	})
}

func (t *sqlTx) DeleteLinks(ctx context.Context, table string, conditions []query.Condition) (int64, error) {
	return t.DeleteRecords(ctx, table, conditions)
}

// Commit makes the transaction's writes durable. A second Commit is an error.
func (t *sqlTx) Commit() error {
	if t.done {
		return ErrTxFinished
	}
	if err := t.db.Commit().Error; err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	t.done = true
	return nil
}

// Rollback discards the transaction's writes; a no-op after Commit
func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.db.Rollback().Error; err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

// create runs a map-based INSERT. GORM's create path type-switches on
// map[string]interface{}, so the row must be the plain map type.
func (t *sqlTx) create(ctx context.Context, table string, row map[string]interface{}) error {
	if err := validIdent(table); err != nil {
		return err
	}
	sctx, cancel := t.scoped(ctx)
	defer cancel()
	if err := t.db.WithContext(sctx).Table(table).Create(row).Error; err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}

// normalizeRow maps driver representations onto the record conventions the
// engine expects: byte slices become strings, everything else passes through
// (times arrive as time.Time because the DSN sets parseTime)
func normalizeRow(row map[string]interface{}) storage.Record {
	out := make(storage.Record, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out
}
