// Package memstore provides an in-memory implementation of the storage
// interfaces. It backs the test suites and works as a reference for the
// session contract: snapshot-isolated transactions, read-your-writes
// inside a session, and primary keys assigned at insert time according
// to the catalog's declared key kind.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ammar0144/rel4go/pkg/query"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// ErrTxFinished is returned when a finished transaction is committed again
var ErrTxFinished = errors.New("memstore: transaction already finished")

// Store keeps every table as a slice of records, in insertion order
type Store struct {
	mu      sync.Mutex
	catalog *schema.Catalog
	tables  map[string][]storage.Record
	seq     map[string]int64
}

// New creates an empty store over the given catalog. The catalog is
// consulted at insert time to pick the primary-key column and kind for
// each entity table.
func New(catalog *schema.Catalog) *Store {
	return &Store{
		catalog: catalog,
		tables:  make(map[string][]storage.Record),
		seq:     make(map[string]int64),
	}
}

// Begin snapshots the store into a new transaction. Writes stay private
// to the transaction until Commit swaps the snapshot back in.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, seq: make(map[string]int64, len(s.seq))}
	tx.tables = make(map[string][]storage.Record, len(s.tables))
	for table, rows := range s.tables {
		copied := make([]storage.Record, len(rows))
		for i, row := range rows {
			copied[i] = row.Clone()
		}
		tx.tables[table] = copied
	}
	for table, n := range s.seq {
		tx.seq[table] = n
	}
	return tx, nil
}

// memTx is a single-goroutine unit of work over a private snapshot
type memTx struct {
	store  *Store
	tables map[string][]storage.Record
	seq    map[string]int64
	done   bool
}

func (tx *memTx) Commit() error {
	if tx.done {
		return ErrTxFinished
	}
	tx.store.mu.Lock()
	tx.store.tables = tx.tables
	tx.store.seq = tx.seq
	tx.store.mu.Unlock()
	tx.done = true
	return nil
}

func (tx *memTx) Rollback() error {
	// Rollback after Commit is a no-op so callers can defer it
	tx.done = true
	return nil
}

func (tx *memTx) SelectRecords(ctx context.Context, q query.Query) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []storage.Record
	for _, row := range tx.tables[q.Table] {
		if matchesAll(row, q.Conditions) {
			matched = append(matched, row)
		}
	}
	sortRecords(matched, q.Sorts)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	out := make([]storage.Record, len(matched))
	for i, row := range matched {
		out[i] = row.Clone()
	}
	return out, nil
}

func (tx *memTx) CountRecords(ctx context.Context, q query.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range tx.tables[q.Table] {
		if matchesAll(row, q.Conditions) {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) InsertRecord(ctx context.Context, table string, fields storage.Record) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entity, ok := tx.store.catalog.EntityByTable(table)
	if !ok {
		return nil, fmt.Errorf("memstore: no entity registered for table %q", table)
	}

	row := fields.Clone()
	pk := row[entity.PrimaryKey]
	if pk == nil {
		switch entity.PrimaryKeyKind {
		case schema.PrimaryKeyUUID:
			pk = uuid.NewString()
		default:
			tx.seq[table]++
			pk = tx.seq[table]
		}
		row[entity.PrimaryKey] = pk
	}
	tx.tables[table] = append(tx.tables[table], row)
	return pk, nil
}

func (tx *memTx) UpdateRecords(ctx context.Context, table string, conditions []query.Condition, fields storage.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range tx.tables[table] {
		if !matchesAll(row, conditions) {
			continue
		}
		for field, value := range fields {
			row[field] = value
		}
		n++
	}
	return n, nil
}

func (tx *memTx) DeleteRecords(ctx context.Context, table string, conditions []query.Condition) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows := tx.tables[table]
	kept := rows[:0]
	var n int64
	for _, row := range rows {
		if matchesAll(row, conditions) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	tx.tables[table] = kept
	return n, nil
}

func (tx *memTx) InsertLink(ctx context.Context, table string, leftColumn string, leftID interface{}, rightColumn string, rightID interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.tables[table] = append(tx.tables[table], storage.Record{
		leftColumn:  leftID,
		rightColumn: rightID,
	})
	return nil
}

func (tx *memTx) DeleteLinks(ctx context.Context, table string, conditions []query.Condition) (int64, error) {
	return tx.DeleteRecords(ctx, table, conditions)
}

// ============================================================================
// CONDITION EVALUATION
// ============================================================================

func matchesAll(row storage.Record, conditions []query.Condition) bool {
	for _, c := range conditions {
		if !matchesOne(row, c) {
			return false
		}
	}
	return true
}

func matchesOne(row storage.Record, c query.Condition) bool {
	value, present := row[c.Field]

	switch c.Operator {
	case query.IsNull:
		return !present || value == nil
	case query.IsNotNull:
		return present && value != nil
	}
	if !present || value == nil {
		return false
	}

	switch c.Operator {
	case query.Equal:
		return valuesEqual(value, c.Value)
	case query.NotEqual:
		return !valuesEqual(value, c.Value)
	case query.GreaterThan:
		cmp, ok := compareValues(value, c.Value)
		return ok && cmp > 0
	case query.GreaterThanOrEqual:
		cmp, ok := compareValues(value, c.Value)
		return ok && cmp >= 0
	case query.LessThan:
		cmp, ok := compareValues(value, c.Value)
		return ok && cmp < 0
	case query.LessThanOrEqual:
		cmp, ok := compareValues(value, c.Value)
		return ok && cmp <= 0
	case query.Like:
		s, sok := value.(string)
		p, pok := c.Value.(string)
		return sok && pok && likeMatch(s, p)
	case query.In:
		for _, candidate := range valueList(c.Value) {
			if valuesEqual(value, candidate) {
				return true
			}
		}
		return false
	case query.NotIn:
		for _, candidate := range valueList(c.Value) {
			if valuesEqual(value, candidate) {
				return false
			}
		}
		return true
	case query.Between:
		bounds := valueList(c.Value)
		if len(bounds) != 2 {
			return false
		}
		lo, okLo := compareValues(value, bounds[0])
		hi, okHi := compareValues(value, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	}
	return false
}

func valueList(v interface{}) []interface{} {
	switch list := v.(type) {
	case []interface{}:
		return list
	case []string:
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	case []int:
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	case []int64:
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	case nil:
		return nil
	default:
		return []interface{}{v}
	}
}

// valuesEqual compares loosely across the numeric kinds a record can carry,
// because a key stored as int64 is routinely matched against an int literal
func valuesEqual(a, b interface{}) bool {
	if at, aok := a.(time.Time); aok {
		bt, bok := toTime(b)
		return bok && at.Equal(bt)
	}
	if bt, bok := b.(time.Time); bok {
		at, aok := toTime(a)
		return aok && at.Equal(bt)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareValues(a, b interface{}) (int, bool) {
	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		if !bok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// likeMatch implements SQL LIKE with % and _ wildcards, case-insensitively
// to match the default MySQL collation behavior
func likeMatch(s, pattern string) bool {
	s = strings.ToLower(s)
	pattern = strings.ToLower(pattern)

	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '_' || pattern[pi] == s[si]):
			si++
			pi++
		case pi < len(pattern) && pattern[pi] == '%':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '%' {
		pi++
	}
	return pi == len(pattern)
}

// ============================================================================
// ORDERING
// ============================================================================

func sortRecords(rows []storage.Record, sorts []query.Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range sorts {
			cmp := compareForSort(rows[i][s.Field], rows[j][s.Field])
			if cmp == 0 {
				continue
			}
			if s.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareForSort orders nil values first, matching MySQL's ascending
// NULL placement
func compareForSort(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	return 0
}
