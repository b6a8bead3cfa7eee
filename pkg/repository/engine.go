// Package repository implements the generic, relationship-aware repository
// engine. One Engine is bound to one entity type from an initialized model
// graph and executes reads, nested writes, optimistic-lock updates, and
// cascading deletes against any storage.Session, without per-entity mapping
// code and without reflection over Go structs.
//
// The Engine is stateless between calls: the only shared structure is the
// immutable graph, so one Engine value is safe for concurrent use as long as
// each call gets its own session. Transaction boundaries always belong to
// the caller; the Engine never commits or rolls back.
package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/query"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// Options configure engine behavior
type Options struct {
	// StrictCreate makes plain Create reject payloads carrying nested
	// relationship data instead of dropping the nested part with a warning
	StrictCreate bool `json:"strict_create" yaml:"strict_create"`
}

// Engine executes persistence operations for one entity type
type Engine struct {
	graph  *graph.Graph
	entity *schema.EntityType
	opts   Options
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewEngine binds an engine to one entity of an initialized graph.
// A nil logger falls back to a no-op logger.
func NewEngine(g *graph.Graph, entity string, opts Options, logger *zap.SugaredLogger) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	if !g.Initialized() {
		return nil, ErrGraphNotInitialized
	}
	et, ok := g.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not registered in the graph", entity)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		graph:  g,
		entity: et,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Entity returns the entity type this engine is bound to
func (e *Engine) Entity() *schema.EntityType {
	return e.entity
}

// Graph returns the model graph this engine reads from
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// SplitNested separates a payload into scalar main fields and nested
// relationship data for this engine's entity
func (e *Engine) SplitNested(payload map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
	return e.graph.SplitNested(e.entity.Name, payload)
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// ListParams describe one page of a filtered, ordered listing
type ListParams struct {
	// Filters are exact-match conditions; a nil value matches SQL NULL.
	// Fields the entity does not declare are ignored.
	Filters map[string]interface{}

	// OrderBy lists sort fields; a "-" prefix means descending. Unknown
	// fields are an error, unlike filters.
	OrderBy []string

	Offset int
	Limit  int

	// IncludeDeleted lifts the default active-only visibility
	IncludeDeleted bool
}

// GetByID returns one record by primary key. Soft-deleted records only
// surface when includeDeleted is set; otherwise they read as not found.
func (e *Engine) GetByID(ctx context.Context, sess storage.Session, id interface{}, includeDeleted bool) (storage.Record, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}
	b := query.NewBuilder(e.entity.TableName()).
		Where(e.entity.PrimaryKey, query.Equal, id).
		Limit(1)
	if !includeDeleted {
		b.Where(storage.ColumnDeletedAt, query.IsNull, nil)
	}
	rows, err := sess.SelectRecords(ctx, b.Build())
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Entity: e.entity.Name, ID: id}
	}
	return rows[0], nil
}

// List returns one page of records
func (e *Engine) List(ctx context.Context, sess storage.Session, params ListParams) ([]storage.Record, error) {
	b, err := e.listQuery(params)
	if err != nil {
		return nil, err
	}
	rows, err := sess.SelectRecords(ctx, b.Build())
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return rows, nil
}

// ListDeleted returns one page of soft-deleted records only
func (e *Engine) ListDeleted(ctx context.Context, sess storage.Session, params ListParams) ([]storage.Record, error) {
	params.IncludeDeleted = true
	b, err := e.listQuery(params)
	if err != nil {
		return nil, err
	}
	b.Where(storage.ColumnDeletedAt, query.IsNotNull, nil)
	rows, err := sess.SelectRecords(ctx, b.Build())
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return rows, nil
}

// Count returns the number of records matching the filters
func (e *Engine) Count(ctx context.Context, sess storage.Session, filters map[string]interface{}, includeDeleted bool) (int64, error) {
	n, err := sess.CountRecords(ctx, e.baseQuery(filters, includeDeleted).Build())
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return n, nil
}

func (e *Engine) listQuery(params ListParams) (*query.Builder, error) {
	b := e.baseQuery(params.Filters, params.IncludeDeleted)
	if err := e.applySort(b, params.OrderBy); err != nil {
		return nil, err
	}
	b.Offset(params.Offset).Limit(params.Limit)
	return b, nil
}

// baseQuery builds the exact-match filter query with soft-delete scoping.
// Filter keys are applied in sorted order so the produced statement is
// stable across calls with the same filters.
func (e *Engine) baseQuery(filters map[string]interface{}, includeDeleted bool) *query.Builder {
	b := query.NewBuilder(e.entity.TableName())

	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if !e.graph.HasColumn(e.entity.Name, field) {
			e.logger.Debugw("ignoring unknown filter field",
				"entity", e.entity.Name,
				"field", field)
			continue
		}
		if value := filters[field]; value == nil {
			b.Where(field, query.IsNull, nil)
		} else {
			b.Where(field, query.Equal, value)
		}
	}
	if !includeDeleted {
		b.Where(storage.ColumnDeletedAt, query.IsNull, nil)
	}
	return b
}

// applySort validates and appends ordering terms. Unknown sort fields are
// an error rather than a silent skip: a mistyped sort silently returning
// differently ordered pages is much harder to notice than a failed request.
func (e *Engine) applySort(b *query.Builder, orderBy []string) error {
	for _, term := range orderBy {
		field := term
		desc := false
		if strings.HasPrefix(term, "-") {
			field = term[1:]
			desc = true
		}
		if field == "" || !e.graph.HasColumn(e.entity.Name, field) {
			return fmt.Errorf("cannot sort %s by unknown field %q", e.entity.Name, field)
		}
		b.OrderBy(field, desc)
	}
	return nil
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Create persists the scalar fields of the payload. Nested relationship
// data is not written: by default it is dropped with a warning pointing at
// CreateWithRelations, under Options.StrictCreate it rejects the call.
func (e *Engine) Create(ctx context.Context, sess storage.Session, payload map[string]interface{}) (storage.Record, error) {
	main, nested := e.graph.SplitNested(e.entity.Name, payload)
	if len(nested) > 0 {
		names := sortedKeys(nested)
		if e.opts.StrictCreate {
			return nil, &InvalidRelationshipPayloadError{
				Entity:       e.entity.Name,
				Relationship: strings.Join(names, ", "),
				Reason:       "nested relationship data requires CreateWithRelations",
			}
		}
		e.logger.Warnw("payload contains nested relationship data, use CreateWithRelations to persist it",
			"entity", e.entity.Name,
			"relationships", names)
	}
	id, err := e.insertMain(ctx, sess, main)
	if err != nil {
		return nil, err
	}
	return e.GetByID(ctx, sess, id, false)
}

// insertMain writes one row of scalar fields, stamping the server-assigned
// timestamps, and returns the assigned primary key
func (e *Engine) insertMain(ctx context.Context, sess storage.Session, main map[string]interface{}) (interface{}, error) {
	row := storage.Record{}
	for field, value := range main {
		switch field {
		case storage.ColumnCreatedAt, storage.ColumnUpdatedAt, storage.ColumnDeletedAt:
			// server-assigned
			continue
		}
		if !e.graph.HasColumn(e.entity.Name, field) {
			e.logger.Debugw("dropping unknown field",
				"entity", e.entity.Name,
				"field", field)
			continue
		}
		row[field] = value
	}
	now := e.now().UTC()
	row[storage.ColumnCreatedAt] = now
	row[storage.ColumnUpdatedAt] = now
	row[storage.ColumnDeletedAt] = nil

	id, err := sess.InsertRecord(ctx, e.entity.TableName(), row)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", e.entity.Name, err)
	}
	return id, nil
}

// UpdateWithOptimisticLock applies scalar field changes to one record.
//
// When expected is non-nil it is parsed as the caller's last-known
// updated_at and the write happens as a single conditional update
// (WHERE id = ? AND updated_at = expected), so the existence check stays
// off the hot path. Zero affected rows are disambiguated by re-fetching:
// a missing record is NotFoundError, an existing one whose timestamp
// differs beyond the tolerance is OptimisticLockConflictError. A stored
// timestamp within the tolerance (serialization precision loss) retries
// the conditional write once against the stored value.
//
// The payload's own updated_at is always stripped: that column is
// server-assigned. Relationship-named keys are ignored with a warning.
func (e *Engine) UpdateWithOptimisticLock(ctx context.Context, sess storage.Session, id interface{}, payload map[string]interface{}, expected interface{}) (storage.Record, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}
	main, nested := e.graph.SplitNested(e.entity.Name, payload)
	if len(nested) > 0 {
		e.logger.Warnw("ignoring nested relationship data on scalar update, use UpdateWithOptimisticLockAndRelations",
			"entity", e.entity.Name,
			"relationships", sortedKeys(nested))
	}

	fields := e.updatableFields(main, false)
	fields[storage.ColumnUpdatedAt] = e.now().UTC()

	conditions := []query.Condition{
		{Field: e.entity.PrimaryKey, Operator: query.Equal, Value: id},
		{Field: storage.ColumnDeletedAt, Operator: query.IsNull},
	}
	var expectedTime time.Time
	hasExpected := expected != nil
	if hasExpected {
		t, err := ParseTimestamp(expected)
		if err != nil {
			return nil, err
		}
		expectedTime = t
		conditions = append(conditions, query.Condition{
			Field:    storage.ColumnUpdatedAt,
			Operator: query.Equal,
			Value:    t,
		})
	}

	affected, err := sess.UpdateRecords(ctx, e.entity.TableName(), conditions, fields)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if affected == 0 {
		current, err := e.GetByID(ctx, sess, id, false)
		if err != nil {
			return nil, err
		}
		if !hasExpected {
			return nil, fmt.Errorf("update of %s %v affected no rows", e.entity.Name, id)
		}
		actual, ok := current.Time(storage.ColumnUpdatedAt)
		if !ok {
			return nil, &OptimisticLockConflictError{Entity: e.entity.Name, ID: id, Expected: expectedTime}
		}
		if err := ValidateLock(expectedTime, actual, id, e.entity.Name); err != nil {
			return nil, err
		}
		// Within tolerance: the caller's value lost precision in transit.
		// Retry once conditioned on the stored value to keep the write atomic.
		retry := []query.Condition{
			{Field: e.entity.PrimaryKey, Operator: query.Equal, Value: id},
			{Field: storage.ColumnUpdatedAt, Operator: query.Equal, Value: current[storage.ColumnUpdatedAt]},
		}
		affected, err = sess.UpdateRecords(ctx, e.entity.TableName(), retry, fields)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if affected == 0 {
			return nil, &OptimisticLockConflictError{Entity: e.entity.Name, ID: id, Expected: expectedTime, Actual: actual}
		}
	}
	return e.GetByID(ctx, sess, id, false)
}

// updatableFields filters a main-field map down to writable columns,
// dropping the primary key and the server-assigned timestamps. With
// skipNull set, nil values are dropped too (the update-with-relations
// contract: null never clears a scalar).
func (e *Engine) updatableFields(main map[string]interface{}, skipNull bool) storage.Record {
	fields := storage.Record{}
	for field, value := range main {
		switch field {
		case e.entity.PrimaryKey, storage.ColumnCreatedAt, storage.ColumnUpdatedAt, storage.ColumnDeletedAt:
			continue
		}
		if skipNull && value == nil {
			continue
		}
		if !e.graph.HasColumn(e.entity.Name, field) {
			e.logger.Debugw("dropping unknown field",
				"entity", e.entity.Name,
				"field", field)
			continue
		}
		fields[field] = value
	}
	return fields
}

// SoftDelete marks one record deleted. No cascade; relationship handling
// belongs to DeleteWithCascade.
func (e *Engine) SoftDelete(ctx context.Context, sess storage.Session, id interface{}) error {
	if id == nil {
		return fmt.Errorf("id cannot be nil")
	}
	now := e.now().UTC()
	affected, err := sess.UpdateRecords(ctx, e.entity.TableName(),
		[]query.Condition{{Field: e.entity.PrimaryKey, Operator: query.Equal, Value: id}},
		storage.Record{
			storage.ColumnDeletedAt: now,
			storage.ColumnUpdatedAt: now,
		})
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: e.entity.Name, ID: id}
	}
	return nil
}

// Restore clears a record's deleted_at. No cascade.
func (e *Engine) Restore(ctx context.Context, sess storage.Session, id interface{}) (storage.Record, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}
	affected, err := sess.UpdateRecords(ctx, e.entity.TableName(),
		[]query.Condition{{Field: e.entity.PrimaryKey, Operator: query.Equal, Value: id}},
		storage.Record{
			storage.ColumnDeletedAt: nil,
			storage.ColumnUpdatedAt: e.now().UTC(),
		})
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if affected == 0 {
		return nil, &NotFoundError{Entity: e.entity.Name, ID: id}
	}
	return e.GetByID(ctx, sess, id, false)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
