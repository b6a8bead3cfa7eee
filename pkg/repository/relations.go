package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/query"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// SyncMode selects how UpdateWithOptimisticLockAndRelations reconciles a
// relationship's existing data with the payload
type SyncMode string

const (
	// SyncReplace clears the relationship first, then applies the payload
	// like a create
	SyncReplace SyncMode = "replace"

	// SyncAdd applies the payload like a create without clearing
	SyncAdd SyncMode = "add"

	// SyncMerge (reconcile by related-record id) is declared but not
	// implemented; requesting it returns ErrSyncModeNotSupported rather
	// than guessing at semantics
	SyncMerge SyncMode = "merge"
)

// RelationOperation selects what ManageRelations does with the items
type RelationOperation string

const (
	RelationAdd     RelationOperation = "add"
	RelationRemove  RelationOperation = "remove"
	RelationReplace RelationOperation = "replace"
)

// forEntity returns an engine bound to another entity of the same graph,
// sharing options, logger, and clock. Used for recursion into related types.
func (e *Engine) forEntity(name string) (*Engine, error) {
	et, ok := e.graph.Entity(name)
	if !ok {
		return nil, fmt.Errorf("entity %q is not registered in the graph", name)
	}
	child := *e
	child.entity = et
	return &child, nil
}

// ============================================================================
// EAGER LOADING
// ============================================================================

// GetByIDWithRelations returns one record with related records materialized
// under their relationship names. A nil or empty relations list loads every
// declared relationship; unknown names in an explicit list are skipped with
// a warning.
func (e *Engine) GetByIDWithRelations(ctx context.Context, sess storage.Session, id interface{}, relations []string, includeDeleted bool) (storage.Record, error) {
	record, err := e.GetByID(ctx, sess, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if err := e.loadRelations(ctx, sess, []storage.Record{record}, relations, includeDeleted); err != nil {
		return nil, err
	}
	return record, nil
}

// ListWithRelations returns one page of records with related records
// materialized, batching each relationship's load across the whole page
func (e *Engine) ListWithRelations(ctx context.Context, sess storage.Session, params ListParams, relations []string) ([]storage.Record, error) {
	rows, err := e.List(ctx, sess, params)
	if err != nil {
		return nil, err
	}
	if err := e.loadRelations(ctx, sess, rows, relations, params.IncludeDeleted); err != nil {
		return nil, err
	}
	return rows, nil
}

// loadRelations materializes the named relationships onto the given records,
// one batched read per relationship rather than one per row
func (e *Engine) loadRelations(ctx context.Context, sess storage.Session, parents []storage.Record, relations []string, includeDeleted bool) error {
	if len(parents) == 0 {
		return nil
	}
	for _, edge := range e.resolveRelationEdges(relations) {
		var err error
		switch edge.Kind {
		case graph.ManyToOne:
			err = e.loadManyToOne(ctx, sess, parents, edge, includeDeleted)
		case graph.OneToOne:
			err = e.loadOneToOne(ctx, sess, parents, edge, includeDeleted)
		case graph.OneToMany:
			err = e.loadOneToMany(ctx, sess, parents, edge, includeDeleted)
		case graph.ManyToMany:
			err = e.loadManyToMany(ctx, sess, parents, edge, includeDeleted)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveRelationEdges maps requested relationship names to edges. Nil or
// empty means all declared relationships, in declaration order.
func (e *Engine) resolveRelationEdges(relations []string) []*graph.Edge {
	node, ok := e.graph.Node(e.entity.Name)
	if !ok {
		return nil
	}
	if len(relations) == 0 {
		return node.OutEdges()
	}
	edges := make([]*graph.Edge, 0, len(relations))
	for _, name := range relations {
		edge, ok := e.graph.Relationship(e.entity.Name, name)
		if !ok {
			e.logger.Warnw("skipping unknown relationship in eager load",
				"entity", e.entity.Name,
				"relationship", name)
			continue
		}
		edges = append(edges, edge)
	}
	return edges
}

func (e *Engine) loadManyToOne(ctx context.Context, sess storage.Session, parents []storage.Record, edge *graph.Edge, includeDeleted bool) error {
	target := e.mustTarget(edge)

	var ids []interface{}
	seen := map[string]bool{}
	for _, p := range parents {
		fk := p[edge.ForeignKey]
		if fk == nil {
			continue
		}
		if k := recordKey(fk); !seen[k] {
			seen[k] = true
			ids = append(ids, fk)
		}
	}

	related := map[string]storage.Record{}
	if len(ids) > 0 {
		rows, err := e.selectRelated(ctx, sess, target, target.PrimaryKey, ids, includeDeleted)
		if err != nil {
			return err
		}
		for _, r := range rows {
			related[recordKey(r[target.PrimaryKey])] = r
		}
	}
	for _, p := range parents {
		fk := p[edge.ForeignKey]
		if fk == nil {
			p[edge.Name] = nil
			continue
		}
		if r, ok := related[recordKey(fk)]; ok {
			p[edge.Name] = r
		} else {
			p[edge.Name] = nil
		}
	}
	return nil
}

func (e *Engine) loadOneToOne(ctx context.Context, sess storage.Session, parents []storage.Record, edge *graph.Edge, includeDeleted bool) error {
	target := e.mustTarget(edge)

	rows, err := e.selectRelated(ctx, sess, target, edge.ForeignKey, parentKeys(parents, e.entity.PrimaryKey), includeDeleted)
	if err != nil {
		return err
	}
	byParent := map[string]storage.Record{}
	for _, r := range rows {
		k := recordKey(r[edge.ForeignKey])
		if _, taken := byParent[k]; !taken {
			byParent[k] = r
		}
	}
	for _, p := range parents {
		if r, ok := byParent[recordKey(p[e.entity.PrimaryKey])]; ok {
			p[edge.Name] = r
		} else {
			p[edge.Name] = nil
		}
	}
	return nil
}

func (e *Engine) loadOneToMany(ctx context.Context, sess storage.Session, parents []storage.Record, edge *graph.Edge, includeDeleted bool) error {
	target := e.mustTarget(edge)

	rows, err := e.selectRelated(ctx, sess, target, edge.ForeignKey, parentKeys(parents, e.entity.PrimaryKey), includeDeleted)
	if err != nil {
		return err
	}
	byParent := map[string][]storage.Record{}
	for _, r := range rows {
		k := recordKey(r[edge.ForeignKey])
		byParent[k] = append(byParent[k], r)
	}
	for _, p := range parents {
		children := byParent[recordKey(p[e.entity.PrimaryKey])]
		if children == nil {
			children = []storage.Record{}
		}
		p[edge.Name] = children
	}
	return nil
}

func (e *Engine) loadManyToMany(ctx context.Context, sess storage.Session, parents []storage.Record, edge *graph.Edge, includeDeleted bool) error {
	target := e.mustTarget(edge)

	links, err := sess.SelectRecords(ctx, query.NewBuilder(edge.Junction).
		WhereIn(edge.JunctionLeft, parentKeys(parents, e.entity.PrimaryKey)).
		Build())
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	var relatedIDs []interface{}
	seen := map[string]bool{}
	for _, link := range links {
		rid := link[edge.JunctionRight]
		if rid == nil {
			continue
		}
		if k := recordKey(rid); !seen[k] {
			seen[k] = true
			relatedIDs = append(relatedIDs, rid)
		}
	}

	related := map[string]storage.Record{}
	if len(relatedIDs) > 0 {
		rows, err := e.selectRelated(ctx, sess, target, target.PrimaryKey, relatedIDs, includeDeleted)
		if err != nil {
			return err
		}
		for _, r := range rows {
			related[recordKey(r[target.PrimaryKey])] = r
		}
	}

	byParent := map[string][]storage.Record{}
	for _, link := range links {
		r, ok := related[recordKey(link[edge.JunctionRight])]
		if !ok {
			// target filtered out by visibility scoping
			continue
		}
		k := recordKey(link[edge.JunctionLeft])
		byParent[k] = append(byParent[k], r)
	}
	for _, p := range parents {
		linked := byParent[recordKey(p[e.entity.PrimaryKey])]
		if linked == nil {
			linked = []storage.Record{}
		}
		p[edge.Name] = linked
	}
	return nil
}

// selectRelated reads target rows whose field is IN values, with the usual
// soft-delete scoping
func (e *Engine) selectRelated(ctx context.Context, sess storage.Session, target *schema.EntityType, field string, values []interface{}, includeDeleted bool) ([]storage.Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	b := query.NewBuilder(target.TableName()).WhereIn(field, values)
	if !includeDeleted {
		b.Where(storage.ColumnDeletedAt, query.IsNull, nil)
	}
	rows, err := sess.SelectRecords(ctx, b.Build())
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return rows, nil
}

// mustTarget returns the target entity of an edge. Edges only materialize
// between registered nodes, so the lookup cannot miss on a built graph.
func (e *Engine) mustTarget(edge *graph.Edge) *schema.EntityType {
	target, _ := e.graph.Entity(edge.Target)
	return target
}

func parentKeys(parents []storage.Record, pk string) []interface{} {
	keys := make([]interface{}, 0, len(parents))
	seen := map[string]bool{}
	for _, p := range parents {
		v := p[pk]
		if v == nil {
			continue
		}
		if k := recordKey(v); !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}
	return keys
}

// recordKey normalizes a primary-key value for map grouping. Stores differ
// on integer width for the same key (int vs int64), so grouping by the
// printed form keeps lookups consistent.
func recordKey(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// ============================================================================
// NESTED CREATE
// ============================================================================

// CreateWithRelations persists the payload's main fields, then walks its
// nested relationship data depth-first, dispatching by relationship kind.
// The parent key is flushed by the main insert before any child write
// references it. Returns the fully hydrated record, never the pre-load
// in-memory state.
func (e *Engine) CreateWithRelations(ctx context.Context, sess storage.Session, payload map[string]interface{}) (storage.Record, error) {
	id, err := e.createWithRelations(ctx, sess, payload)
	if err != nil {
		return nil, err
	}
	return e.GetByIDWithRelations(ctx, sess, id, nil, false)
}

func (e *Engine) createWithRelations(ctx context.Context, sess storage.Session, payload map[string]interface{}) (interface{}, error) {
	main, nested := e.graph.SplitNested(e.entity.Name, payload)

	id, err := e.insertMain(ctx, sess, main)
	if err != nil {
		return nil, err
	}
	// Relationship order is not semantically significant; sorted names make
	// the write sequence reproducible.
	for _, name := range sortedKeys(nested) {
		edge, ok := e.graph.Relationship(e.entity.Name, name)
		if !ok {
			continue
		}
		if err := e.applyNested(ctx, sess, id, edge, nested[name], false); err != nil {
			return nil, err
		}
	}
	return id, nil
}

// applyNested dispatches one relationship's nested payload by kind.
// linkExisting permits bare identifiers inside ONE_TO_MANY lists (the
// manage-relations contract); the create path keeps them invalid.
func (e *Engine) applyNested(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, value interface{}, linkExisting bool) error {
	switch edge.Kind {
	case graph.ManyToOne:
		return e.nestedSingleToOwner(ctx, sess, parentID, edge, value)
	case graph.OneToOne:
		return e.nestedSingleToTarget(ctx, sess, parentID, edge, value)
	case graph.OneToMany:
		items, ok := itemList(value)
		if !ok {
			return &InvalidRelationshipPayloadError{
				Entity:       e.entity.Name,
				Relationship: edge.Name,
				Reason:       "expected a list of objects",
			}
		}
		return e.nestedChildren(ctx, sess, parentID, edge, items, linkExisting)
	case graph.ManyToMany:
		items, ok := itemList(value)
		if !ok {
			return &InvalidRelationshipPayloadError{
				Entity:       e.entity.Name,
				Relationship: edge.Name,
				Reason:       "expected a list of objects or ids",
			}
		}
		return e.nestedLinks(ctx, sess, parentID, edge, items)
	}
	return fmt.Errorf("unhandled relationship kind %v", edge.Kind)
}

// nestedSingleToOwner handles MANY_TO_ONE: resolve the related record,
// then point this record's foreign key at it
func (e *Engine) nestedSingleToOwner(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, value interface{}) error {
	relatedID, err := e.createOrLink(ctx, sess, edge, value)
	if err != nil {
		return err
	}
	return e.setForeignKey(ctx, sess, parentID, edge.ForeignKey, relatedID)
}

// nestedSingleToTarget handles ONE_TO_ONE: the foreign key lives on the
// related record and points back at this one
func (e *Engine) nestedSingleToTarget(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, value interface{}) error {
	target, err := e.forEntity(edge.Target)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case map[string]interface{}:
		if id, ok := v[target.entity.PrimaryKey]; ok && id != nil {
			if _, err := target.GetByID(ctx, sess, id, false); err != nil {
				return err
			}
			return target.setForeignKey(ctx, sess, id, edge.ForeignKey, parentID)
		}
		child := cloneMap(v)
		child[edge.ForeignKey] = parentID
		_, err := target.createWithRelations(ctx, sess, child)
		return err
	case []interface{}:
		return &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       "expected a single object or id, got a list",
		}
	case nil:
		return &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       "expected a single object or id, got null",
		}
	default:
		// bare identifier: adopt the existing record
		if _, err := target.GetByID(ctx, sess, v, false); err != nil {
			return err
		}
		return target.setForeignKey(ctx, sess, v, edge.ForeignKey, parentID)
	}
}

// nestedChildren handles ONE_TO_MANY: each child gets the parent's key on
// its foreign-key column before insert, then its own nested data recurses
func (e *Engine) nestedChildren(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, items []interface{}, linkExisting bool) error {
	target, err := e.forEntity(edge.Target)
	if err != nil {
		return err
	}
	for _, item := range items {
		switch child := item.(type) {
		case map[string]interface{}:
			payload := cloneMap(child)
			payload[edge.ForeignKey] = parentID
			if _, err := target.createWithRelations(ctx, sess, payload); err != nil {
				return err
			}
		default:
			if !linkExisting {
				return &InvalidRelationshipPayloadError{
					Entity:       e.entity.Name,
					Relationship: edge.Name,
					Reason:       fmt.Sprintf("expected an object, got %T", item),
				}
			}
			if _, err := target.GetByID(ctx, sess, child, false); err != nil {
				return err
			}
			if err := target.setForeignKey(ctx, sess, child, edge.ForeignKey, parentID); err != nil {
				return err
			}
		}
	}
	return nil
}

// nestedLinks handles MANY_TO_MANY: create-or-reuse each related record,
// then one junction row per (parent, related) pair
func (e *Engine) nestedLinks(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, items []interface{}) error {
	for _, item := range items {
		relatedID, err := e.createOrLink(ctx, sess, edge, item)
		if err != nil {
			return err
		}
		if err := e.insertLinkOnce(ctx, sess, edge, parentID, relatedID); err != nil {
			return err
		}
	}
	return nil
}

// createOrLink resolves a single-object-or-id value to a related record's
// key: an object carrying the target's primary key links that record, an
// object without one creates a new record (recursing into its own nested
// payload), a bare value is treated as an existing record's id
func (e *Engine) createOrLink(ctx context.Context, sess storage.Session, edge *graph.Edge, value interface{}) (interface{}, error) {
	target, err := e.forEntity(edge.Target)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case map[string]interface{}:
		if id, ok := v[target.entity.PrimaryKey]; ok && id != nil {
			if _, err := target.GetByID(ctx, sess, id, false); err != nil {
				return nil, err
			}
			return id, nil
		}
		return target.createWithRelations(ctx, sess, v)
	case []interface{}:
		return nil, &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       "expected a single object or id, got a list",
		}
	case nil:
		return nil, &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       "expected a single object or id, got null",
		}
	default:
		if _, err := target.GetByID(ctx, sess, v, false); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// setForeignKey writes one foreign-key column on this engine's entity
func (e *Engine) setForeignKey(ctx context.Context, sess storage.Session, id interface{}, column string, value interface{}) error {
	_, err := sess.UpdateRecords(ctx, e.entity.TableName(),
		[]query.Condition{{Field: e.entity.PrimaryKey, Operator: query.Equal, Value: id}},
		storage.Record{
			column:                  value,
			storage.ColumnUpdatedAt: e.now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// insertLinkOnce writes a junction row unless the pair is already linked
func (e *Engine) insertLinkOnce(ctx context.Context, sess storage.Session, edge *graph.Edge, parentID, relatedID interface{}) error {
	existing, err := sess.CountRecords(ctx, query.NewBuilder(edge.Junction).
		Where(edge.JunctionLeft, query.Equal, parentID).
		Where(edge.JunctionRight, query.Equal, relatedID).
		Build())
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if existing > 0 {
		e.logger.Debugw("junction link already present",
			"junction", edge.Junction,
			"left", parentID,
			"right", relatedID)
		return nil
	}
	if err := sess.InsertLink(ctx, edge.Junction, edge.JunctionLeft, parentID, edge.JunctionRight, relatedID); err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// ============================================================================
// RELATIONSHIP-AWARE UPDATE
// ============================================================================

// UpdateWithOptimisticLockAndRelations updates scalar fields and reconciles
// nested relationship data in one pass.
//
// The lock is validated explicitly against the current record (the payload
// must be split before writing, so the single-statement conditional trick
// does not apply): a payload updated_at beyond the tolerance returns
// OptimisticLockConflictError, an absent one skips validation. Main-field
// changes apply non-null values only; null never clears a scalar here.
// Relationships then sync per mode: SyncReplace clears before applying,
// SyncAdd applies on top, SyncMerge returns ErrSyncModeNotSupported.
// Returns the fully hydrated record.
func (e *Engine) UpdateWithOptimisticLockAndRelations(ctx context.Context, sess storage.Session, id interface{}, payload map[string]interface{}, mode SyncMode) (storage.Record, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}
	switch mode {
	case SyncReplace, SyncAdd:
	case SyncMerge:
		return nil, fmt.Errorf("sync mode %q: %w", mode, ErrSyncModeNotSupported)
	default:
		return nil, fmt.Errorf("unknown sync mode %q", mode)
	}

	current, err := e.GetByID(ctx, sess, id, false)
	if err != nil {
		return nil, err
	}

	main, nested := e.graph.SplitNested(e.entity.Name, payload)
	if raw, ok := main[storage.ColumnUpdatedAt]; ok && raw != nil {
		expected, err := ParseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		actual, _ := current.Time(storage.ColumnUpdatedAt)
		if err := ValidateLock(expected, actual, id, e.entity.Name); err != nil {
			return nil, err
		}
	}

	fields := e.updatableFields(main, true)
	fields[storage.ColumnUpdatedAt] = e.now().UTC()
	if _, err := sess.UpdateRecords(ctx, e.entity.TableName(),
		[]query.Condition{{Field: e.entity.PrimaryKey, Operator: query.Equal, Value: id}},
		fields); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	for _, name := range sortedKeys(nested) {
		edge, ok := e.graph.Relationship(e.entity.Name, name)
		if !ok {
			continue
		}
		if mode == SyncReplace {
			if err := e.clearRelation(ctx, sess, id, edge); err != nil {
				return nil, err
			}
		}
		if err := e.applyNested(ctx, sess, id, edge, nested[name], false); err != nil {
			return nil, err
		}
	}
	return e.GetByIDWithRelations(ctx, sess, id, nil, false)
}

// clearRelation removes a relationship's current data ahead of a replace:
// ONE_TO_MANY children are soft-deleted, MANY_TO_MANY links are physically
// removed, a ONE_TO_ONE target's back-reference is nulled. MANY_TO_ONE
// needs no clearing since relinking overwrites the single column.
func (e *Engine) clearRelation(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge) error {
	switch edge.Kind {
	case graph.OneToMany:
		target := e.mustTarget(edge)
		now := e.now().UTC()
		if _, err := sess.UpdateRecords(ctx, target.TableName(),
			[]query.Condition{
				{Field: edge.ForeignKey, Operator: query.Equal, Value: parentID},
				{Field: storage.ColumnDeletedAt, Operator: query.IsNull},
			},
			storage.Record{
				storage.ColumnDeletedAt: now,
				storage.ColumnUpdatedAt: now,
			}); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	case graph.ManyToMany:
		if _, err := sess.DeleteLinks(ctx, edge.Junction, []query.Condition{
			{Field: edge.JunctionLeft, Operator: query.Equal, Value: parentID},
		}); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	case graph.OneToOne:
		target := e.mustTarget(edge)
		if _, err := sess.UpdateRecords(ctx, target.TableName(),
			[]query.Condition{{Field: edge.ForeignKey, Operator: query.Equal, Value: parentID}},
			storage.Record{
				edge.ForeignKey:         nil,
				storage.ColumnUpdatedAt: e.now().UTC(),
			}); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	case graph.ManyToOne:
		// relink overwrites
	}
	return nil
}

// ============================================================================
// RELATION MANAGEMENT
// ============================================================================

// ManageRelations adds, removes, or replaces items of one relationship.
// Items may be embedded objects (created as new related records) or bare
// identifiers (linking existing records). The relation name must exist on
// the entity; the parent must exist and be active. Returns the fully
// hydrated parent.
func (e *Engine) ManageRelations(ctx context.Context, sess storage.Session, parentID interface{}, relation string, items []interface{}, op RelationOperation) (storage.Record, error) {
	if parentID == nil {
		return nil, fmt.Errorf("parent id cannot be nil")
	}
	edge, ok := e.graph.Relationship(e.entity.Name, relation)
	if !ok {
		return nil, &UnknownRelationshipError{Entity: e.entity.Name, Relationship: relation}
	}
	if _, err := e.GetByID(ctx, sess, parentID, false); err != nil {
		return nil, err
	}

	var err error
	switch op {
	case RelationAdd:
		err = e.addRelationItems(ctx, sess, parentID, edge, items)
	case RelationRemove:
		err = e.removeRelationItems(ctx, sess, parentID, edge, items)
	case RelationReplace:
		if err = e.clearRelation(ctx, sess, parentID, edge); err == nil {
			err = e.addRelationItems(ctx, sess, parentID, edge, items)
		}
	default:
		err = fmt.Errorf("unknown relation operation %q", op)
	}
	if err != nil {
		return nil, err
	}
	return e.GetByIDWithRelations(ctx, sess, parentID, nil, false)
}

// addRelationItems routes to the create-path handlers; collection kinds
// accept bare identifiers for linking
func (e *Engine) addRelationItems(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, items []interface{}) error {
	if edge.Kind.IsCollection() {
		return e.applyNested(ctx, sess, parentID, edge, items, true)
	}
	if len(items) != 1 {
		return &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       fmt.Sprintf("single-valued relationship takes exactly one item, got %d", len(items)),
		}
	}
	return e.applyNested(ctx, sess, parentID, edge, items[0], true)
}

// removeRelationItems detaches the named items: ONE_TO_MANY children are
// soft-deleted when they actually belong to the parent, MANY_TO_MANY links
// are removed, single-valued kinds clear the foreign key
func (e *Engine) removeRelationItems(ctx context.Context, sess storage.Session, parentID interface{}, edge *graph.Edge, items []interface{}) error {
	switch edge.Kind {
	case graph.OneToMany:
		target := e.mustTarget(edge)
		now := e.now().UTC()
		for _, item := range items {
			id, err := e.itemID(edge, target, item)
			if err != nil {
				return err
			}
			affected, err := sess.UpdateRecords(ctx, target.TableName(),
				[]query.Condition{
					{Field: target.PrimaryKey, Operator: query.Equal, Value: id},
					{Field: edge.ForeignKey, Operator: query.Equal, Value: parentID},
					{Field: storage.ColumnDeletedAt, Operator: query.IsNull},
				},
				storage.Record{
					storage.ColumnDeletedAt: now,
					storage.ColumnUpdatedAt: now,
				})
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			if affected == 0 {
				e.logger.Debugw("remove skipped a record not linked to the parent",
					"entity", e.entity.Name,
					"relationship", edge.Name,
					"id", id)
			}
		}
	case graph.ManyToMany:
		target := e.mustTarget(edge)
		for _, item := range items {
			id, err := e.itemID(edge, target, item)
			if err != nil {
				return err
			}
			if _, err := sess.DeleteLinks(ctx, edge.Junction, []query.Condition{
				{Field: edge.JunctionLeft, Operator: query.Equal, Value: parentID},
				{Field: edge.JunctionRight, Operator: query.Equal, Value: id},
			}); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
		}
	case graph.ManyToOne:
		return e.setForeignKey(ctx, sess, parentID, edge.ForeignKey, nil)
	case graph.OneToOne:
		return e.clearRelation(ctx, sess, parentID, edge)
	}
	return nil
}

// itemID extracts a related-record id from a bare identifier or an object
// carrying the target's primary key
func (e *Engine) itemID(edge *graph.Edge, target *schema.EntityType, item interface{}) (interface{}, error) {
	switch v := item.(type) {
	case map[string]interface{}:
		if id, ok := v[target.PrimaryKey]; ok && id != nil {
			return id, nil
		}
		return nil, &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       "object item is missing the target primary key",
		}
	case nil:
		return nil, &InvalidRelationshipPayloadError{
			Entity:       e.entity.Name,
			Relationship: edge.Name,
			Reason:       "item cannot be null",
		}
	default:
		return v, nil
	}
}

// itemList coerces the slice shapes a nested collection value can arrive in
func itemList(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	case []storage.Record:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = map[string]interface{}(item)
		}
		return out, true
	default:
		return nil, false
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
