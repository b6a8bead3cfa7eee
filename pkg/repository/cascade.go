package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/query"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// DeleteWithCascade removes one record and its dependents.
//
// Hard deletion physically removes rows depth-first, children before the
// record they reference, so no moment leaves a dangling foreign key.
// Dependent records reached over an edge without CascadeDelete are kept and
// their foreign-key column is cleared instead. Junction links touching the
// record are always removed.
//
// Soft deletion stamps deleted_at on the record first and then walks the
// same dependent edges, recursing only where CascadeSoftDelete holds (it
// defaults to true in the catalog). Links and foreign keys stay in place so
// the tree remains restorable.
//
// A visited set guards both walks against relationship cycles.
func (e *Engine) DeleteWithCascade(ctx context.Context, sess storage.Session, id interface{}, hardDelete bool) error {
	if id == nil {
		return fmt.Errorf("id cannot be nil")
	}
	if _, err := e.GetByID(ctx, sess, id, true); err != nil {
		return err
	}

	e.logger.Debugw("cascade delete",
		"entity", e.entity.Name,
		"id", id,
		"hard", hardDelete,
		"dependent_closure", e.graph.DependentsOf(e.entity.Name))

	visited := map[string]bool{}
	if hardDelete {
		return e.hardDeleteRecord(ctx, sess, e.entity, id, visited)
	}
	return e.softDeleteRecord(ctx, sess, e.entity, id, visited)
}

func (e *Engine) hardDeleteRecord(ctx context.Context, sess storage.Session, entity *schema.EntityType, id interface{}, visited map[string]bool) error {
	key := visitKey(entity.Name, id)
	if visited[key] {
		return nil
	}
	visited[key] = true

	dependent := e.graph.DependentEdges(entity.Name)

	// children first, so the row's key is unreferenced by the time it goes
	for _, edge := range dependent {
		if !edge.CascadeDelete {
			continue
		}
		holder := e.holderEntity(edge)
		rows, err := sess.SelectRecords(ctx, query.NewBuilder(holder.TableName()).
			Where(edge.ForeignKey, query.Equal, id).
			Build())
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		for _, row := range rows {
			if err := e.hardDeleteRecord(ctx, sess, holder, row[holder.PrimaryKey], visited); err != nil {
				return err
			}
		}
	}

	// survivors over non-cascading edges get their reference cleared
	for _, edge := range dependent {
		if edge.CascadeDelete {
			continue
		}
		holder := e.holderEntity(edge)
		if _, err := sess.UpdateRecords(ctx, holder.TableName(),
			[]query.Condition{{Field: edge.ForeignKey, Operator: query.Equal, Value: id}},
			storage.Record{
				edge.ForeignKey:         nil,
				storage.ColumnUpdatedAt: e.now().UTC(),
			}); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	}

	for _, edge := range e.graph.JunctionEdges(entity.Name) {
		if edge.Source == entity.Name {
			if _, err := sess.DeleteLinks(ctx, edge.Junction, []query.Condition{
				{Field: edge.JunctionLeft, Operator: query.Equal, Value: id},
			}); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
		}
		if edge.Target == entity.Name {
			if _, err := sess.DeleteLinks(ctx, edge.Junction, []query.Condition{
				{Field: edge.JunctionRight, Operator: query.Equal, Value: id},
			}); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
		}
	}

	if _, err := sess.DeleteRecords(ctx, entity.TableName(), []query.Condition{
		{Field: entity.PrimaryKey, Operator: query.Equal, Value: id},
	}); err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

func (e *Engine) softDeleteRecord(ctx context.Context, sess storage.Session, entity *schema.EntityType, id interface{}, visited map[string]bool) error {
	key := visitKey(entity.Name, id)
	if visited[key] {
		return nil
	}
	visited[key] = true

	// parent marked first; order matters less than for hard deletion since
	// nothing is physically removed, the walk just mirrors it
	now := e.now().UTC()
	if _, err := sess.UpdateRecords(ctx, entity.TableName(),
		[]query.Condition{{Field: entity.PrimaryKey, Operator: query.Equal, Value: id}},
		storage.Record{
			storage.ColumnDeletedAt: now,
			storage.ColumnUpdatedAt: now,
		}); err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	for _, edge := range e.graph.DependentEdges(entity.Name) {
		if !edge.CascadeSoftDelete {
			continue
		}
		holder := e.holderEntity(edge)
		rows, err := sess.SelectRecords(ctx, query.NewBuilder(holder.TableName()).
			Where(edge.ForeignKey, query.Equal, id).
			Where(storage.ColumnDeletedAt, query.IsNull, nil).
			Build())
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		for _, row := range rows {
			if err := e.softDeleteRecord(ctx, sess, holder, row[holder.PrimaryKey], visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// holderEntity returns the entity whose table carries the edge's foreign key
func (e *Engine) holderEntity(edge *graph.Edge) *schema.EntityType {
	entity, _ := e.graph.Entity(edge.ForeignKeyHolder())
	return entity
}

func visitKey(entity string, id interface{}) string {
	return entity + "\x00" + recordKey(id)
}
