package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ammar0144/rel4go/pkg/repository"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// ReadThrough wraps one repository engine with cache-first reads. Hits skip
// the store entirely; misses load through the engine and populate the cache.
// Every write delegates to the engine and then invalidates the entity's
// dependent closure.
//
// The wrapper only caches its own entry points. Reads the engine performs
// inside write flows (lock re-fetches, nested hydration) go straight to the
// session, so a multi-statement write never observes stale cached rows.
type ReadThrough struct {
	engine *repository.Engine
	cache  *Manager
	logger *zap.SugaredLogger
}

// NewReadThrough wraps the engine with the cache manager
func NewReadThrough(engine *repository.Engine, cache *Manager, logger *zap.SugaredLogger) (*ReadThrough, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ReadThrough{engine: engine, cache: cache, logger: logger}, nil
}

// Engine returns the wrapped engine
func (r *ReadThrough) Engine() *repository.Engine {
	return r.engine
}

func (r *ReadThrough) entityName() string {
	return r.engine.Entity().Name
}

// ============================================================================
// CACHED READS
// ============================================================================

// GetByID reads one record cache-first
func (r *ReadThrough) GetByID(ctx context.Context, sess storage.Session, id interface{}, includeDeleted bool) (storage.Record, error) {
	key := Key(r.entityName(), "get_by_id", id, includeDeleted)
	if rec, ok := r.cachedRecord(ctx, key); ok {
		return rec, nil
	}

	rec, err := r.engine.GetByID(ctx, sess, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	r.store(key, func() error { return r.cache.SetRecord(ctx, key, rec) })
	return rec, nil
}

// GetByIDWithRelations reads one hydrated record cache-first
func (r *ReadThrough) GetByIDWithRelations(ctx context.Context, sess storage.Session, id interface{}, relations []string, includeDeleted bool) (storage.Record, error) {
	key := Key(r.entityName(), "get_with_relations", id, includeDeleted, strings.Join(relations, ","))
	if rec, ok := r.cachedRecord(ctx, key); ok {
		return rec, nil
	}

	rec, err := r.engine.GetByIDWithRelations(ctx, sess, id, relations, includeDeleted)
	if err != nil {
		return nil, err
	}
	r.store(key, func() error { return r.cache.SetRecord(ctx, key, rec) })
	return rec, nil
}

// List reads one result page cache-first
func (r *ReadThrough) List(ctx context.Context, sess storage.Session, params repository.ListParams) ([]storage.Record, error) {
	key := Key(r.entityName(), "list", listFingerprint(params)...)
	if rows, ok := r.cachedRecords(ctx, key); ok {
		return rows, nil
	}

	rows, err := r.engine.List(ctx, sess, params)
	if err != nil {
		return nil, err
	}
	r.store(key, func() error { return r.cache.SetRecords(ctx, key, rows) })
	return rows, nil
}

// ListWithRelations reads one hydrated result page cache-first
func (r *ReadThrough) ListWithRelations(ctx context.Context, sess storage.Session, params repository.ListParams, relations []string) ([]storage.Record, error) {
	parts := append(listFingerprint(params), "rel", strings.Join(relations, ","))
	key := Key(r.entityName(), "list_with_relations", parts...)
	if rows, ok := r.cachedRecords(ctx, key); ok {
		return rows, nil
	}

	rows, err := r.engine.ListWithRelations(ctx, sess, params, relations)
	if err != nil {
		return nil, err
	}
	r.store(key, func() error { return r.cache.SetRecords(ctx, key, rows) })
	return rows, nil
}

// Count reads a filtered count cache-first
func (r *ReadThrough) Count(ctx context.Context, sess storage.Session, filters map[string]interface{}, includeDeleted bool) (int64, error) {
	parts := append(filterFingerprint(filters), "deleted", includeDeleted)
	key := Key(r.entityName(), "count", parts...)

	if data, err := r.cache.Get(ctx, key); err == nil {
		if n, parseErr := strconv.ParseInt(string(data), 10, 64); parseErr == nil {
			return n, nil
		}
	} else if !IsKeyNotFound(err) && !IsCacheDisabled(err) {
		r.logger.Debugw("cache read failed", "key", key, "error", err)
	}

	n, err := r.engine.Count(ctx, sess, filters, includeDeleted)
	if err != nil {
		return 0, err
	}
	r.store(key, func() error {
		return r.cache.Set(ctx, key, []byte(strconv.FormatInt(n, 10)))
	})
	return n, nil
}

// ============================================================================
// INVALIDATING WRITES
// ============================================================================

// Create delegates and invalidates
func (r *ReadThrough) Create(ctx context.Context, sess storage.Session, payload map[string]interface{}) (storage.Record, error) {
	rec, err := r.engine.Create(ctx, sess, payload)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return rec, nil
}

// CreateWithRelations delegates and invalidates
func (r *ReadThrough) CreateWithRelations(ctx context.Context, sess storage.Session, payload map[string]interface{}) (storage.Record, error) {
	rec, err := r.engine.CreateWithRelations(ctx, sess, payload)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return rec, nil
}

// UpdateWithOptimisticLock delegates and invalidates
func (r *ReadThrough) UpdateWithOptimisticLock(ctx context.Context, sess storage.Session, id interface{}, payload map[string]interface{}, expected interface{}) (storage.Record, error) {
	rec, err := r.engine.UpdateWithOptimisticLock(ctx, sess, id, payload, expected)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return rec, nil
}

// UpdateWithOptimisticLockAndRelations delegates and invalidates
func (r *ReadThrough) UpdateWithOptimisticLockAndRelations(ctx context.Context, sess storage.Session, id interface{}, payload map[string]interface{}, mode repository.SyncMode) (storage.Record, error) {
	rec, err := r.engine.UpdateWithOptimisticLockAndRelations(ctx, sess, id, payload, mode)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return rec, nil
}

// ManageRelations delegates and invalidates
func (r *ReadThrough) ManageRelations(ctx context.Context, sess storage.Session, parentID interface{}, relation string, items []interface{}, op repository.RelationOperation) (storage.Record, error) {
	rec, err := r.engine.ManageRelations(ctx, sess, parentID, relation, items, op)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return rec, nil
}

// SoftDelete delegates and invalidates
func (r *ReadThrough) SoftDelete(ctx context.Context, sess storage.Session, id interface{}) error {
	if err := r.engine.SoftDelete(ctx, sess, id); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// Restore delegates and invalidates
func (r *ReadThrough) Restore(ctx context.Context, sess storage.Session, id interface{}) (storage.Record, error) {
	rec, err := r.engine.Restore(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return rec, nil
}

// DeleteWithCascade delegates and invalidates. The cascade may touch many
// entity types; the graph-driven closure covers them because every affected
// type either depends on this entity or is this entity.
func (r *ReadThrough) DeleteWithCascade(ctx context.Context, sess storage.Session, id interface{}, hardDelete bool) error {
	if err := r.engine.DeleteWithCascade(ctx, sess, id, hardDelete); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (r *ReadThrough) cachedRecord(ctx context.Context, key string) (storage.Record, bool) {
	rec, err := r.cache.GetRecord(ctx, key)
	if err == nil {
		return rec, true
	}
	if !IsKeyNotFound(err) && !IsCacheDisabled(err) {
		r.logger.Debugw("cache read failed", "key", key, "error", err)
	}
	return nil, false
}

func (r *ReadThrough) cachedRecords(ctx context.Context, key string) ([]storage.Record, bool) {
	rows, err := r.cache.GetRecords(ctx, key)
	if err == nil {
		return rows, true
	}
	if !IsKeyNotFound(err) && !IsCacheDisabled(err) {
		r.logger.Debugw("cache read failed", "key", key, "error", err)
	}
	return nil, false
}

// store populates the cache without letting cache failures reach the caller
func (r *ReadThrough) store(key string, set func() error) {
	if err := set(); err != nil && !IsCacheDisabled(err) {
		r.logger.Debugw("cache write failed", "key", key, "error", err)
	}
}

func (r *ReadThrough) invalidate(ctx context.Context) {
	err := r.cache.InvalidateEntity(ctx, r.entityName())
	if err != nil && !IsCacheDisabled(err) {
		r.logger.Warnw("cache invalidation failed", "entity", r.entityName(), "error", err)
	}
}

// listFingerprint flattens list parameters into deterministic key parts
func listFingerprint(params repository.ListParams) []interface{} {
	parts := filterFingerprint(params.Filters)
	parts = append(parts,
		"order", strings.Join(params.OrderBy, ","),
		"offset", params.Offset,
		"limit", params.Limit,
		"deleted", params.IncludeDeleted,
	)
	return parts
}

// filterFingerprint flattens a filter map in sorted key order
func filterFingerprint(filters map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k, filters[k])
	}
	return parts
}
