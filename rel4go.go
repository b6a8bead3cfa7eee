// Package rel4go provides a relationship-graph driven repository engine
// for schemaless records, with MySQL persistence and Redis read caching.
package rel4go

import (
	"go.uber.org/zap"

	"github.com/ammar0144/rel4go/pkg/cache"
	"github.com/ammar0144/rel4go/pkg/db"
	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/memstore"
	"github.com/ammar0144/rel4go/pkg/repository"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// Record is one schemaless row keyed by column name
type Record = storage.Record

// EntityType declares one entity's table, key and relationships
type EntityType = schema.EntityType

// RelationshipDescriptor declares one relationship on an entity
type RelationshipDescriptor = schema.RelationshipDescriptor

// Catalog holds the registered entity declarations
type Catalog = schema.Catalog

// Graph is the classified relationship graph built from a catalog
type Graph = graph.Graph

// GraphOptions tunes graph construction and traversal
type GraphOptions = graph.Options

// Engine executes persistence operations for one entity type
type Engine = repository.Engine

// EngineOptions tunes engine behavior
type EngineOptions = repository.Options

// ListParams describes filtering, ordering and pagination for list reads
type ListParams = repository.ListParams

// DBConfig represents MySQL connection configuration
type DBConfig = db.Config

// CacheConfig represents Redis cache configuration
type CacheConfig = cache.Config

// NewCatalog validates and indexes the given entity declarations
func NewCatalog(entities ...*EntityType) (*Catalog, error) {
	return schema.NewCatalog(entities...)
}

// NewGraph creates an empty relationship graph
func NewGraph(opts GraphOptions, logger *zap.SugaredLogger) *Graph {
	return graph.NewGraph(opts, logger)
}

// NewEngine creates a repository engine for one entity registered in the graph
func NewEngine(g *Graph, entity string, opts EngineOptions, logger *zap.SugaredLogger) (*Engine, error) {
	return repository.NewEngine(g, entity, opts, logger)
}

// NewDBManager creates a MySQL-backed store
func NewDBManager(config *DBConfig, catalog *Catalog, logger *zap.SugaredLogger) (*db.Manager, error) {
	return db.NewManager(config, catalog, logger)
}

// NewMemStore creates an in-memory store, useful for tests and prototyping
func NewMemStore(catalog *Catalog) *memstore.Store {
	return memstore.New(catalog)
}

// NewCacheManager creates a Redis cache manager whose invalidation follows
// the graph's dependency closure
func NewCacheManager(config *CacheConfig, g *Graph, logger *zap.SugaredLogger) (*cache.Manager, error) {
	return cache.NewManager(config, g, logger)
}

// NewReadThrough wraps an engine with cache-first reads and invalidating
// writes. Pass the manager from NewCacheManager; a disabled cache degrades
// to plain engine calls.
func NewReadThrough(engine *Engine, cacheManager *cache.Manager, logger *zap.SugaredLogger) (*cache.ReadThrough, error) {
	return cache.NewReadThrough(engine, cacheManager, logger)
}
