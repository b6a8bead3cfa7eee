// Package cache is a best-effort read-through record cache over Redis.
// Invalidation is graph-driven: a write to one entity type clears the
// cached reads of that entity and of every entity the model graph connects
// it to, in both directions. Dependents go stale because their hydrated
// reads embed the written entity; dependencies go stale because nested
// writes can create or relink their records. Cache failures are reported
// to the logger and metrics, never to the caller's data path.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// Manager owns the Redis client and the low-level cache operations
type Manager struct {
	config  *Config
	graph   *graph.Graph
	client  redis.UniversalClient
	metrics *Metrics
	logger  *zap.SugaredLogger
}

// NewManager creates a cache manager. The graph drives entity invalidation;
// a nil graph limits invalidation to the written entity itself.
func NewManager(config *Config, g *graph.Graph, logger *zap.SugaredLogger) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	m := &Manager{
		config:  config,
		graph:   g,
		metrics: NewMetrics(),
		logger:  logger,
	}
	if config.Enabled {
		m.client = newClient(config)
	}
	return m, nil
}

// newClient builds a universal client covering both single-instance and
// cluster deployments
func newClient(config *Config) redis.UniversalClient {
	opts := &redis.UniversalOptions{
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		ConnMaxLifetime: config.MaxConnAge,
		PoolTimeout:     config.PoolTimeout,
		ConnMaxIdleTime: config.IdleTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		DialTimeout:     config.DialTimeout,
	}
	if config.IsClusterMode() {
		opts.Addrs = config.Cluster.Addresses
		opts.Username = config.Cluster.Username
		opts.Password = config.Cluster.Password
	} else {
		opts.Addrs = []string{config.GetAddr()}
		opts.Password = config.Password
		opts.DB = config.Database
	}
	return redis.NewUniversalClient(opts)
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection. A disabled cache pings successfully.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that the cache is enabled and connected
func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Get retrieves raw bytes; ErrKeyNotFound marks a miss
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := m.client.Get(ctx, key)
	m.metrics.RecordGet(time.Since(start))

	if result.Err() == redis.Nil {
		m.metrics.RecordCacheMiss()
		if m.config.Logging.LogCacheMisses {
			m.logger.Debugw("cache miss", "key", key)
		}
		return nil, ErrKeyNotFound
	}
	if result.Err() != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", result.Err())
	}

	m.metrics.RecordCacheHit()
	if m.config.Logging.LogCacheHits {
		m.logger.Debugw("cache hit", "key", key)
	}
	return []byte(result.Val()), nil
}

// Set stores raw bytes under the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores raw bytes with an explicit TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a single key
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Del(ctx, key).Err()
	m.metrics.RecordDelete(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// GetRecord retrieves and decodes one cached record
func (m *Manager) GetRecord(ctx context.Context, key string) (storage.Record, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(data)
}

// SetRecord encodes and stores one record
func (m *Manager) SetRecord(ctx context.Context, key string, rec storage.Record) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, data)
}

// GetRecords retrieves and decodes a cached result page
func (m *Manager) GetRecords(ctx context.Context, key string) ([]storage.Record, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(data)
}

// SetRecords encodes and stores a result page
func (m *Manager) SetRecords(ctx context.Context, key string, recs []storage.Record) error {
	data, err := EncodeRecords(recs)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, data)
}

// InvalidatePattern removes keys matching a pattern using SCAN instead of
// KEYS; SCAN is non-blocking and safe against production servers
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	const scanBatchSize = 100
	var cursor uint64
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			m.metrics.RecordCacheError()
			return fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}
		if len(batch) > 0 {
			if err := m.client.Del(ctx, batch...).Err(); err != nil {
				m.metrics.RecordCacheError()
				return fmt.Errorf("failed to delete batch: %w", err)
			}
			m.metrics.RecordInvalidation()
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// InvalidateEntity clears the cached reads of one entity type, of every
// entity whose hydrated reads can embed it, and of every entity it can
// reach through nested writes. Writes against one engine may create or
// relink records of related types (nested create, junction links, bare-id
// relinks), so both closures go stale together.
func (m *Manager) InvalidateEntity(ctx context.Context, entity string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	patterns := []string{EntityPattern(entity)}
	if m.graph != nil {
		seen := map[string]bool{entity: true}
		for _, related := range m.graph.DependentsOf(entity) {
			if !seen[related] {
				seen[related] = true
				patterns = append(patterns, EntityPattern(related))
			}
		}
		for _, related := range m.graph.DependenciesOf(entity) {
			if !seen[related] {
				seen[related] = true
				patterns = append(patterns, EntityPattern(related))
			}
		}
	}

	if m.config.Logging.LogInvalidations {
		m.logger.Debugw("invalidating entity caches", "entity", entity, "patterns", patterns)
	}
	for _, pattern := range patterns {
		if err := m.InvalidatePattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all performance counters
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}
