// Package db binds the repository engine's storage contract to MySQL through
// GORM. A Manager owns the connection pool; Begin hands out transactional
// sessions that translate query values into parameterized SQL over the
// catalog's dynamic tables. Schema migration is out of scope: tables are
// expected to exist and match the catalog.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

var _ storage.Store = (*Manager)(nil)

// NewManager opens a connection pool for the configured MySQL database.
// The catalog determines primary-key assignment for inserts; a nil logger
// disables logging. Each Manager is independent: callers that want a single
// pool share the Manager value, not a package global.
func NewManager(config *Config, catalog *schema.Catalog, logger *zap.SugaredLogger) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	dsn, err := config.DSN()
	if err != nil {
		return nil, fmt.Errorf("invalid DSN configuration: %w", err)
	}

	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true, // transactions are explicit through Begin
		PrepareStmt:            config.PrepareStmt,
		Logger:                 newStatementLogger(config.Logging, logger),
	}

	gdb, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Manager{
		config:  config,
		catalog: catalog,
		db:      gdb,
		logger:  logger,
	}, nil
}

// Begin starts a database transaction and returns it as a storage session
func (m *Manager) Begin(ctx context.Context) (storage.Tx, error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	return &sqlTx{
		db:           tx,
		catalog:      m.catalog,
		queryTimeout: m.config.QueryTimeout,
	}, nil
}

// DB returns the GORM database handle for operations outside the storage
// contract (migrations, raw statements)
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns connection pool statistics
func (m *Manager) Stats() (sql.DBStats, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// Close closes the connection pool
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newStatementLogger adapts the zap logger to GORM's statement logging,
// carrying the slow-query threshold and parameter redaction settings
func newStatementLogger(cfg LoggingConfig, log *zap.SugaredLogger) gormlogger.Interface {
	return gormlogger.New(zapPrintf{log}, gormlogger.Config{
		SlowThreshold:             cfg.SlowQueryThreshold,
		LogLevel:                  statementLogLevel(cfg.Level),
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      !cfg.LogQueryParameters,
	})
}

// zapPrintf satisfies GORM's logger.Writer
type zapPrintf struct {
	log *zap.SugaredLogger
}

func (w zapPrintf) Printf(format string, args ...interface{}) {
	w.log.Infof(format, args...)
}

func statementLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	case "silent":
		return gormlogger.Silent
	default:
		return gormlogger.Error
	}
}
