package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Database providers understood by Options.UseProvider
const (
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
)

// sqliteDriverName is the database/sql driver registered by modernc.org/sqlite
const sqliteDriverName = "sqlite"

// Options configures a DbContext. It is filled in by the AddDbContext callback.
type Options struct {
	Provider         string
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	LogLevel         string // silent, error, warn, info
}

// UseSQLite selects the SQLite provider with the given connection string
func (o *Options) UseSQLite(connectionString string) *Options {
	o.Provider = ProviderSQLite
	o.ConnectionString = connectionString
	return o
}

// UsePostgres selects the PostgreSQL provider with the given connection string
func (o *Options) UsePostgres(connectionString string) *Options {
	o.Provider = ProviderPostgres
	o.ConnectionString = connectionString
	return o
}

// UseProvider selects a provider by name
func (o *Options) UseProvider(provider, connectionString string) *Options {
	switch strings.ToLower(provider) {
	case ProviderPostgres:
		return o.UsePostgres(connectionString)
	case ProviderSQLite, "":
		return o.UseSQLite(connectionString)
	default:
		o.Provider = provider
		o.ConnectionString = connectionString
		return o
	}
}

// DbContext is the ORM session factory. One DbContext owns one connection pool;
// Session hands out request-scoped gorm sessions on top of it.
type DbContext struct {
	opts   Options
	logger *zap.SugaredLogger

	mu     sync.Mutex
	db     *gorm.DB
	sqlDB  *sql.DB
	models []any
}

// NewDbContext creates an unopened session factory
func NewDbContext(opts Options, logger *zap.SugaredLogger) *DbContext {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 2
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "warn"
	}
	return &DbContext{opts: opts, logger: logger}
}

// Options returns the options the factory was created with
func (c *DbContext) Options() Options {
	return c.opts
}

// Provider returns the configured provider name
func (c *DbContext) Provider() string {
	return c.opts.Provider
}

// RegisterModels adds entity types to be migrated when the factory opens.
// Stores call this so their schema travels with them.
func (c *DbContext) RegisterModels(models ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range models {
		name := fmt.Sprintf("%T", m)
		duplicate := false
		for _, existing := range c.models {
			if fmt.Sprintf("%T", existing) == name {
				duplicate = true
				break
			}
		}
		if !duplicate {
			c.models = append(c.models, m)
		}
	}
}

// Open connects to the database and migrates registered models. It is idempotent.
func (c *DbContext) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	if strings.TrimSpace(c.opts.ConnectionString) == "" {
		return ErrMissingConnectionString
	}

	dialector, err := c.dialector()
	if err != nil {
		return err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(c.logger, c.opts.LogLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", c.opts.Provider, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}

	if c.opts.Provider == ProviderSQLite {
		if err := configureSQLitePool(ctx, sqlDB, c.opts, c.logger); err != nil {
			_ = sqlDB.Close()
			return err
		}
	} else {
		sqlDB.SetMaxOpenConns(c.opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(c.opts.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(c.opts.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to ping %s database: %w", c.opts.Provider, err)
	}

	if len(c.models) > 0 {
		if err := db.WithContext(ctx).AutoMigrate(c.models...); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	c.db = db
	c.sqlDB = sqlDB
	c.logger.Infow("Database session factory opened",
		"provider", c.opts.Provider,
		"models", len(c.models))
	return nil
}

func (c *DbContext) dialector() (gorm.Dialector, error) {
	switch c.opts.Provider {
	case ProviderSQLite:
		dsn, err := sqliteDSN(c.opts.ConnectionString)
		if err != nil {
			return nil, err
		}
		return sqlite.New(sqlite.Config{DriverName: sqliteDriverName, DSN: dsn}), nil
	case ProviderPostgres:
		return postgres.Open(c.opts.ConnectionString), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, c.opts.Provider)
	}
}

// Session returns a new gorm session bound to ctx. Each call is an independent
// unit of work; use WithTransaction for atomic multi-statement work.
func (c *DbContext) Session(ctx context.Context) (*gorm.DB, error) {
	c.mu.Lock()
	db := c.db
	c.mu.Unlock()

	if db == nil {
		return nil, ErrDatabaseClosed
	}
	return db.WithContext(ctx), nil
}

// WithTransaction executes fn within a transaction, rolling back when fn
// returns an error or panics.
func (c *DbContext) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := c.Session(ctx)
	if err != nil {
		return err
	}
	return db.Transaction(fn)
}

// HealthCheck pings the database
func (c *DbContext) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	sqlDB := c.sqlDB
	c.mu.Unlock()

	if sqlDB == nil {
		return ErrDatabaseClosed
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool. Further sessions fail with ErrDatabaseClosed.
func (c *DbContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sqlDB == nil {
		return nil
	}
	err := c.sqlDB.Close()
	c.db = nil
	c.sqlDB = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// sqliteDSN normalizes a connection string into a modernc DSN with the
// connection-level pragmas that must hold on every pooled connection.
func sqliteDSN(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)

	// Accept "Data Source=<path>" style strings.
	for _, part := range strings.Split(dsn, ";") {
		key, value, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "data source") {
			dsn = strings.TrimSpace(value)
			break
		}
	}

	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	if !isSQLiteMemory(dsn) {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := validateDatabasePath(path); err != nil {
			return "", fmt.Errorf("invalid database path: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !isSQLiteMemory(dsn) {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + pragmas, nil
	}
	return dsn + "?" + pragmas, nil
}

func isSQLiteMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// configureSQLitePool applies pool limits and verifies the pragmas took effect.
func configureSQLitePool(ctx context.Context, db *sql.DB, opts Options, logger *zap.SugaredLogger) error {
	dsn, _ := sqliteDSN(opts.ConnectionString)
	memory := isSQLiteMemory(dsn)

	if memory {
		// A shared-cache memory database lives only while a connection is open.
		db.SetMaxIdleConns(opts.MaxOpenConns)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	var fkEnabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("CRITICAL: foreign keys not enabled (got: %d, expected: 1) - referential integrity will not be enforced", fkEnabled)
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if !memory && journalMode != "wal" {
		return fmt.Errorf("CRITICAL: WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite pool configured: foreign keys on, journal mode %s", journalMode)
	return nil
}

// validateDatabasePath rejects database paths that could escape the working directory
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if filepath.IsAbs(dbPath) && !strings.HasPrefix(dbPath, os.TempDir()) {
		return fmt.Errorf("absolute paths not allowed outside %s: %s", os.TempDir(), dbPath)
	}
	return nil
}

// gormWriter forwards gorm log output to zap
type gormWriter struct {
	logger *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Debugf(format, args...)
}

func newGormLogger(logger *zap.SugaredLogger, level string) gormlogger.Interface {
	lvl := gormlogger.Warn
	switch level {
	case "silent":
		lvl = gormlogger.Silent
	case "error":
		lvl = gormlogger.Error
	case "info":
		lvl = gormlogger.Info
	}
	return gormlogger.New(gormWriter{logger: logger}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
