package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/config"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/logging"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

// Adapter defines the database operations used by the assistant and the CLI.
type Adapter interface {
	LoadSchema(ctx context.Context) (*schema.Catalog, error)
	ExecuteQuery(ctx context.Context, sqlText string) (*QueryResult, error)
	CountRows(ctx context.Context, sqlText string) (int64, error)
	Dialect() guardrail.Dialect
	Ping(ctx context.Context) error
	Close() error
}

var _ Adapter = (*DB)(nil)

// DefaultQueryTimeout applies when DB.QueryTimeout is zero.
const DefaultQueryTimeout = 30 * time.Second

// DB holds the database connection pool and dialect handler.
type DB struct {
	Pool         *sql.DB
	Handler      DialectHandler
	Config       config.DatabaseConfig
	QueryTimeout time.Duration
	Logger       *zap.Logger
}

// ObjectInfo identifies a table or view found by introspection.
type ObjectInfo struct {
	Schema string
	Name   string
	Kind   schema.ObjectKind
}

// ForeignKeyInfo is one column pair of a foreign key constraint.
type ForeignKeyInfo struct {
	Name      string
	Schema    string
	Table     string
	Column    string
	RefSchema string
	RefTable  string
	RefColumn string
}

// QueryResult holds the rows returned by ExecuteQuery. Byte slices are
// converted to strings.
type QueryResult struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// DialectHandler implements the dialect specific parts of DB.
type DialectHandler interface {
	CreateCloudSQLPool(cfg config.DatabaseConfig) (*sql.DB, error)
	CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error)
	QuoteIdentifier(name string) string
	DefaultSchema(cfg config.DatabaseConfig) string
	ListObjects(ctx context.Context, db *DB) ([]ObjectInfo, error)
	ListColumns(ctx context.Context, db *DB, schemaName, objectName string) ([]schema.Column, error)
	ListForeignKeys(ctx context.Context, db *DB) ([]ForeignKeyInfo, error)
	GuardrailDialect() guardrail.Dialect
	// SupportsReadOnlyTx reports whether queries can run inside a read-only
	// transaction.
	SupportsReadOnlyTx() bool
}

var (
	dialectHandlers = make(map[string]DialectHandler)
	mu              sync.RWMutex
)

func RegisterDialectHandler(dialect string, handler DialectHandler) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := dialectHandlers[dialect]; exists {
		zap.L().Warn("Dialect handler is being overwritten", zap.String("dialect", dialect))
	}
	dialectHandlers[dialect] = handler
}

func GetDialectHandler(dialect string) (DialectHandler, error) {
	mu.RLock()
	defer mu.RUnlock()
	handler, ok := dialectHandlers[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}
	return handler, nil
}

// New opens and pings a connection pool for cfg.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	handler, err := GetDialectHandler(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var pool *sql.DB
	if cfg.IsCloudSQL() {
		pool, err = handler.CreateCloudSQLPool(cfg)
	} else {
		pool, err = handler.CreateStandardPool(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool for dialect %s: %s", cfg.Dialect, logging.SanitizeError(err))
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database (ping failed) for dialect %s: %s", cfg.Dialect, logging.SanitizeError(err))
	}

	logger.Info("Connected to database",
		zap.String("dialect", cfg.Dialect),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName))

	return &DB{
		Pool:    pool,
		Handler: handler,
		Config:  cfg,
		Logger:  logger.Named("database"),
	}, nil
}

func (db *DB) log() *zap.Logger {
	if db.Logger == nil {
		return zap.NewNop()
	}
	return db.Logger
}

func (db *DB) timeout() time.Duration {
	if db.QueryTimeout > 0 {
		return db.QueryTimeout
	}
	return DefaultQueryTimeout
}

// Dialect returns the guardrail dialect for the connected database.
func (db *DB) Dialect() guardrail.Dialect {
	if db.Handler == nil {
		return guardrail.DialectSQLServer
	}
	return db.Handler.GuardrailDialect()
}

func (db *DB) Ping(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("database connection pool is not initialized")
	}
	return db.Pool.PingContext(ctx)
}

func (db *DB) Close() error {
	if db.Pool != nil {
		return db.Pool.Close()
	}
	db.log().Warn("Attempted to close a nil database connection pool")
	return nil
}

// QueryContext runs an introspection query on the pool.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database connection pool is not initialized")
	}
	return db.Pool.QueryContext(ctx, query, args...)
}

// LoadSchema introspects tables, views, columns and foreign keys and builds
// the catalog used by the guardrail. Column lists are fetched concurrently,
// bounded by the pool size.
func (db *DB) LoadSchema(ctx context.Context) (*schema.Catalog, error) {
	if db.Handler == nil {
		return nil, fmt.Errorf("dialect handler not initialized")
	}
	start := time.Now()

	infos, err := db.Handler.ListObjects(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	objects := make([]schema.Object, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	limit := db.Config.MaxOpenConns
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, info := range infos {
		objects[i] = schema.Object{Kind: info.Kind, Schema: info.Schema, Name: info.Name}
		g.Go(func() error {
			cols, err := db.Handler.ListColumns(gctx, db, info.Schema, info.Name)
			if err != nil {
				return fmt.Errorf("failed to list columns for %s.%s: %w", info.Schema, info.Name, err)
			}
			objects[i].Columns = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fks, err := db.Handler.ListForeignKeys(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}
	attachForeignKeys(objects, fks)

	catalog, err := schema.NewCatalog(db.Handler.DefaultSchema(db.Config), objects...)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	catalog = catalog.WithDatabase(db.Config.DBName)

	db.log().Info("Loaded schema",
		zap.Int("objects", catalog.Len()),
		zap.Int("tables", len(catalog.Tables())),
		zap.Int("views", len(catalog.Views())),
		zap.Int("foreign_key_columns", len(fks)),
		zap.Duration("elapsed", time.Since(start)))
	return catalog, nil
}

// attachForeignKeys groups foreign key column pairs by constraint and adds
// them to the owning objects. Pairs are expected in constraint column order.
func attachForeignKeys(objects []schema.Object, fks []ForeignKeyInfo) {
	index := make(map[string]int, len(objects))
	for i, o := range objects {
		index[strings.ToLower(o.Schema+"."+o.Name)] = i
	}
	for _, fk := range fks {
		i, ok := index[strings.ToLower(fk.Schema+"."+fk.Table)]
		if !ok {
			continue
		}
		keys := objects[i].ForeignKeys
		if n := len(keys); n > 0 && keys[n-1].Name == fk.Name {
			keys[n-1].Columns = append(keys[n-1].Columns, fk.Column)
			keys[n-1].RefColumns = append(keys[n-1].RefColumns, fk.RefColumn)
			continue
		}
		objects[i].ForeignKeys = append(keys, schema.ForeignKey{
			Name:       fk.Name,
			Columns:    []string{fk.Column},
			RefSchema:  fk.RefSchema,
			RefTable:   fk.RefTable,
			RefColumns: []string{fk.RefColumn},
		})
	}
}

// ExecuteQuery runs sqlText exactly as given and reads all rows. Callers pass
// only text approved by the guardrail. Where the dialect allows it the query
// runs in a read-only transaction that is always rolled back.
func (db *DB) ExecuteQuery(ctx context.Context, sqlText string) (*QueryResult, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database connection pool is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, db.timeout())
	defer cancel()

	start := time.Now()
	var (
		rows *sql.Rows
		err  error
	)
	if db.Handler != nil && db.Handler.SupportsReadOnlyTx() {
		tx, txErr := db.Pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if txErr != nil {
			return nil, fmt.Errorf("failed to begin read-only transaction: %w", txErr)
		}
		defer tx.Rollback()
		rows, err = tx.QueryContext(ctx, sqlText)
	} else {
		rows, err = db.Pool.QueryContext(ctx, sqlText)
	}
	if err != nil {
		db.log().Warn("Query failed",
			zap.String("query", logging.TruncateQuery(sqlText)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result, err := readRows(rows)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	db.log().Debug("Query executed",
		zap.String("query", logging.TruncateQuery(sqlText)),
		zap.Int("rows", len(result.Rows)),
		zap.Duration("elapsed", result.Duration))
	return result, nil
}

func readRows(rows *sql.Rows) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return result, nil
}

// CountRows runs a count probe and returns its single value.
func (db *DB) CountRows(ctx context.Context, sqlText string) (int64, error) {
	result, err := db.ExecuteQuery(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	if len(result.Rows) != 1 || len(result.Rows[0]) != 1 {
		return 0, fmt.Errorf("count probe returned %d rows, expected a single value", len(result.Rows))
	}
	return toInt64(result.Rows[0][0])
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		if _, err := fmt.Sscan(n, &out); err != nil {
			return 0, fmt.Errorf("count probe returned non-numeric value %q", n)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("count probe returned unexpected type %T", v)
	}
}
