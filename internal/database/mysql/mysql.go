package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/config"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

type mysqlHandler struct{}

var _ database.DialectHandler = (*mysqlHandler)(nil)

const defaultPort = 3306

func (h mysqlHandler) CreateCloudSQLPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	instanceConnectionName := cfg.CloudSQLInstanceConnectionName
	if cfg.User == "" || cfg.Password == "" || cfg.DBName == "" || instanceConnectionName == "" {
		return nil, fmt.Errorf("missing required CloudSQL connection parameter (user, pass, db, instance)")
	}

	d, err := cloudsqlconn.NewDialer(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cloudsqlconn.NewDialer: %w", err)
	}

	var opts []cloudsqlconn.DialOption
	if cfg.UsePrivateIP {
		opts = append(opts, cloudsqlconn.WithPrivateIP())
	}

	network := fmt.Sprintf("cloudsql-%s", instanceConnectionName)

	mysql.RegisterDialContext(network,
		func(ctx context.Context, addr string) (net.Conn, error) {
			conn, dialErr := d.Dial(ctx, instanceConnectionName, opts...)
			if dialErr != nil {
				zap.L().Error("Cloud SQL dial failed",
					zap.String("instance", instanceConnectionName),
					zap.Error(dialErr))
			}
			return conn, dialErr
		})

	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = network
	mysqlCfg.Addr = instanceConnectionName
	mysqlCfg.DBName = cfg.DBName
	mysqlCfg.AllowNativePasswords = true
	mysqlCfg.ParseTime = true

	dbPool, err := sql.Open("mysql", mysqlCfg.FormatDSN())
	if err != nil {
		mysql.DeregisterDialContext(network)
		d.Close()
		return nil, fmt.Errorf("sql.Open failed for CloudSQL MySQL: %w", err)
	}
	return dbPool, nil
}

func (h mysqlHandler) CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mysqlCfg.DBName = cfg.DBName
	mysqlCfg.AllowNativePasswords = true
	mysqlCfg.ParseTime = true
	if cfg.SSLMode != "" && cfg.SSLMode != "disable" {
		mysqlCfg.TLSConfig = "true"
	}

	dbPool, err := sql.Open("mysql", mysqlCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("sql.Open (standard mysql): %w", err)
	}
	return dbPool, nil
}

func (h mysqlHandler) QuoteIdentifier(name string) string {
	name = strings.ReplaceAll(name, "`", "``")
	return fmt.Sprintf("`%s`", name)
}

// DefaultSchema is the connected database; MySQL has no separate schema level.
func (h mysqlHandler) DefaultSchema(cfg config.DatabaseConfig) string {
	return cfg.DBName
}

func (h mysqlHandler) GuardrailDialect() guardrail.Dialect {
	return guardrail.DialectMySQL
}

func (h mysqlHandler) SupportsReadOnlyTx() bool {
	return true
}

const listObjectsQuery = "SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME"

func (h mysqlHandler) ListObjects(ctx context.Context, db *database.DB) ([]database.ObjectInfo, error) {
	rows, err := db.QueryContext(ctx, listObjectsQuery)
	if err != nil {
		return nil, fmt.Errorf("error querying objects: %w", err)
	}
	return database.ScanObjects(rows)
}

const listColumnsQuery = `
SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH,
       CASE WHEN COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

func (h mysqlHandler) ListColumns(ctx context.Context, db *database.DB, schemaName, objectName string) ([]schema.Column, error) {
	rows, err := db.QueryContext(ctx, listColumnsQuery, schemaName, objectName)
	if err != nil {
		return nil, fmt.Errorf("error querying columns for table %s: %w", objectName, err)
	}
	return database.ScanColumns(rows)
}

const listForeignKeysQuery = `
SELECT CONSTRAINT_NAME, TABLE_SCHEMA, TABLE_NAME, COLUMN_NAME,
       REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION`

func (h mysqlHandler) ListForeignKeys(ctx context.Context, db *database.DB) ([]database.ForeignKeyInfo, error) {
	rows, err := db.QueryContext(ctx, listForeignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("error querying foreign keys: %w", err)
	}
	return database.ScanForeignKeys(rows)
}

func init() {
	database.RegisterDialectHandler("mysql", mysqlHandler{})
	database.RegisterDialectHandler("cloudsqlmysql", mysqlHandler{})
}
