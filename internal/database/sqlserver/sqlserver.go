/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/cloudsqlconn"
	mssql "github.com/denisenkom/go-mssqldb"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/config"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

// sqlServerHandler struct implements database.DialectHandler for SQL Server.
type sqlServerHandler struct{}

var _ database.DialectHandler = (*sqlServerHandler)(nil)

const defaultPort = 1433

type csqlDialer struct {
	dialer     *cloudsqlconn.Dialer
	connName   string
	usePrivate bool
}

// DialContext adheres to the mssql.Dialer interface.
func (c *csqlDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var opts []cloudsqlconn.DialOption
	if c.usePrivate {
		opts = append(opts, cloudsqlconn.WithPrivateIP())
	}
	return c.dialer.Dial(ctx, c.connName, opts...)
}

// valueOrEnv returns v, or the named environment variable when v is empty.
func valueOrEnv(v, env string) string {
	if v == "" {
		return os.Getenv(env)
	}
	return v
}

// connectionURL builds a sqlserver:// URL with the credentials escaped.
func connectionURL(host string, port int, user, password, dbName string, extra url.Values) string {
	if port == 0 {
		port = defaultPort
	}
	query := url.Values{}
	if dbName != "" {
		query.Set("database", dbName)
	}
	for k, vs := range extra {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// CreateCloudSQLPool for SQL Server
func (h sqlServerHandler) CreateCloudSQLPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	dbUser := valueOrEnv(cfg.User, "user_name")
	dbPwd := valueOrEnv(cfg.Password, "password")
	dbName := valueOrEnv(cfg.DBName, "database_name")
	instanceConnectionName := valueOrEnv(cfg.CloudSQLInstanceConnectionName, "instance_name")
	usePrivate := cfg.UsePrivateIP || os.Getenv("PRIVATE_IP") != ""

	// WithLazyRefresh() Option is used to perform refresh
	// when needed, rather than on a scheduled interval.
	// This is recommended for serverless environments to
	// avoid background refreshes from throttling CPU.
	dialer, err := cloudsqlconn.NewDialer(context.Background(), cloudsqlconn.WithLazyRefresh())
	if err != nil {
		return nil, fmt.Errorf("cloudsqlconn.NewDialer: %w", err)
	}
	connector, err := mssql.NewConnector(connectionURL("localhost", defaultPort, dbUser, dbPwd, dbName,
		url.Values{"dial": {"cloudsqlconn"}, "instance": {instanceConnectionName}}))
	if err != nil {
		return nil, fmt.Errorf("mssql.NewConnector: %w", err)
	}
	connector.Dialer = &csqlDialer{
		dialer:     dialer,
		connName:   instanceConnectionName,
		usePrivate: usePrivate,
	}

	return sql.OpenDB(connector), nil
}

// CreateStandardPool creates a standard SQL Server connection pool
func (h sqlServerHandler) CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	var extra url.Values
	if cfg.SSLMode != "" && cfg.SSLMode != "disable" {
		extra = url.Values{"encrypt": {"true"}}
	}
	connStr := connectionURL(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, extra)

	dbPool, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("sql.Open (standard sqlserver): %w", err)
	}
	return dbPool, nil
}

// QuoteIdentifier for SQL Server
// SQL Server uses square brackets [] for identifiers; a closing bracket is doubled.
func (h sqlServerHandler) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (h sqlServerHandler) DefaultSchema(cfg config.DatabaseConfig) string {
	return "dbo"
}

func (h sqlServerHandler) GuardrailDialect() guardrail.Dialect {
	return guardrail.DialectSQLServer
}

// SupportsReadOnlyTx is false: the driver rejects read-only transaction options.
func (h sqlServerHandler) SupportsReadOnlyTx() bool {
	return false
}

const listObjectsQuery = `
SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_CATALOG = DB_NAME()
  AND TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
ORDER BY TABLE_SCHEMA, TABLE_NAME`

// ListObjects for SQL Server
func (h sqlServerHandler) ListObjects(ctx context.Context, db *database.DB) ([]database.ObjectInfo, error) {
	rows, err := db.QueryContext(ctx, listObjectsQuery)
	if err != nil {
		return nil, fmt.Errorf("error querying objects: %w", err)
	}
	return database.ScanObjects(rows)
}

const listColumnsQuery = `
SELECT
    c.name AS column_name,
    tp.name AS data_type,
    CASE WHEN c.is_nullable = 1 THEN 'YES' ELSE 'NO' END AS is_nullable,
    CASE
        WHEN c.max_length = -1 THEN NULL
        WHEN tp.name IN ('nchar', 'nvarchar') THEN c.max_length / 2
        WHEN tp.name IN ('char', 'varchar', 'binary', 'varbinary') THEN c.max_length
        ELSE NULL
    END AS max_length,
    CASE WHEN EXISTS (
        SELECT 1
        FROM sys.index_columns ic
        JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
        WHERE i.is_primary_key = 1
          AND ic.object_id = c.object_id
          AND ic.column_id = c.column_id
    ) THEN 1 ELSE 0 END AS is_primary_key
FROM sys.columns c
JOIN sys.types tp ON c.user_type_id = tp.user_type_id
WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
ORDER BY c.column_id`

// ListColumns for SQL Server
func (h sqlServerHandler) ListColumns(ctx context.Context, db *database.DB, schemaName, objectName string) ([]schema.Column, error) {
	rows, err := db.QueryContext(ctx, listColumnsQuery,
		sql.Named("schema", schemaName),
		sql.Named("table", objectName))
	if err != nil {
		return nil, fmt.Errorf("error querying columns: %w", err)
	}
	return database.ScanColumns(rows)
}

const listForeignKeysQuery = `
SELECT
    fk.name AS constraint_name,
    SCHEMA_NAME(fk.schema_id) AS source_schema,
    OBJECT_NAME(fk.parent_object_id) AS source_table,
    COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS source_column,
    SCHEMA_NAME(rt.schema_id) AS target_schema,
    OBJECT_NAME(fk.referenced_object_id) AS target_table,
    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS target_column
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
ORDER BY source_schema, source_table, fk.name, fkc.constraint_column_id`

// ListForeignKeys for SQL Server
func (h sqlServerHandler) ListForeignKeys(ctx context.Context, db *database.DB) ([]database.ForeignKeyInfo, error) {
	rows, err := db.QueryContext(ctx, listForeignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("error querying foreign keys: %w", err)
	}
	return database.ScanForeignKeys(rows)
}

func init() {
	handler := sqlServerHandler{}
	database.RegisterDialectHandler("sqlserver", handler)
	database.RegisterDialectHandler("cloudsqlsqlserver", handler)
}
