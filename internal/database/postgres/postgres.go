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
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strings"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/config"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

// postgresHandler struct implements database.DialectHandler for PostgreSQL.
type postgresHandler struct{}

var _ database.DialectHandler = (*postgresHandler)(nil)

const defaultPort = 5432

func valueOrEnv(v, env string) string {
	if v == "" {
		return os.Getenv(env)
	}
	return v
}

// truthy reports whether a boolean-like environment value is set.
func truthy(v string) bool {
	return v != "" && strings.ToLower(v) != "false" && v != "0"
}

// dsnValue quotes a value for a key=value connection string.
func dsnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// CreateCloudSQLPool for PostgreSQL
func (h postgresHandler) CreateCloudSQLPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	dbUser := valueOrEnv(cfg.User, "user_name")
	dbPwd := valueOrEnv(cfg.Password, "password")
	dbName := valueOrEnv(cfg.DBName, "database_name")
	instanceConnectionName := valueOrEnv(cfg.CloudSQLInstanceConnectionName, "instance_name")

	dsn := fmt.Sprintf("user=%s password=%s database=%s", dsnValue(dbUser), dsnValue(dbPwd), dsnValue(dbName))
	pgxConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	var opts []cloudsqlconn.Option
	if cfg.UsePrivateIP || truthy(os.Getenv("PRIVATE_IP")) {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	d, err := cloudsqlconn.NewDialer(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	pgxConfig.DialFunc = func(ctx context.Context, network, instance string) (net.Conn, error) {
		return d.Dial(ctx, instanceConnectionName)
	}
	dbURI := stdlib.RegisterConnConfig(pgxConfig)
	dbPool, err := sql.Open("pgx", dbURI)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	return dbPool, nil
}

// CreateStandardPool creates a standard PostgreSQL connection pool
func (h postgresHandler) CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dsnValue(cfg.Host), port, dsnValue(cfg.User), dsnValue(cfg.Password), dsnValue(cfg.DBName), sslMode,
	)

	dbPool, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return dbPool, nil
}

// QuoteIdentifier for PostgreSQL
func (h postgresHandler) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (h postgresHandler) DefaultSchema(cfg config.DatabaseConfig) string {
	return "public"
}

func (h postgresHandler) GuardrailDialect() guardrail.Dialect {
	return guardrail.DialectPostgres
}

func (h postgresHandler) SupportsReadOnlyTx() bool {
	return true
}

const listObjectsQuery = `
	SELECT table_schema, table_name, table_type
	FROM information_schema.tables
	WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
	AND table_schema NOT LIKE 'pg_toast%'
	ORDER BY table_schema, table_name;`

// ListObjects for PostgreSQL
func (h postgresHandler) ListObjects(ctx context.Context, db *database.DB) ([]database.ObjectInfo, error) {
	rows, err := db.QueryContext(ctx, listObjectsQuery)
	if err != nil {
		return nil, fmt.Errorf("error querying objects: %w", err)
	}
	return database.ScanObjects(rows)
}

const listColumnsQuery = `
	SELECT c.column_name, c.data_type, c.is_nullable, c.character_maximum_length,
		CASE WHEN pk.column_name IS NULL THEN 0 ELSE 1 END AS is_primary_key
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT kcu.table_schema, kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
	) pk ON pk.table_schema = c.table_schema
		AND pk.table_name = c.table_name
		AND pk.column_name = c.column_name
	WHERE c.table_schema = $1
	AND c.table_name = $2
	ORDER BY c.ordinal_position;`

// ListColumns for PostgreSQL
func (h postgresHandler) ListColumns(ctx context.Context, db *database.DB, schemaName, objectName string) ([]schema.Column, error) {
	rows, err := db.QueryContext(ctx, listColumnsQuery, schemaName, objectName)
	if err != nil {
		return nil, fmt.Errorf("error querying columns for table %s.%s: %w", schemaName, objectName, err)
	}
	return database.ScanColumns(rows)
}

const listForeignKeysQuery = `
	SELECT tc.constraint_name,
		kcu.table_schema, kcu.table_name, kcu.column_name,
		ccu.table_schema, ccu.table_name, ccu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.constraint_schema = tc.constraint_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
	ORDER BY kcu.table_schema, kcu.table_name, tc.constraint_name, kcu.ordinal_position;`

// ListForeignKeys for PostgreSQL
func (h postgresHandler) ListForeignKeys(ctx context.Context, db *database.DB) ([]database.ForeignKeyInfo, error) {
	rows, err := db.QueryContext(ctx, listForeignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("error querying foreign keys: %w", err)
	}
	return database.ScanForeignKeys(rows)
}

func init() {
	database.RegisterDialectHandler("postgres", postgresHandler{})
	database.RegisterDialectHandler("cloudsqlpostgres", postgresHandler{})
}
