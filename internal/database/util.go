package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

// objectKind maps an INFORMATION_SCHEMA.TABLES table_type to a catalog kind.
// "VIEW" and MySQL's "SYSTEM VIEW" are views, everything else is a table.
func objectKind(tableType string) schema.ObjectKind {
	if strings.Contains(strings.ToUpper(tableType), "VIEW") {
		return schema.KindView
	}
	return schema.KindTable
}

// ScanObjects reads (schema, name, table_type) rows.
func ScanObjects(rows *sql.Rows) ([]ObjectInfo, error) {
	defer rows.Close()
	var objects []ObjectInfo
	for rows.Next() {
		var schemaName, name, tableType string
		if err := rows.Scan(&schemaName, &name, &tableType); err != nil {
			return nil, fmt.Errorf("failed to scan object row: %w", err)
		}
		objects = append(objects, ObjectInfo{Schema: schemaName, Name: name, Kind: objectKind(tableType)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating object rows: %w", err)
	}
	return objects, nil
}

// ScanColumns reads (name, data_type, is_nullable, max_length, is_primary_key)
// rows. is_nullable is the INFORMATION_SCHEMA "YES"/"NO" string. A max_length
// of NULL or below one (SQL Server reports -1 for MAX types) is left unset.
func ScanColumns(rows *sql.Rows) ([]schema.Column, error) {
	defer rows.Close()
	var columns []schema.Column
	for rows.Next() {
		var (
			col       schema.Column
			nullable  string
			maxLength sql.NullInt64
			pk        int
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &maxLength, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		col.PrimaryKey = pk != 0
		if maxLength.Valid && maxLength.Int64 > 0 {
			n := int(maxLength.Int64)
			col.MaxLength = &n
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column rows: %w", err)
	}
	return columns, nil
}

// ScanForeignKeys reads (constraint, schema, table, column, ref_schema,
// ref_table, ref_column) rows.
func ScanForeignKeys(rows *sql.Rows) ([]ForeignKeyInfo, error) {
	defer rows.Close()
	var fks []ForeignKeyInfo
	for rows.Next() {
		var fk ForeignKeyInfo
		if err := rows.Scan(&fk.Name, &fk.Schema, &fk.Table, &fk.Column, &fk.RefSchema, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign key rows: %w", err)
	}
	return fks, nil
}
