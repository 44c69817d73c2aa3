package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/config"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return &database.DB{Pool: mockDB, Handler: postgresHandler{}}, mock
}

func TestPostgresListObjects(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"table_schema", "table_name", "table_type"}).
		AddRow("public", "orders", "BASE TABLE").
		AddRow("reporting", "daily_sales", "VIEW")
	mock.ExpectQuery(`FROM information_schema\.tables`).WillReturnRows(rows)

	objects, err := postgresHandler{}.ListObjects(context.Background(), db)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(objects))
	}
	if objects[0].Schema != "public" || objects[0].Name != "orders" {
		t.Errorf("Unexpected first object: %+v", objects[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestPostgresListColumns(t *testing.T) {
	tests := []struct {
		name          string
		mockSetup     func(sqlmock.Sqlmock)
		expectedCount int
		expectedError string
	}{
		{
			name: "Success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "character_maximum_length", "is_primary_key"}).
					AddRow("id", "integer", "NO", nil, 1).
					AddRow("email", "character varying", "YES", 255, 0)
				mock.ExpectQuery(`FROM information_schema\.columns c`).WithArgs("public", "users").WillReturnRows(rows)
			},
			expectedCount: 2,
		},
		{
			name: "Database query error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM information_schema\.columns c`).WithArgs("public", "users").
					WillReturnError(errors.New("database connection failed"))
			},
			expectedError: "error querying columns for table public.users",
		},
		{
			name: "Row scanning error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "character_maximum_length", "is_primary_key"}).
					AddRow(nil, "integer", "NO", nil, 1)
				mock.ExpectQuery(`FROM information_schema\.columns c`).WithArgs("public", "users").WillReturnRows(rows)
			},
			expectedError: "failed to scan column row",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.mockSetup(mock)

			cols, err := postgresHandler{}.ListColumns(context.Background(), db, "public", "users")
			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Fatalf("Expected error containing %q, got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(cols) != tt.expectedCount {
				t.Fatalf("Expected %d columns, got %d", tt.expectedCount, len(cols))
			}
			if !cols[0].PrimaryKey || cols[1].MaxLength == nil || *cols[1].MaxLength != 255 {
				t.Errorf("Unexpected columns: %+v", cols)
			}
		})
	}
}

func TestPostgresListForeignKeys(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"constraint_name", "table_schema", "table_name", "column_name", "table_schema", "table_name", "column_name"}).
		AddRow("orders_user_id_fkey", "public", "orders", "user_id", "public", "users", "id")
	mock.ExpectQuery(`WHERE tc\.constraint_type = 'FOREIGN KEY'`).WillReturnRows(rows)

	fks, err := postgresHandler{}.ListForeignKeys(context.Background(), db)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(fks) != 1 || fks[0].Name != "orders_user_id_fkey" || fks[0].RefTable != "users" {
		t.Errorf("Unexpected foreign keys: %+v", fks)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	tests := map[string]string{
		"users":      `"users"`,
		`my"table`:   `"my""table"`,
		"Mixed Case": `"Mixed Case"`,
	}
	for in, want := range tests {
		if got := (postgresHandler{}).QuoteIdentifier(in); got != want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDSNValue(t *testing.T) {
	if got := dsnValue(`it's\here`); got != `'it\'s\\here'` {
		t.Errorf("dsnValue() = %s", got)
	}
}

func TestPostgresHandlerRegistered(t *testing.T) {
	for _, name := range []string{"postgres", "cloudsqlpostgres"} {
		h, err := database.GetDialectHandler(name)
		if err != nil {
			t.Fatalf("GetDialectHandler(%q): %v", name, err)
		}
		if h.GuardrailDialect() != guardrail.DialectPostgres {
			t.Errorf("%s: expected postgres guardrail dialect", name)
		}
		if h.DefaultSchema(config.DatabaseConfig{}) != "public" {
			t.Errorf("%s: expected public default schema", name)
		}
		if !h.SupportsReadOnlyTx() {
			t.Errorf("%s: expected read-only transaction support", name)
		}
	}
}

func TestPostgresCreateStandardPool(t *testing.T) {
	pool, err := postgresHandler{}.CreateStandardPool(config.DatabaseConfig{
		Host: "localhost", User: "app", Password: "secret", DBName: "shop",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	pool.Close()
}
