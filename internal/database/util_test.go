package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

func TestScanObjects(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"schema", "name", "type"}).
		AddRow("dbo", "Customers", "BASE TABLE").
		AddRow("dbo", "ActiveCustomers", "VIEW").
		AddRow("sys", "Tables", "SYSTEM VIEW"))

	rows, err := pool.Query("SELECT")
	require.NoError(t, err)
	objects, err := ScanObjects(rows)
	require.NoError(t, err)
	assert.Equal(t, []ObjectInfo{
		{Schema: "dbo", Name: "Customers", Kind: schema.KindTable},
		{Schema: "dbo", Name: "ActiveCustomers", Kind: schema.KindView},
		{Schema: "sys", Name: "Tables", Kind: schema.KindView},
	}, objects)
}

func TestScanColumns(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "max_length", "pk"}).
		AddRow("Id", "int", "NO", nil, 1).
		AddRow("Name", "nvarchar", "YES", 100, 0).
		AddRow("Notes", "nvarchar", "YES", -1, 0))

	rows, err := pool.Query("SELECT")
	require.NoError(t, err)
	cols, err := ScanColumns(rows)
	require.NoError(t, err)
	require.Len(t, cols, 3)

	assert.True(t, cols[0].PrimaryKey)
	assert.False(t, cols[0].Nullable)
	assert.Nil(t, cols[0].MaxLength)

	assert.True(t, cols[1].Nullable)
	require.NotNil(t, cols[1].MaxLength)
	assert.Equal(t, 100, *cols[1].MaxLength)

	assert.Nil(t, cols[2].MaxLength)
}

func TestScanColumnsScanError(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "max_length", "pk"}).
		AddRow(nil, "int", "NO", nil, 1))

	rows, err := pool.Query("SELECT")
	require.NoError(t, err)
	_, err = ScanColumns(rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan column row")
}

func TestScanForeignKeys(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"c", "s", "t", "col", "rs", "rt", "rc"}).
		AddRow("FK_Orders_Customers", "dbo", "Orders", "CustomerId", "dbo", "Customers", "Id"))

	rows, err := pool.Query("SELECT")
	require.NoError(t, err)
	fks, err := ScanForeignKeys(rows)
	require.NoError(t, err)
	assert.Equal(t, []ForeignKeyInfo{{
		Name: "FK_Orders_Customers", Schema: "dbo", Table: "Orders", Column: "CustomerId",
		RefSchema: "dbo", RefTable: "Customers", RefColumn: "Id",
	}}, fks)
}
