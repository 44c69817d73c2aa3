package assistant

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/genai"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/history"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

// MockGenerator for testing the generate/validate loop
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateSQL(ctx context.Context, question string, catalog *schema.Catalog, feedback []string) (*genai.Generation, error) {
	args := m.Called(question, feedback)
	gen, _ := args.Get(0).(*genai.Generation)
	return gen, args.Error(1)
}

func (m *MockGenerator) Close() error { return nil }

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecuteQuery(ctx context.Context, sqlText string) (*database.QueryResult, error) {
	args := m.Called(sqlText)
	res, _ := args.Get(0).(*database.QueryResult)
	return res, args.Error(1)
}

func (m *MockExecutor) CountRows(ctx context.Context, sqlText string) (int64, error) {
	args := m.Called(sqlText)
	return args.Get(0).(int64), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, run history.Run) (string, error) {
	args := m.Called(run)
	return args.String(0), args.Error(1)
}

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.NewCatalog("dbo",
		schema.Object{Kind: schema.KindTable, Schema: "dbo", Name: "Customers", Columns: []schema.Column{
			{Name: "Id", DataType: "int", PrimaryKey: true},
			{Name: "Name", DataType: "nvarchar"},
			{Name: "Region", DataType: "nvarchar"},
		}},
	)
	require.NoError(t, err)
	return cat
}

var fastRetry = RetryOptions{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}

func newTestService(t *testing.T, gen genai.SQLGenerator, exec Executor, rec Recorder) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewService(gen, exec, guardrail.New(guardrail.Options{}, logger), testCatalog(t), rec,
		Config{MaxGenerationAttempts: 3, PreviewRowLimit: 50, Retry: fastRetry}, logger)
}

func TestAskApprovedFirstAttempt(t *testing.T) {
	gen := new(MockGenerator)
	exec := new(MockExecutor)
	rec := new(MockRecorder)

	candidate := "SELECT Id, Name FROM dbo.Customers WHERE Region = 'EU'"
	gen.On("GenerateSQL", "customers in europe", []string(nil)).
		Return(&genai.Generation{SQL: candidate, Explanation: "EU customers"}, nil).Once()
	exec.On("ExecuteQuery", "SELECT TOP 50 Id, Name FROM dbo.Customers WHERE Region = 'EU'").
		Return(&database.QueryResult{Columns: []string{"Id", "Name"}, Rows: [][]any{{int64(1), "Ada"}}}, nil).Once()
	exec.On("CountRows", "SELECT COUNT(*) FROM dbo.Customers WHERE Region = 'EU'").Return(int64(120), nil).Once()
	rec.On("Record", mock.MatchedBy(func(run history.Run) bool {
		return run.Valid && run.RowCount == 120 && run.CandidateSQL == candidate && run.Error == ""
	})).Return("run-1", nil).Once()

	svc := newTestService(t, gen, exec, rec)
	answer, err := svc.Ask(context.Background(), AskParams{Question: "  customers in europe "})
	require.NoError(t, err)

	assert.Equal(t, "run-1", answer.RunID)
	assert.Equal(t, 1, answer.Attempts)
	assert.Equal(t, "SELECT TOP 1000 Id, Name FROM dbo.Customers WHERE Region = 'EU'", answer.Validation.RewrittenText)
	assert.Equal(t, "SELECT TOP 50 Id, Name FROM dbo.Customers WHERE Region = 'EU'", answer.Executed)
	assert.Equal(t, guardrail.RowCountEstimate(120), answer.RowCount)
	assert.Equal(t, "EU customers", answer.Generation.Explanation)
	gen.AssertExpectations(t)
	exec.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestAskFeedsRejectionBack(t *testing.T) {
	gen := new(MockGenerator)
	exec := new(MockExecutor)

	gen.On("GenerateSQL", "all clients", []string(nil)).
		Return(&genai.Generation{SQL: "SELECT Id FROM dbo.Clients WHERE Id > 0"}, nil).Once()
	gen.On("GenerateSQL", "all clients", mock.MatchedBy(func(feedback []string) bool {
		return len(feedback) == 1 && strings.Contains(feedback[0], "unknown object 'dbo.Clients'")
	})).Return(&genai.Generation{SQL: "SELECT Id FROM dbo.Customers WHERE Id > 0"}, nil).Once()
	exec.On("ExecuteQuery", mock.Anything).Return(&database.QueryResult{Columns: []string{"Id"}, Rows: [][]any{}}, nil)
	exec.On("CountRows", mock.Anything).Return(int64(0), nil)

	svc := newTestService(t, gen, exec, nil)
	answer, err := svc.Ask(context.Background(), AskParams{Question: "all clients", Full: true})
	require.NoError(t, err)
	assert.Equal(t, 2, answer.Attempts)
	assert.Equal(t, "SELECT TOP 1000 Id FROM dbo.Customers WHERE Id > 0", answer.Executed)
	assert.Empty(t, answer.RunID)
	gen.AssertExpectations(t)
}

func TestAskRejectedAfterAllAttempts(t *testing.T) {
	gen := new(MockGenerator)
	exec := new(MockExecutor)
	rec := new(MockRecorder)

	gen.On("GenerateSQL", "drop it", mock.Anything).
		Return(&genai.Generation{SQL: "DROP TABLE dbo.Customers"}, nil).Times(3)
	rec.On("Record", mock.MatchedBy(func(run history.Run) bool {
		return !run.Valid && run.CandidateSQL == "DROP TABLE dbo.Customers" && len(run.Issues) > 0
	})).Return("run-9", nil).Once()

	svc := newTestService(t, gen, exec, rec)
	_, err := svc.Ask(context.Background(), AskParams{Question: "drop it"})
	require.Error(t, err)

	var rejected *ErrRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 3, rejected.Attempts)
	assert.Equal(t, "run-9", rejected.RunID)
	assert.False(t, rejected.Result.Valid)
	assert.Contains(t, err.Error(), "DROP")
	exec.AssertNotCalled(t, "ExecuteQuery", mock.Anything)
	gen.AssertExpectations(t)
}

func TestAskRetriesTransientGenerationErrors(t *testing.T) {
	gen := new(MockGenerator)
	exec := new(MockExecutor)

	gen.On("GenerateSQL", "q", []string(nil)).Return(nil, errors.New("503 service unavailable")).Once()
	gen.On("GenerateSQL", "q", []string(nil)).
		Return(&genai.Generation{SQL: "SELECT TOP 5 Id FROM dbo.Customers"}, nil).Once()
	exec.On("ExecuteQuery", "SELECT TOP 5 Id FROM dbo.Customers").Return(&database.QueryResult{}, nil)
	exec.On("CountRows", "SELECT COUNT(*) FROM dbo.Customers").Return(int64(7), nil)

	svc := newTestService(t, gen, exec, nil)
	answer, err := svc.Ask(context.Background(), AskParams{Question: "q", PreviewRows: 5})
	require.NoError(t, err)
	assert.Equal(t, guardrail.RowCountEstimate(7), answer.RowCount)
	gen.AssertExpectations(t)
}

func TestAskPermanentGenerationError(t *testing.T) {
	gen := new(MockGenerator)
	rec := new(MockRecorder)
	gen.On("GenerateSQL", "q", []string(nil)).Return(nil, errors.New("invalid api key")).Once()
	rec.On("Record", mock.MatchedBy(func(run history.Run) bool { return run.Error != "" })).Return("run-2", nil).Once()

	svc := newTestService(t, gen, new(MockExecutor), rec)
	_, err := svc.Ask(context.Background(), AskParams{Question: "q"})
	var genErr *ErrGeneration
	require.ErrorAs(t, err, &genErr)
	assert.False(t, genErr.Transient)
	gen.AssertNumberOfCalls(t, "GenerateSQL", 1)
	rec.AssertExpectations(t)
}

func TestAskNoSQLCountsAsAttempt(t *testing.T) {
	gen := new(MockGenerator)
	exec := new(MockExecutor)
	gen.On("GenerateSQL", "q", []string(nil)).Return(nil, genai.ErrNoSQL).Once()
	gen.On("GenerateSQL", "q", mock.AnythingOfType("[]string")).
		Return(&genai.Generation{SQL: "SELECT Id FROM dbo.Customers WHERE Id = 1"}, nil).Once()
	exec.On("ExecuteQuery", mock.Anything).Return(&database.QueryResult{}, nil)
	exec.On("CountRows", mock.Anything).Return(int64(1), nil)

	svc := newTestService(t, gen, exec, nil)
	answer, err := svc.Ask(context.Background(), AskParams{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 2, answer.Attempts)
}

func TestAskInvalidInput(t *testing.T) {
	svc := newTestService(t, new(MockGenerator), new(MockExecutor), nil)
	_, err := svc.Ask(context.Background(), AskParams{Question: "   "})
	var invalid *ErrInvalidInput
	assert.ErrorAs(t, err, &invalid)

	noGen := newTestService(t, nil, new(MockExecutor), nil)
	_, err = noGen.Ask(context.Background(), AskParams{Question: "q"})
	assert.ErrorAs(t, err, &invalid)
}

func TestExecute(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		exec := new(MockExecutor)
		exec.On("ExecuteQuery", "SELECT TOP 10 Name FROM dbo.Customers").Return(&database.QueryResult{Columns: []string{"Name"}}, nil)
		exec.On("CountRows", "SELECT COUNT(*) FROM dbo.Customers").Return(int64(3), nil)

		svc := newTestService(t, nil, exec, nil)
		answer, err := svc.Execute(context.Background(), ExecuteParams{SQL: "SELECT Name FROM dbo.Customers", PreviewRows: 10})
		require.NoError(t, err)
		assert.Equal(t, "SELECT TOP 10 Name FROM dbo.Customers", answer.Executed)
		assert.Equal(t, guardrail.RowCountEstimate(3), answer.RowCount)
	})

	t.Run("rejected", func(t *testing.T) {
		exec := new(MockExecutor)
		svc := newTestService(t, nil, exec, nil)
		_, err := svc.Execute(context.Background(), ExecuteParams{SQL: "DELETE FROM dbo.Customers"})
		var rejected *ErrRejected
		require.ErrorAs(t, err, &rejected)
		exec.AssertNotCalled(t, "ExecuteQuery", mock.Anything)
	})

	t.Run("execution failure is classified", func(t *testing.T) {
		exec := new(MockExecutor)
		exec.On("ExecuteQuery", mock.Anything).Return(nil, driver.ErrBadConn)
		svc := newTestService(t, nil, exec, nil)
		_, err := svc.Execute(context.Background(), ExecuteParams{SQL: "SELECT Name FROM dbo.Customers"})
		var connErr *ErrDatabaseConnection
		require.ErrorAs(t, err, &connErr)
		assert.ErrorIs(t, err, driver.ErrBadConn)
	})
}

func TestEstimateRowCount(t *testing.T) {
	t.Run("probe failure degrades to unknown", func(t *testing.T) {
		exec := new(MockExecutor)
		exec.On("CountRows", mock.Anything).Return(int64(0), errors.New("permission denied"))
		svc := newTestService(t, nil, exec, nil)
		assert.Equal(t, guardrail.UnknownRowCount, svc.EstimateRowCount(context.Background(), "SELECT TOP 10 Name FROM dbo.Customers"))
	})

	t.Run("grouped query has no probe", func(t *testing.T) {
		exec := new(MockExecutor)
		svc := newTestService(t, nil, exec, nil)
		est := svc.EstimateRowCount(context.Background(), "SELECT TOP 10 Region, COUNT(*) FROM dbo.Customers GROUP BY Region")
		assert.False(t, est.Known())
		exec.AssertNotCalled(t, "CountRows", mock.Anything)
	})
}

func TestCheckUsesServiceCatalog(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	res := svc.Check("SELECT Name FROM dbo.Nope", nil)
	assert.False(t, res.Valid)

	other, err := schema.NewCatalog("dbo", schema.Object{Schema: "dbo", Name: "Nope"})
	require.NoError(t, err)
	assert.True(t, svc.Check("SELECT Name FROM dbo.Nope", other).Valid)
}
