package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), MemoryPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := Run{
		Question:     "how many orders last week?",
		CandidateSQL: "SELECT COUNT(*) FROM dbo.Orders",
		ExecutedSQL:  "SELECT TOP 50 COUNT(*) FROM dbo.Orders",
		Valid:        true,
		Issues: []guardrail.Issue{{
			Severity: guardrail.SeverityInfo,
			Category: guardrail.CategoryBound,
			Message:  "row limit of 1000 injected",
		}},
		RowCount: 1,
	}
	id, err := store.Record(ctx, run)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, run.Question, got.Question)
	assert.Equal(t, run.ExecutedSQL, got.ExecutedSQL)
	assert.True(t, got.Valid)
	assert.Equal(t, run.Issues, got.Issues)
	assert.Equal(t, int64(1), got.RowCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, q := range []string{"first", "second", "third"} {
		_, err := store.Record(ctx, Run{
			Question:     q,
			CandidateSQL: "DROP TABLE x",
			RowCount:     -1,
			Error:        "rejected",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].Question)
	assert.Equal(t, "second", runs[1].Question)
	assert.Empty(t, runs[0].Issues)
	assert.False(t, runs[0].Valid)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpenFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path, nil)
	require.NoError(t, err)
	id, err := store.Record(ctx, Run{ID: "fixed-id", CandidateSQL: "SELECT 1", Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got.CandidateSQL)
}
