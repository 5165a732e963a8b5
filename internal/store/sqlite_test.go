package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/grid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRun(created time.Time) *Run {
	return &Run{
		ID:              uuid.NewString(),
		Kernel:          "stencil",
		Rows:            100,
		Cols:            50,
		Threads:         4,
		Schedule:        "static",
		DeadlineMS:      5000,
		Completed:       true,
		ChunksProcessed: 4,
		TotalChunks:     4,
		ElapsedMS:       1.25,
		Sum:             42.5,
		CreatedAt:       created.UTC().Truncate(time.Second),
	}
}

func TestRecordAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeRun(time.Now())
	require.NoError(t, s.RecordRun(ctx, r))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Kernel, got.Kernel)
	assert.Equal(t, r.Rows, got.Rows)
	assert.Equal(t, r.Completed, got.Completed)
	assert.Equal(t, r.Sum, got.Sum)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecordRunDuplicate(t *testing.T) {
	s := newTestStore(t)
	r := makeRun(time.Now())
	require.NoError(t, s.RecordRun(context.Background(), r))
	assert.Error(t, s.RecordRun(context.Background(), r))
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		r := makeRun(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, s.RecordRun(ctx, r))
		ids = append(ids, r.ID)
	}

	page, total, err := s.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID, "newest first")
	assert.Equal(t, ids[3], page[1].ID)

	page, _, err = s.ListRuns(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestListRunsEmpty(t *testing.T) {
	s := newTestStore(t)
	page, total, err := s.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestNewRun(t *testing.T) {
	m, _ := grid.NewFromRows([][]float64{{1, 2}, {3, 4}})
	res := &compute.Result{
		RunID: uuid.New(), Kernel: "identity", Matrix: m,
		Completed: false, ChunksProcessed: 1, TotalChunks: 2, Elapsed: 1500 * time.Microsecond,
	}
	cfg := compute.Config{NumThreads: 2, Deadline: 3 * time.Second, Schedule: compute.ScheduleDynamic}

	r := NewRun(res, cfg)
	assert.Equal(t, res.RunID.String(), r.ID)
	assert.Equal(t, 2, r.Rows)
	assert.Equal(t, "dynamic", r.Schedule)
	assert.Equal(t, int64(3000), r.DeadlineMS)
	assert.False(t, r.Completed)
	assert.Equal(t, 1.5, r.ElapsedMS)
	assert.Equal(t, 10.0, r.Sum)
}
