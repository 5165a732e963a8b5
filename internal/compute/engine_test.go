package compute

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

// spinKernel busy-waits for cost per cell and returns v + 1. Inputs from
// grid.Generate are >= 0, so every computed cell is non-zero.
func spinKernel(cost time.Duration) Kernel {
	return Map("spin", func(v float64, _, _ int) float64 {
		deadline := time.Now().Add(cost)
		for time.Now().Before(deadline) {
		}
		return v + 1
	})
}

func newTestEngine(t *testing.T, cfg Config, k Kernel) *Engine {
	t.Helper()
	e, err := New(cfg, k, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return e
}

func TestEngine_SmallIdentity(t *testing.T) {
	in, err := grid.Sequence(10, 10)
	require.NoError(t, err)

	e := newTestEngine(t, Config{NumThreads: 4, Deadline: 5 * time.Second}, Identity())
	res, err := e.Process(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 4, res.ChunksProcessed)
	assert.Equal(t, 4, res.TotalChunks)
	assert.True(t, in.Equal(res.Matrix), "identity output must equal input")
	assert.Equal(t, 1.0, res.Progress())
	assert.Equal(t, "identity", res.Kernel)
	assert.NotEqual(t, res.RunID.String(), "")
}

func TestEngine_MatchesSequential(t *testing.T) {
	in, err := grid.Generate(97, 31, 9)
	require.NoError(t, err)

	for _, k := range []Kernel{Transform(), Stencil(), Gelu(), Square()} {
		ref, err := Sequential(context.Background(), in, k)
		require.NoError(t, err)
		require.True(t, ref.Completed)

		for _, sched := range []Schedule{ScheduleStatic, ScheduleDynamic} {
			for _, chunk := range []int{0, 1, 7, 200} {
				cfg := Config{NumThreads: 5, Deadline: 10 * time.Second, ChunkSize: chunk, Schedule: sched}
				res, err := newTestEngine(t, cfg, k).Process(context.Background(), in)
				require.NoError(t, err)

				assert.True(t, res.Completed, "%s/%s/%d", k.Name(), sched, chunk)
				assert.Equal(t, res.TotalChunks, res.ChunksProcessed)
				assert.True(t, ref.Matrix.Equal(res.Matrix), "%s/%s/%d differs from sequential", k.Name(), sched, chunk)
			}
		}
	}
}

func TestEngine_Repeatable(t *testing.T) {
	in, _ := grid.Generate(64, 64, 3)
	e := newTestEngine(t, Config{NumThreads: 8, Deadline: 10 * time.Second, ChunkSize: 5, Schedule: ScheduleDynamic}, Stencil())

	first, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Process(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, first.Matrix.Equal(again.Matrix))
		assert.NotEqual(t, first.RunID, again.RunID, "each run gets its own id")
	}
}

func TestEngine_ZeroDeadline(t *testing.T) {
	in, _ := grid.Generate(50, 20, 1)
	e := newTestEngine(t, Config{NumThreads: 4, Deadline: 0}, Identity())

	res, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 0, res.ChunksProcessed)
	for _, v := range res.Matrix.Data() {
		assert.Zero(t, v)
	}
}

func TestEngine_TightDeadline(t *testing.T) {
	// 2000 x 200 cells at ~20µs each is ~8s of sequential work; with 4
	// workers the run needs ~2s, far beyond the deadline.
	const (
		deadline = 100 * time.Millisecond
		cellCost = 20 * time.Microsecond
		cols     = 200
		// One row costs cols*cellCost = 4ms; leave room for scheduler noise.
		overrunSlack = 250 * time.Millisecond
	)
	in, _ := grid.Generate(2000, cols, 5)

	for _, sched := range []Schedule{ScheduleStatic, ScheduleDynamic} {
		t.Run(sched.String(), func(t *testing.T) {
			e := newTestEngine(t, Config{NumThreads: 4, Deadline: deadline, ChunkSize: 10, Schedule: sched}, spinKernel(cellCost))

			res, err := e.Process(context.Background(), in)
			require.NoError(t, err)

			assert.False(t, res.Completed)
			assert.Less(t, res.ChunksProcessed, res.TotalChunks)
			assert.GreaterOrEqual(t, res.Elapsed, deadline)
			assert.Less(t, res.Elapsed, deadline+overrunSlack)

			// Every row is either fully computed or untouched.
			computed := 0
			for r := 0; r < in.Rows(); r++ {
				if res.Matrix.RowIsZero(r) {
					continue
				}
				computed++
				for c := 0; c < cols; c++ {
					require.Equal(t, in.At(r, c)+1, res.Matrix.At(r, c), "row %d partially written", r)
				}
			}
			assert.Greater(t, computed, 0, "some rows should finish before the deadline")
			assert.GreaterOrEqual(t, computed, res.ChunksProcessed*10)
		})
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	in, _ := grid.Generate(1000, 100, 5)
	e := newTestEngine(t, Config{NumThreads: 2, Deadline: time.Hour}, spinKernel(20*time.Microsecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := e.Process(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Less(t, res.Elapsed, time.Second)
}

func TestEngine_EmptyMatrix(t *testing.T) {
	in, _ := grid.New(0, 10)
	e := newTestEngine(t, Config{NumThreads: 4, Deadline: 0}, Identity())

	res, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 0, res.ChunksProcessed)
	assert.Equal(t, 0, res.TotalChunks)
	assert.Equal(t, 0, res.Matrix.Rows())
}

func TestEngine_FewerRowsThanThreads(t *testing.T) {
	in, _ := grid.Sequence(3, 4)
	e := newTestEngine(t, Config{NumThreads: 16, Deadline: time.Second}, Identity())

	res, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.TotalChunks)
	assert.True(t, in.Equal(res.Matrix))
}

func TestEngine_Multiply(t *testing.T) {
	a, _ := grid.Generate(40, 30, 11)
	b, _ := grid.Generate(30, 20, 12)

	e, err := NewMultiplier(Config{NumThreads: 3, Deadline: 10 * time.Second, ChunkSize: 4}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.Nil(t, e.Kernel())
	res, err := e.Multiply(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 10, res.TotalChunks)
	assert.Equal(t, 40, res.Matrix.Rows())
	assert.Equal(t, 20, res.Matrix.Cols())
	assert.Equal(t, "matmul", res.Kernel)

	k, _ := MatMul(b)
	ref, err := Sequential(context.Background(), a, k)
	require.NoError(t, err)
	assert.True(t, ref.Matrix.Equal(res.Matrix))

	_, err = e.Multiply(context.Background(), b, b)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = e.Multiply(context.Background(), a, nil)
	assert.ErrorIs(t, err, ErrNilMatrix)

	_, err = e.Process(context.Background(), a)
	assert.ErrorIs(t, err, ErrInvalidConfig, "a multiplier has no kernel to process with")

	_, err = NewMultiplier(Config{NumThreads: 0, Deadline: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngine_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero threads", Config{NumThreads: 0, Deadline: time.Second}},
		{"negative deadline", Config{NumThreads: 1, Deadline: -time.Second}},
		{"negative chunk", Config{NumThreads: 1, Deadline: time.Second, ChunkSize: -1}},
		{"bad schedule", Config{NumThreads: 1, Deadline: time.Second, Schedule: Schedule(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, Identity())
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}

	_, err := New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	e := newTestEngine(t, DefaultConfig(), Identity())
	_, err = e.Process(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilMatrix)
}

func TestAllocate(t *testing.T) {
	_, err := allocate(math.MaxInt/2, 16)
	assert.ErrorIs(t, err, ErrAllocation)

	m, err := allocate(2, 3)
	require.NoError(t, err)
	assert.Len(t, m.Data(), 6)
}

func TestDefaultConfigAndSchedule(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, Granularity{Count: cfg.NumThreads}, cfg.Granularity())

	cfg.ChunkSize = 8
	assert.Equal(t, Granularity{Size: 8}, cfg.Granularity())

	s, err := ParseSchedule("Dynamic")
	require.NoError(t, err)
	assert.Equal(t, ScheduleDynamic, s)
	s, err = ParseSchedule("")
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatic, s)
	_, err = ParseSchedule("round-robin")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResultStats(t *testing.T) {
	m, _ := grid.NewFromRows([][]float64{{1, 2}, {3, -4}})
	res := &Result{Matrix: m, TotalChunks: 4, ChunksProcessed: 2, Elapsed: time.Second}

	s := res.Stats()
	assert.Equal(t, 4, s.Cells)
	assert.Equal(t, 2.0, s.Sum)
	assert.Equal(t, 0.5, s.Mean)
	assert.Equal(t, -4.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.Equal(t, 0.5, res.Progress())
	assert.Equal(t, 2.0, res.Throughput())

	empty := &Result{}
	assert.Equal(t, Stats{}, empty.Stats())
	assert.Equal(t, 1.0, empty.Progress())
}

func BenchmarkEngine_Transform(b *testing.B) {
	in, _ := grid.Generate(512, 512, 1)
	e, _ := New(Config{NumThreads: 8, Deadline: time.Minute}, Transform(), WithLogger(zerolog.Nop()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Process(context.Background(), in)
	}
}

func BenchmarkSequential_Transform(b *testing.B) {
	in, _ := grid.Generate(512, 512, 1)
	k := Transform()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Sequential(context.Background(), in, k)
	}
}
