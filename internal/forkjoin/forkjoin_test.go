package forkjoin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/grid"
)

func TestProcess_MatchesSequential(t *testing.T) {
	in, err := grid.Generate(301, 17, 4)
	require.NoError(t, err)

	for _, k := range []compute.Kernel{compute.Identity(), compute.Stencil(), compute.Transform()} {
		ref, err := compute.Sequential(context.Background(), in, k)
		require.NoError(t, err)

		res, err := Process(context.Background(), in, k, 10*time.Second)
		require.NoError(t, err)
		assert.True(t, res.Completed, k.Name())
		assert.Equal(t, res.TotalChunks, res.ChunksProcessed)
		assert.True(t, ref.Matrix.Equal(res.Matrix), "%s differs from sequential", k.Name())
	}
}

func TestProcess_ZeroDeadline(t *testing.T) {
	in, _ := grid.Generate(64, 8, 1)
	res, err := Process(context.Background(), in, compute.Identity(), 0)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 0, res.ChunksProcessed)
	for _, v := range res.Matrix.Data() {
		assert.Zero(t, v)
	}
}

func TestProcess_Deadline(t *testing.T) {
	in, _ := grid.Generate(2000, 100, 1)
	slow := compute.Map("spin", func(v float64, _, _ int) float64 {
		d := time.Now().Add(20 * time.Microsecond)
		for time.Now().Before(d) {
		}
		return v + 1
	})

	start := time.Now()
	res, err := Process(context.Background(), in, slow, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Less(t, res.ChunksProcessed, res.TotalChunks)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcess_Empty(t *testing.T) {
	in, _ := grid.New(0, 0)
	res, err := Process(context.Background(), in, compute.Identity(), 0)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 0, res.TotalChunks)
}

func TestProcess_Errors(t *testing.T) {
	in, _ := grid.New(2, 2)
	_, err := Process(context.Background(), nil, compute.Identity(), time.Second)
	assert.ErrorIs(t, err, compute.ErrNilMatrix)

	_, err = Process(context.Background(), in, nil, time.Second)
	assert.ErrorIs(t, err, compute.ErrInvalidConfig)

	_, err = Process(context.Background(), in, compute.Identity(), -time.Second)
	assert.ErrorIs(t, err, compute.ErrInvalidConfig)

	b, _ := grid.New(3, 3)
	k, _ := compute.MatMul(b)
	_, err = Process(context.Background(), in, k, time.Second)
	assert.ErrorIs(t, err, compute.ErrDimensionMismatch)
}

func TestCountLeaves(t *testing.T) {
	assert.Equal(t, 1, countLeaves(1, 1))
	assert.Equal(t, 4, countLeaves(4, 1))
	assert.Equal(t, 5, countLeaves(5, 1))
	assert.Equal(t, 1, countLeaves(3, 8))
	assert.Equal(t, 2, countLeaves(10, 5))
}
