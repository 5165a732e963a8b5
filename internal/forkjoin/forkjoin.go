// Package forkjoin is an alternate runner for compute kernels. Instead of a
// fixed pool with a planned partition it recursively halves the row range,
// forking the upper half onto a bounded errgroup while there is capacity and
// running it inline otherwise. It produces the same compute.Result so the two
// strategies can be compared side by side.
package forkjoin

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/grid"
)

// leavesPerProc controls how finely rows are split relative to GOMAXPROCS.
const leavesPerProc = 4

// Process applies k to m, stopping cooperatively between rows once deadline
// has elapsed or ctx ends. Leaves of the recursion are the unit counted in
// ChunksProcessed; a run is Completed when every leaf finished.
func Process(ctx context.Context, m *grid.Matrix, k compute.Kernel, deadline time.Duration) (*compute.Result, error) {
	if m == nil {
		return nil, compute.ErrNilMatrix
	}
	if k == nil {
		return nil, fmt.Errorf("%w: nil kernel", compute.ErrInvalidConfig)
	}
	if deadline < 0 {
		return nil, fmt.Errorf("%w: deadline must be >= 0, got %s", compute.ErrInvalidConfig, deadline)
	}
	rows, cols, err := k.Shape(m)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", k.Name(), err)
	}
	out, err := grid.New(rows, cols)
	if err != nil {
		return nil, err
	}

	res := &compute.Result{RunID: uuid.New(), Kernel: k.Name(), Matrix: out, Completed: true}
	if rows == 0 {
		return res, nil
	}

	procs := runtime.GOMAXPROCS(0)
	grain := rows / (procs * leavesPerProc)
	if grain < 1 {
		grain = 1
	}
	res.TotalChunks = countLeaves(rows, grain)

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(procs)

	var done atomic.Int64
	leaf := func(lo, hi int) {
		for r := lo; r < hi; r++ {
			if gctx.Err() != nil {
				return
			}
			dst := out.Row(r)
			for c := 0; c < cols; c++ {
				dst[c] = k.Apply(m, r, c)
			}
		}
		done.Add(1)
	}

	var split func(lo, hi int)
	split = func(lo, hi int) {
		for hi-lo > grain {
			mid := lo + (hi-lo)/2
			upperLo, upperHi := mid, hi
			if !g.TryGo(func() error {
				split(upperLo, upperHi)
				return nil
			}) {
				split(upperLo, upperHi)
			}
			hi = mid
		}
		leaf(lo, hi)
	}

	split(0, rows)
	_ = g.Wait()

	res.Elapsed = time.Since(start)
	res.ChunksProcessed = int(done.Load())
	res.Completed = res.ChunksProcessed == res.TotalChunks
	return res, nil
}

// countLeaves mirrors the split recursion without doing any work.
func countLeaves(n, grain int) int {
	if n <= grain {
		return 1
	}
	half := n / 2
	return countLeaves(half, grain) + countLeaves(n-half, grain)
}
