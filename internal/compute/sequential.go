package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

// Sequential is the single-goroutine reference run of k over in. It has no
// deadline of its own; cancelling ctx stops it between rows. The whole matrix
// is treated as one chunk.
func Sequential(ctx context.Context, in *grid.Matrix, k Kernel) (*Result, error) {
	if in == nil {
		return nil, ErrNilMatrix
	}
	if k == nil {
		return nil, fmt.Errorf("%w: nil kernel", ErrInvalidConfig)
	}
	rows, cols, err := k.Shape(in)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", k.Name(), err)
	}
	out, err := allocate(rows, cols)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.New(), Kernel: k.Name(), Matrix: out, Completed: true}
	if rows == 0 {
		return res, nil
	}
	res.TotalChunks = 1

	start := time.Now()
	for r := 0; r < rows; r++ {
		if ctx.Err() != nil {
			res.Completed = false
			break
		}
		dst := out.Row(r)
		for c := 0; c < cols; c++ {
			dst[c] = k.Apply(in, r, c)
		}
	}
	res.Elapsed = time.Since(start)
	if res.Completed {
		res.ChunksProcessed = 1
	}
	return res, nil
}
