package compute

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

// Result is the outcome of one run. Rows that were not reached before the
// deadline are left at zero in Matrix.
type Result struct {
	RunID           uuid.UUID
	Kernel          string
	Matrix          *grid.Matrix
	Completed       bool
	Elapsed         time.Duration
	ChunksProcessed int
	TotalChunks     int
}

// Progress returns the fraction of planned chunks that were finished.
// An empty plan counts as fully done.
func (r *Result) Progress() float64 {
	if r.TotalChunks == 0 {
		return 1
	}
	return float64(r.ChunksProcessed) / float64(r.TotalChunks)
}

// Throughput returns output cells per second, counting only finished chunks'
// share of the matrix.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 || r.Matrix == nil {
		return 0
	}
	rows, cols := r.Matrix.Dims()
	return float64(rows*cols) * r.Progress() / r.Elapsed.Seconds()
}

// Stats summarises the output matrix.
type Stats struct {
	Cells int
	Sum   float64
	Mean  float64
	Min   float64
	Max   float64
}

// Stats computes sum, mean, min and max over every output cell, including
// zero-filled cells of unfinished rows.
func (r *Result) Stats() Stats {
	if r.Matrix == nil || len(r.Matrix.Data()) == 0 {
		return Stats{}
	}
	data := r.Matrix.Data()
	sum := floats.Sum(data)
	return Stats{
		Cells: len(data),
		Sum:   sum,
		Mean:  sum / float64(len(data)),
		Min:   floats.Min(data),
		Max:   floats.Max(data),
	}
}
