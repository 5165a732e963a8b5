// Package store keeps a ledger of compute runs in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/23skdu/longbow-quiver/internal/compute"
)

// ErrNotFound is returned when a run is not in the ledger.
var ErrNotFound = errors.New("run not found")

// Run is one ledger row.
type Run struct {
	ID              string    `json:"id" cbor:"id"`
	Kernel          string    `json:"kernel" cbor:"kernel"`
	Rows            int       `json:"rows" cbor:"rows"`
	Cols            int       `json:"cols" cbor:"cols"`
	Threads         int       `json:"threads" cbor:"threads"`
	Schedule        string    `json:"schedule" cbor:"schedule"`
	DeadlineMS      int64     `json:"deadline_ms" cbor:"deadline_ms"`
	Completed       bool      `json:"completed" cbor:"completed"`
	ChunksProcessed int       `json:"chunks_processed" cbor:"chunks_processed"`
	TotalChunks     int       `json:"total_chunks" cbor:"total_chunks"`
	ElapsedMS       float64   `json:"elapsed_ms" cbor:"elapsed_ms"`
	Sum             float64   `json:"sum" cbor:"sum"`
	CreatedAt       time.Time `json:"created_at" cbor:"created_at"`
}

// NewRun summarizes res as produced under cfg.
func NewRun(res *compute.Result, cfg compute.Config) *Run {
	rows, cols := res.Matrix.Dims()
	return &Run{
		ID:              res.RunID.String(),
		Kernel:          res.Kernel,
		Rows:            rows,
		Cols:            cols,
		Threads:         cfg.NumThreads,
		Schedule:        cfg.Schedule.String(),
		DeadlineMS:      cfg.Deadline.Milliseconds(),
		Completed:       res.Completed,
		ChunksProcessed: res.ChunksProcessed,
		TotalChunks:     res.TotalChunks,
		ElapsedMS:       float64(res.Elapsed.Microseconds()) / 1000,
		Sum:             res.Stats().Sum,
		CreatedAt:       time.Now().UTC(),
	}
}

// Store defines the persistence operations for runs.
type Store interface {
	RecordRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error)
	Close() error
}
