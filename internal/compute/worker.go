package compute

import (
	"sync/atomic"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

// worker applies a kernel to the rows it is handed. Workers share the input
// read-only and write only the output rows of their own chunks, so the token
// load is the only cross-goroutine access in the hot loop.
type worker struct {
	in     *grid.Matrix
	out    *grid.Matrix
	kernel Kernel
	tok    *Token
}

// runChunk computes the chunk row by row and reports whether every row was
// finished. The token is checked before each row; once it is set the worker
// leaves the remaining rows at their zero value.
func (w *worker) runChunk(c Chunk) bool {
	cols := w.out.Cols()
	for r := c.Start; r < c.End; r++ {
		if w.tok.Cancelled() {
			return false
		}
		dst := w.out.Row(r)
		for col := 0; col < cols; col++ {
			dst[col] = w.kernel.Apply(w.in, r, col)
		}
	}
	return true
}

// runStatic processes a pre-assigned, ordered set of chunks and returns how
// many were finished.
func (w *worker) runStatic(chunks []Chunk) int {
	done := 0
	for _, c := range chunks {
		if !w.runChunk(c) {
			break
		}
		done++
	}
	return done
}

// runDynamic pulls chunks from the shared queue until it is drained or the
// token is set, and returns how many were finished.
func (w *worker) runDynamic(q *chunkQueue) int {
	done := 0
	for {
		c, ok := q.next()
		if !ok {
			return done
		}
		if !w.runChunk(c) {
			return done
		}
		done++
	}
}

// chunkQueue hands out each chunk exactly once to whichever worker asks
// first.
type chunkQueue struct {
	chunks []Chunk
	cursor atomic.Int64
}

func newChunkQueue(chunks []Chunk) *chunkQueue {
	return &chunkQueue{chunks: chunks}
}

func (q *chunkQueue) next() (Chunk, bool) {
	i := q.cursor.Add(1) - 1
	if i >= int64(len(q.chunks)) {
		return Chunk{}, false
	}
	return q.chunks[i], true
}
