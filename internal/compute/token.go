package compute

import "sync/atomic"

// Token is a one-shot cancellation flag shared by the workers and the
// watchdog of a single run. It only ever moves from false to true.
type Token struct {
	cancelled atomic.Bool
}

// Cancel sets the token. Calling it again is a no-op.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called. It never blocks.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}
