package compute

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Watchdog trips a Token once its deadline elapses or its parent context
// ends, whichever comes first. It never interrupts a worker directly; workers
// observe the token between rows.
//
// The owner must call Stop before discarding the watchdog. Stop cancels the
// pending timer and joins the background goroutine, so repeated runs never
// accumulate live timers.
type Watchdog struct {
	tok      *Token
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	fired    atomic.Bool
}

// StartWatchdog arms a watchdog for d. A zero (or negative) d trips the token
// synchronously, before StartWatchdog returns.
func StartWatchdog(ctx context.Context, d time.Duration, tok *Token) *Watchdog {
	w := &Watchdog{
		tok:  tok,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if d <= 0 {
		w.trip()
		close(w.done)
		return w
	}

	timer := time.NewTimer(d)
	go func() {
		defer close(w.done)
		defer timer.Stop()

		select {
		case <-timer.C:
			w.trip()
		case <-ctx.Done():
			w.trip()
		case <-w.stop:
		}
	}()
	return w
}

func (w *Watchdog) trip() {
	w.fired.Store(true)
	w.tok.Cancel()
}

// Stop disarms the watchdog if it has not fired yet and waits for its
// goroutine to exit. It reports whether the watchdog tripped the token.
// Stop is safe to call more than once.
func (w *Watchdog) Stop() bool {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	return w.fired.Load()
}

// Fired reports whether the watchdog has tripped the token so far.
func (w *Watchdog) Fired() bool {
	return w.fired.Load()
}
