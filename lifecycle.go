package pdfgate

import (
	"sync"
	"sync/atomic"
	"time"
)

// generation is a liveness counter. Asynchronous work captures the value
// at start and drops its result if the counter moved (teardown or reload).
type generation struct {
	n atomic.Uint64
}

func (g *generation) current() uint64 {
	return g.n.Load()
}

func (g *generation) advance() uint64 {
	return g.n.Add(1)
}

func (g *generation) live(token uint64) bool {
	return g.n.Load() == token
}

// delayedAction runs fn once after a delay unless cancelled first.
type delayedAction struct {
	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func scheduleAction(delay time.Duration, fn func()) *delayedAction {
	a := &delayedAction{done: make(chan struct{})}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = time.AfterFunc(delay, func() {
		defer close(a.done)
		fn()
	})
	return a
}

// Cancel stops the action if it has not started and reports whether it
// was stopped.
func (a *delayedAction) Cancel() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer.Stop()
}

// Done is closed after fn has returned.
func (a *delayedAction) Done() <-chan struct{} {
	return a.done
}
