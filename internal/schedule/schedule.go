// Package schedule provides a small cancellable delayed-task primitive.
//
// A Task wraps a callback that should run once after a delay. Scheduling is
// idempotent: while a run is pending, further Schedule calls are no-ops, so
// callers coalescing bursts of work (resize debouncing, batch flushing,
// reconnect timers) do not need their own "is a timer already armed" flags.
// Cancel is likewise idempotent and safe to race with the timer firing.
package schedule

import (
	"sync"
	"time"
)

// Task runs a callback once per Schedule/fire cycle. The zero value is not
// usable; create with NewTask.
type Task struct {
	mu      sync.Mutex
	fn      func()
	timer   *time.Timer
	pending bool
	gen     uint64 // bumped on Cancel so a stale fire becomes a no-op
}

// NewTask creates a Task around fn. The callback runs on the timer goroutine
// without any lock held, so it may call Schedule or Cancel on its own Task.
func NewTask(fn func()) *Task {
	return &Task{fn: fn}
}

// Schedule arms the task to fire after d. If a run is already pending the
// call is a no-op and returns false; the earlier deadline stands.
func (t *Task) Schedule(d time.Duration) bool {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		return false
	}
	t.pending = true
	gen := t.gen
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
	t.mu.Unlock()
	return true
}

// fire runs the callback if the pending run it belongs to was not cancelled.
func (t *Task) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	t.mu.Unlock()

	t.fn()
}

// Cancel drops any pending run. Calling Cancel on an idle task is a no-op.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pending {
		return
	}
	t.pending = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Active reports whether a run is currently pending.
func (t *Task) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
