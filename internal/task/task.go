// Package task runs long operations in the background and exposes their
// state, progress and cancellation to a polling consumer.
package task

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrPanicked is reported by tasks whose function panicked.
var ErrPanicked = errors.New("task panicked")

// State is the lifecycle position of a task.
type State int32

const (
	Idle State = iota
	Running
	Cancelled
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Cancelled || s == Completed || s == Failed
}

// Func is the unit of work. It must return ctx.Err() (or an error wrapping it)
// when it stops because of cancellation.
type Func func(ctx context.Context, t *Task) error

// Task is the handle of one submitted unit of work.
type Task struct {
	name  string
	total uint64

	state    atomic.Int32
	progress atomic.Uint64
	onUpdate func(processed, total uint64)

	cancel context.CancelFunc
	done   chan struct{}

	// written before done is closed
	err      error
	started  time.Time
	finished time.Time
}

func (t *Task) Name() string { return t.name }

func (t *Task) State() State { return State(t.state.Load()) }

// Running reports whether the task has not reached a terminal state.
func (t *Task) Running() bool { return !t.State().Terminal() }

// Progress returns the processed amount and the total.
func (t *Task) Progress() (processed, total uint64) {
	return t.progress.Load(), t.total
}

// Fraction returns progress in [0, 1].
func (t *Task) Fraction() float64 {
	if t.total == 0 {
		if t.State() == Completed {
			return 1
		}
		return 0
	}
	return float64(t.progress.Load()) / float64(t.total)
}

// Update records cumulative progress. Values never decrease and are capped at
// the total.
func (t *Task) Update(processed uint64) {
	if processed > t.total {
		processed = t.total
	}
	for {
		cur := t.progress.Load()
		if processed <= cur {
			return
		}
		if t.progress.CompareAndSwap(cur, processed) {
			break
		}
	}
	if t.onUpdate != nil {
		t.onUpdate(processed, t.total)
	}
}

// Cancel requests cooperative termination.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure of a Failed task.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Elapsed returns the run time so far, or the total run time once finished.
func (t *Task) Elapsed() time.Duration {
	select {
	case <-t.done:
		return t.finished.Sub(t.started)
	default:
		return time.Since(t.started)
	}
}
