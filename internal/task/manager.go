package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	dlog "disview/internal/disview/log"
	"disview/internal/logging"
)

// Manager hosts background tasks.
type Manager struct {
	logger *log.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	tasks map[*Task]struct{}
}

// NewManager returns a host logging to logger, which may be nil.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{logger: logger, tasks: map[*Task]struct{}{}}
}

// SubmitOption configures a submitted task.
type SubmitOption func(*Task)

// WithProgressFunc is called after every progress increase.
func WithProgressFunc(fn func(processed, total uint64)) SubmitOption {
	return func(t *Task) { t.onUpdate = fn }
}

// Submit starts fn on its own goroutine. The returned task is already Running.
func (m *Manager) Submit(ctx context.Context, name string, total uint64, fn Func, opts ...SubmitOption) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		name:    name,
		total:   total,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state.Store(int32(Running))

	m.mu.Lock()
	m.tasks[t] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		err := m.run(ctx, t, fn)
		t.finished = time.Now()
		switch {
		case err == nil:
			t.state.Store(int32(Completed))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			t.state.Store(int32(Cancelled))
		default:
			t.err = err
			t.state.Store(int32(Failed))
		}

		m.mu.Lock()
		delete(m.tasks, t)
		m.mu.Unlock()

		processed, _ := t.Progress()
		m.logger.Debug("Task finished", "task", name, "state", t.State(), "processed", processed, "total", total, "elapsed", t.finished.Sub(t.started))
		if err != nil && t.State() == Failed {
			m.logger.Error("Task failed", "task", name, "error", err)
		}
		close(t.done)
	}()
	return t
}

func (m *Manager) run(ctx context.Context, t *Task, fn Func) (err error) {
	defer dlog.RecoverPanic(t.name, func() {
		err = fmt.Errorf("%w: %s", ErrPanicked, t.name)
	})
	return fn(ctx, t)
}

// Running returns the tasks that have not finished yet.
func (m *Manager) Running() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for t := range m.tasks {
		out = append(out, t)
	}
	return out
}

// CancelAll requests cancellation of every running task.
func (m *Manager) CancelAll() {
	for _, t := range m.Running() {
		t.Cancel()
	}
}

// Wait blocks until every submitted task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
