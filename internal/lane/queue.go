// Package lane provides a scheduler of independent named task lanes.
//
// Each lane runs at most one task at a time; different lanes never block each
// other. A lane is either discardable or commit class, fixed by its first push:
//
//   - Discardable lanes (Push) are bounded. After a task finishes, pending
//     entries beyond the lane's limit are dropped oldest-first and their
//     handles resolve with ErrDropped. This suits preview renders during a
//     pointer drag, where only the latest requests matter.
//   - Commit lanes (PushCommit) never evict. Irreversible work goes here.
//
// Completion order across racing pushes is not strict FIFO; the guarantees
// are "at most one running per lane" and "bounded pending length".
package lane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	derrors "github.com/dshills/easel/internal/errors"
)

// Task is a unit of lane work. ctx is cancelled when the queue closes.
type Task func(ctx context.Context) error

type laneClass int

const (
	classDiscardable laneClass = iota + 1
	classCommit
)

func (c laneClass) String() string {
	switch c {
	case classDiscardable:
		return "discardable"
	case classCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// entry is one pushed task.
type entry struct {
	task Task
	done chan error
}

// lane holds the pending list for one name. pending[0] is the running task
// while running is true.
type lane struct {
	name    string
	class   laneClass
	limit   int
	pending []*entry
	running bool
}

// Handle tracks a pushed task.
type Handle struct {
	done chan error
}

// Done returns a channel that receives the task's result exactly once.
func (h *Handle) Done() <-chan error {
	return h.done
}

// Wait blocks until the task finishes, is dropped, or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait: %w", derrors.ErrAborted)
	}
}

// Stats reports queue counters.
type Stats struct {
	Pushed  uint64
	Ran     uint64
	Dropped uint64
	Failed  uint64
}

// Queue is a set of named lanes.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	stats  Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		lanes:  make(map[string]*lane),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends a discardable task to the named lane. maxQueueLen bounds the
// number of pending entries kept after each completion and must be positive.
func (q *Queue) Push(name string, task Task, maxQueueLen int) (*Handle, error) {
	if maxQueueLen <= 0 {
		return nil, fmt.Errorf("push %q: max queue length %d: %w", name, maxQueueLen, derrors.ErrInvalidOption)
	}
	return q.push(name, task, classDiscardable, maxQueueLen)
}

// PushCommit appends a task that is never evicted.
func (q *Queue) PushCommit(name string, task Task) (*Handle, error) {
	return q.push(name, task, classCommit, 0)
}

func (q *Queue) push(name string, task Task, class laneClass, limit int) (*Handle, error) {
	if task == nil {
		return nil, fmt.Errorf("push %q: nil task: %w", name, derrors.ErrInvalidOption)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("push %q: queue closed: %w", name, derrors.ErrInvalidOption)
	}

	l, ok := q.lanes[name]
	if !ok {
		l = &lane{name: name, class: class}
		q.lanes[name] = l
	}
	if l.class != class {
		return nil, fmt.Errorf("push %q: %s task on %s lane: %w", name, class, l.class, derrors.ErrInvalidOption)
	}
	if class == classDiscardable {
		l.limit = limit
	}

	e := &entry{task: task, done: make(chan error, 1)}
	l.pending = append(l.pending, e)
	q.stats.Pushed++

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.drain(l)
	}

	return &Handle{done: e.done}, nil
}

// drain runs the lane's pending tasks one at a time until it is empty.
func (q *Queue) drain(l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			q.mu.Unlock()
			return
		}
		e := l.pending[0]
		q.mu.Unlock()

		err := q.run(e.task)
		e.done <- err

		q.mu.Lock()
		q.stats.Ran++
		if err != nil {
			q.stats.Failed++
		}
		l.pending[0] = nil
		l.pending = l.pending[1:]
		if l.class == classDiscardable && len(l.pending) > l.limit {
			excess := len(l.pending) - l.limit
			for _, dropped := range l.pending[:excess] {
				dropped.done <- fmt.Errorf("lane %q: %w", l.name, derrors.ErrDropped)
			}
			l.pending = append([]*entry(nil), l.pending[excess:]...)
			q.stats.Dropped += uint64(excess)
			q.logger.Debug("lane evicted stale tasks", "lane", l.name, "dropped", excess)
		}
		q.mu.Unlock()
	}
}

// run executes a task, converting a panic into an invariant error.
func (q *Queue) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("lane task panicked", "panic", r)
			err = fmt.Errorf("lane task panic: %v: %w", r, derrors.ErrInvariant)
		}
	}()
	if q.ctx.Err() != nil {
		return fmt.Errorf("lane task: %w", derrors.ErrAborted)
	}
	return task(q.ctx)
}

// Pending returns the number of entries in the lane, including the running one.
func (q *Queue) Pending(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[name]; ok {
		return len(l.pending)
	}
	return 0
}

// Running returns true if the lane currently executes a task.
func (q *Queue) Running(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[name]; ok {
		return l.running && len(l.pending) > 0
	}
	return false
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close stops accepting tasks, cancels the task context and waits for the
// lanes to drain or ctx to expire. Tasks that have not started observe the
// cancelled context and resolve with ErrAborted.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close lanes: %w", ctx.Err())
	}
}
