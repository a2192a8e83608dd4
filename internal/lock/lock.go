// Package lock provides a FIFO-fair mutual exclusion wrapper around one
// shared, non-reentrant resource such as a drawing context.
//
// A ResourceLock has a single current holder and a queue of waiters. Release
// hands the resource directly to the next waiter, so the lock never becomes
// observably free between two queued holders. AcquireForce seizes the
// resource for good: queued and later acquirers fail with ErrAborted and no
// Release can hand it on again.
//
//	commit := lock.New(ctx2d)
//	dc, err := commit.Acquire(ctx, "full-render")
//	if err != nil {
//	    return err
//	}
//	defer commit.Release(dc)
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	derrors "github.com/dshills/easel/internal/errors"
)

// waiter is a queued acquirer. ch is buffered so hand-off never blocks; it is
// closed when the lock is seized.
type waiter[T comparable] struct {
	owner string
	ch    chan T
}

// ResourceLock guards one instance of a singleton resource.
type ResourceLock[T comparable] struct {
	mu       sync.Mutex
	resource T
	held     bool
	seized   bool
	owner    string
	waiters  []*waiter[T]
	logger   *slog.Logger
}

// Option configures a ResourceLock.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for hand-off and misuse diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an unheld lock guarding resource.
func New[T comparable](resource T, opts ...Option) *ResourceLock[T] {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return &ResourceLock[T]{
		resource: resource,
		logger:   o.logger,
	}
}

// Acquire returns the resource once the caller holds the lock.
// If the lock is free the caller becomes holder immediately; otherwise it
// waits in FIFO order. If ctx is cancelled while waiting, Acquire returns
// an error wrapping ErrAborted and the caller does not hold the lock.
func (l *ResourceLock[T]) Acquire(ctx context.Context, owner string) (T, error) {
	l.mu.Lock()
	if l.seized {
		l.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("acquire %q: lock seized: %w", owner, derrors.ErrAborted)
	}
	if !l.held {
		l.held = true
		l.owner = owner
		l.mu.Unlock()
		return l.resource, nil
	}

	w := &waiter[T]{owner: owner, ch: make(chan T, 1)}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case res, ok := <-w.ch:
		if !ok {
			var zero T
			return zero, fmt.Errorf("acquire %q: lock seized: %w", owner, derrors.ErrAborted)
		}
		return res, nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, q := range l.waiters {
		if q == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			var zero T
			return zero, fmt.Errorf("acquire %q: %w", owner, derrors.ErrAborted)
		}
	}
	l.mu.Unlock()

	// The hand-off raced with cancellation or seizure. If we own the lock
	// now, pass it on.
	res, ok := <-w.ch
	if !ok {
		var zero T
		return zero, fmt.Errorf("acquire %q: lock seized: %w", owner, derrors.ErrAborted)
	}
	if err := l.Release(res); err != nil {
		var zero T
		return zero, err
	}
	var zero T
	return zero, fmt.Errorf("acquire %q: %w", owner, derrors.ErrAborted)
}

// TryAcquire takes the lock only if it is free.
func (l *ResourceLock[T]) TryAcquire(owner string) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held || l.seized {
		var zero T
		return zero, false
	}
	l.held = true
	l.owner = owner
	return l.resource, true
}

// AcquireForce seizes ownership without queueing. Reserved for teardown
// paths. Queued waiters fail with ErrAborted, and the holder it displaced
// gets ErrLockMisuse from its Release. The seizure is permanent.
func (l *ResourceLock[T]) AcquireForce(owner string) T {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held && !l.seized {
		l.logger.Warn("resource lock seized", "from", l.owner, "by", owner, "waiters", len(l.waiters))
	}
	for _, w := range l.waiters {
		close(w.ch)
	}
	l.waiters = nil
	l.held = true
	l.seized = true
	l.owner = owner
	return l.resource
}

// Release gives up the lock. The passed value must be the guarded instance
// and the lock must be held; otherwise Release returns an error wrapping
// ErrLockMisuse and changes nothing.
func (l *ResourceLock[T]) Release(res T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if res != l.resource {
		l.logger.Error("release with foreign resource", "owner", l.owner)
		return fmt.Errorf("release: value is not the guarded resource: %w", derrors.ErrLockMisuse)
	}
	if !l.held {
		l.logger.Error("release of unheld lock")
		return fmt.Errorf("release: lock is not held: %w", derrors.ErrLockMisuse)
	}
	if l.seized {
		l.logger.Debug("release after seizure ignored", "owner", l.owner)
		return fmt.Errorf("release: lock seized by %q: %w", l.owner, derrors.ErrLockMisuse)
	}

	if len(l.waiters) == 0 {
		l.held = false
		l.owner = ""
		return nil
	}

	next := l.waiters[0]
	l.waiters[0] = nil
	l.waiters = l.waiters[1:]
	l.logger.Debug("resource lock handed off", "from", l.owner, "to", next.owner)
	l.owner = next.owner
	next.ch <- l.resource
	return nil
}

// Seized returns true once AcquireForce has been called.
func (l *ResourceLock[T]) Seized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seized
}

// Held returns true if the lock currently has a holder.
func (l *ResourceLock[T]) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Owner returns the current holder's owner label, or "" when free.
func (l *ResourceLock[T]) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// Waiting returns the number of queued acquirers.
func (l *ResourceLock[T]) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
