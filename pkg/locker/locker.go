package locker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BretMeraki/forestd/pkg/filestore"
)

// Op is a logical operation executed under a project's exclusive slot.
type Op func(ctx context.Context) (any, error)

// Locker is the per-project operation serializer. Construct one at process
// start and share it by reference; there is no package-level instance.
type Locker struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// entry exists only while a project has an in-flight operation. waiters
// holds the FIFO queue of pending operations; the entry is removed from
// the table once the queue empties.
type entry struct {
	waiters []chan struct{}
}

// New creates a Locker. logger may be nil.
func New(logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		logger:  logger.Named("locker"),
		entries: make(map[string]*entry),
	}
}

// Run executes op under projectID's exclusive slot. Operations for the
// same project run in strict submission order; operations for distinct
// projects are fully independent.
//
// An error returned by op propagates to this caller only; the queue
// advances regardless. ctx is honored while waiting for the slot: if it
// expires before the operation's turn, the operation never starts and
// ctx.Err() is returned. Once started, the operation is not interrupted.
func (l *Locker) Run(ctx context.Context, projectID string, op Op) (any, error) {
	if err := filestore.ValidateName(projectID); err != nil {
		return nil, fmt.Errorf("project id: %w", err)
	}

	if err := l.acquire(ctx, projectID); err != nil {
		return nil, err
	}
	defer l.release(projectID)

	return op(ctx)
}

// Do is a typed wrapper around Run.
func Do[T any](ctx context.Context, l *Locker, projectID string, op func(ctx context.Context) (T, error)) (T, error) {
	v, err := l.Run(ctx, projectID, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil || v == nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// acquire claims projectID's slot, waiting in FIFO order if contested.
func (l *Locker) acquire(ctx context.Context, projectID string) error {
	l.mu.Lock()
	e, ok := l.entries[projectID]
	if !ok {
		// Uncontested: claim the slot immediately.
		l.entries[projectID] = &entry{}
		l.mu.Unlock()
		return nil
	}

	ticket := make(chan struct{})
	e.waiters = append(e.waiters, ticket)
	depth := len(e.waiters)
	l.mu.Unlock()

	l.logger.Debug("operation queued",
		zap.String("project_id", projectID),
		zap.Int("queue_depth", depth))

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		l.abandon(projectID, ticket)
		return ctx.Err()
	}
}

// abandon withdraws a waiter whose context expired. If the slot was
// granted concurrently with the expiry, it is passed to the next waiter.
func (l *Locker) abandon(projectID string, ticket chan struct{}) {
	l.mu.Lock()
	if e, ok := l.entries[projectID]; ok {
		for i, w := range e.waiters {
			if w == ticket {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				l.mu.Unlock()
				return
			}
		}
	}
	l.mu.Unlock()

	// Not in the queue: the ticket was already granted.
	l.release(projectID)
}

// release hands the slot to the next waiter, or garbage-collects the
// table entry when the queue is empty.
func (l *Locker) release(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[projectID]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		delete(l.entries, projectID)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}
