package locker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunReturnsOperationResult(t *testing.T) {
	l := New(zaptest.NewLogger(t))

	v, err := l.Run(context.Background(), "p1", func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRunRejectsInvalidProjectID(t *testing.T) {
	l := New(nil)

	ran := false
	_, err := l.Run(context.Background(), "../etc", func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, ran, "operation must not start for an invalid project id")
}

func TestSameProjectRunsInSubmissionOrder(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil, nil
		})
	}()

	<-started

	// Submit two more while the first holds the slot. Submission order
	// is fixed by when each Run call enqueues, so stagger them.
	enqueue := func(n int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil, nil
			})
		}()
		// Give the goroutine time to reach the queue.
		time.Sleep(20 * time.Millisecond)
	}
	enqueue(2)
	enqueue(3)

	close(release)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAtMostOneInFlightPerProject(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	var inFlight, maxInFlight int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
}

func TestDistinctProjectsInterleave(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	p1Holding := make(chan struct{})
	p1Release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
			close(p1Holding)
			<-p1Release
			return nil, nil
		})
	}()

	<-p1Holding

	// p2 must proceed while p1's operation is still in flight.
	done := make(chan struct{})
	go func() {
		_, _ = l.Run(ctx, "p2", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("p2 blocked behind p1")
	}

	close(p1Release)
	wg.Wait()
}

func TestFailureDoesNotStopQueue(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// The next operation for the same project still runs.
	v, err := l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestLockTableEntryGarbageCollected(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.entries, "entries must be removed once their queue empties")
}

func TestWaiterContextExpiry(t *testing.T) {
	l := New(nil)

	holding := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.Run(context.Background(), "p1", func(ctx context.Context) (any, error) {
			close(holding)
			<-release
			return nil, nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	_, err := l.Run(ctx, "p1", func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran, "an abandoned waiter's operation must never start")

	close(release)
	wg.Wait()

	// The queue still advances for later submissions.
	_, err = l.Run(context.Background(), "p1", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestDoTyped(t *testing.T) {
	l := New(nil)

	n, err := Do(context.Background(), l, "p1", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = Do(context.Background(), l, "p1", func(ctx context.Context) (string, error) {
		return "", errors.New("nope")
	})
	assert.Error(t, err)
}
