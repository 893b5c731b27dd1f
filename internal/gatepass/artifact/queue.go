package artifact

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
)

// RetryPolicy bounds how hard the queue tries one task.  The delay starts
// at InitialBackoff and doubles after each failure, capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Queue renders tasks on one background goroutine and stores the result.
type Queue struct {
	renderer Renderer
	store    store.ArtifactStore
	retry    RetryPolicy
	logger   *log.Logger

	tasks  chan Task
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	stopped bool
}

// NewQueue creates a queue holding up to capacity pending tasks.  Call
// Start to begin rendering.
func NewQueue(r Renderer, st store.ArtifactStore, capacity int, retry RetryPolicy, logger *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	def := DefaultRetryPolicy()
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = def.MaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = def.InitialBackoff
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = retry.InitialBackoff
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Queue{
		renderer: r,
		store:    st,
		retry:    retry,
		logger:   logger,
		tasks:    make(chan Task, capacity),
		done:     make(chan struct{}),
	}
}

// Enqueue hands t to the worker without blocking.  It returns false when
// the queue is full or stopped.
func (q *Queue) Enqueue(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return false
	}
	select {
	case q.tasks <- t:
		return true
	default:
		return false
	}
}

func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.loop(ctx)
	q.logger.Printf("artifact queue started (capacity=%d, max_attempts=%d)", cap(q.tasks), q.retry.MaxAttempts)
}

// Stop refuses new tasks, abandons any retry backoff in progress and
// waits for the worker to exit.  Tasks still queued are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	<-q.done
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			if n := len(q.tasks); n > 0 {
				q.logger.Printf("artifact queue stopped with %d tasks pending", n)
			}
			return
		case t := <-q.tasks:
			if err := q.process(ctx, t); err != nil {
				q.logger.Printf("artifact for pass %s: %v", t.PassID, err)
			}
		}
	}
}

// process renders and stores one task, retrying with exponential backoff.
func (q *Queue) process(ctx context.Context, t Task) error {
	backoff := q.retry.InitialBackoff

	var err error
	for attempt := 1; attempt <= q.retry.MaxAttempts; attempt++ {
		if err = q.attempt(ctx, t); err == nil {
			return nil
		}
		if attempt == q.retry.MaxAttempts {
			break
		}
		q.logger.Printf("artifact for pass %s failed (attempt %d/%d), retrying in %s: %v",
			t.PassID, attempt, q.retry.MaxAttempts, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > q.retry.MaxBackoff {
			backoff = q.retry.MaxBackoff
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", q.retry.MaxAttempts, err)
}

func (q *Queue) attempt(ctx context.Context, t Task) error {
	rec, err := q.renderer.Render(ctx, t)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if rec.PassID == "" {
		rec.PassID = t.PassID
	}
	if err := q.store.PutArtifact(ctx, rec); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
