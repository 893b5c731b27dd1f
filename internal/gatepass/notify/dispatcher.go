// Package notify fans workflow events out to their delivery channels.
// Dispatch is fire-and-forget: the workflow never waits on, retries or
// inspects delivery.
package notify

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// Publisher delivers one event to one channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev types.Event) error
}

const (
	defaultBuffer  = 256
	publishTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
)

// Dispatcher queues events in memory and hands each to every publisher
// on a background goroutine.
type Dispatcher struct {
	publishers []Publisher
	events     chan types.Event
	logger     *log.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	stopped bool
	dropped int
}

// NewDispatcher creates a dispatcher with room for buffer queued events.
// Call Start to begin delivery.
func NewDispatcher(buffer int, logger *log.Logger, publishers ...Publisher) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		publishers: publishers,
		events:     make(chan types.Event, buffer),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Dispatch queues ev and returns immediately.  When the queue is full or
// the dispatcher has stopped, ev is dropped and logged.
func (d *Dispatcher) Dispatch(ev types.Event) {
	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		d.logger.Printf("notify: dispatcher stopped, dropping %s for %s", ev.Kind, ev.RecipientID)
		return
	}
	select {
	case d.events <- ev:
		d.mu.RUnlock()
		return
	default:
	}
	d.mu.RUnlock()

	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
	d.logger.Printf("notify: queue full, dropping %s for %s (pass %s)", ev.Kind, ev.RecipientID, ev.PassID)
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}

func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)

	names := make([]string, len(d.publishers))
	for i, p := range d.publishers {
		names[i] = p.Name()
	}
	d.logger.Printf("notify: dispatcher started (buffer=%d, publishers=%v)", cap(d.events), names)
}

// Stop refuses new events, makes one bounded pass over what is still
// queued and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case ev := <-d.events:
			d.publish(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-d.events:
			d.publish(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			d.logger.Printf("notify: drain timed out, abandoning %d events", len(d.events))
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev types.Event) {
	for _, p := range d.publishers {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.Publish(pctx, ev)
		cancel()
		if err != nil {
			d.logger.Printf("notify: %s publish %s for %s failed: %v", p.Name(), ev.Kind, ev.RecipientID, err)
		}
	}
}
