package service

import (
	"context"
	"io"
	"log"
	"time"
)

// HealthService is the name the scheduler reports its health under.
const HealthService = "gatepass.expiry"

// HealthReporter receives the outcome of every sweep.
type HealthReporter interface {
	SetServing(service string, serving bool)
}

// ExpiryScheduler periodically drives the time-based transitions: auto
// expiry, expiring-soon warnings and overdue flags.  Each pass is bounded
// by BatchLimit; whatever is left over is picked up on the next tick.
type ExpiryScheduler struct {
	passes   *PassService
	interval time.Duration
	window   time.Duration
	limit    int
	health   HealthReporter
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// SchedulerConfig holds the parameters for NewExpiryScheduler.
type SchedulerConfig struct {
	// Interval is the sweep cadence.  Defaults to 5 minutes.
	Interval time.Duration

	// WarningWindow is how far ahead of expiry the warning fires.
	// Defaults to 15 minutes.
	WarningWindow time.Duration

	// BatchLimit caps the records each pass handles per tick.  Defaults
	// to 100.
	BatchLimit int
}

// SweepResult counts the transitions one sweep committed.
type SweepResult struct {
	Expired int
	Warned  int
	Overdue int
}

// NewExpiryScheduler creates a scheduler but does not start it.
// health may be nil.
func NewExpiryScheduler(passes *PassService, cfg SchedulerConfig, health HealthReporter, logger *log.Logger) *ExpiryScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = 15 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ExpiryScheduler{
		passes:   passes,
		interval: cfg.Interval,
		window:   cfg.WarningWindow,
		limit:    cfg.BatchLimit,
		health:   health,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs an immediate sweep, then one per interval, until ctx is
// cancelled or Stop is called.
func (s *ExpiryScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx)

	s.logger.Printf("expiry scheduler started (interval=%s, warning=%s, batch=%d)",
		s.interval, s.window, s.limit)
}

// Stop signals the scheduler to exit and waits for it to finish.
func (s *ExpiryScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *ExpiryScheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs the three passes once.  A pass that fails to query is logged
// and reported unhealthy; the others still run.
func (s *ExpiryScheduler) Sweep(ctx context.Context) SweepResult {
	var (
		res     SweepResult
		healthy = true
		err     error
	)

	if res.Expired, err = s.passes.ExpireDue(ctx, s.limit); err != nil {
		s.logger.Printf("expiry sweep error: %v", err)
		healthy = false
	}
	if res.Warned, err = s.passes.WarnExpiring(ctx, s.window, s.limit); err != nil {
		s.logger.Printf("expiry warning sweep error: %v", err)
		healthy = false
	}
	if res.Overdue, err = s.passes.FlagOverdue(ctx, s.limit); err != nil {
		s.logger.Printf("overdue sweep error: %v", err)
		healthy = false
	}

	if res != (SweepResult{}) {
		s.logger.Printf("expiry sweep: expired=%d warned=%d overdue=%d",
			res.Expired, res.Warned, res.Overdue)
	}
	if s.health != nil {
		s.health.SetServing(HealthService, healthy)
	}
	return res
}
