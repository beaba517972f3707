/*
scheduler.go - Due-invoice sweep

PURPOSE:
  Periodically persists the future -> pending transition for invoices whose
  due date has arrived. Reads already derive this, so the sweep is
  housekeeping: it keeps stored statuses aligned for reports and external
  consumers that query the database directly.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Errors are logged; the next tick retries

USAGE:
  scheduler := NewSweepScheduler(engine, metrics, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - billing/engine.go: PromoteDueInvoices
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/lease-billing/billing"
)

// SweepScheduler promotes due invoices on a timer.
type SweepScheduler struct {
	Engine        *billing.Engine
	Metrics       *Metrics
	Logger        zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(engine *billing.Engine, metrics *Metrics, logger zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		Engine:        engine,
		Metrics:       metrics,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info().Msg("sweep disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info().Dur("interval", s.CheckInterval).Msg("sweep started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info().Msg("sweep stopped")
	}
}

func (s *SweepScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single sweep and returns the number of invoices promoted.
func (s *SweepScheduler) RunOnce(ctx context.Context) int {
	n, err := s.Engine.PromoteDueInvoices(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("sweep failed")
		if s.Metrics != nil {
			s.Metrics.ObserveError("promote_due_invoices", err)
		}
		return 0
	}
	if s.Metrics != nil {
		s.Metrics.InvoicesPromoted.Add(float64(n))
	}
	return n
}
