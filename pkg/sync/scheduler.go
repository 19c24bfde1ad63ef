package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCycleInProgress is returned by RunNow when a cycle is already running.
var ErrCycleInProgress = errors.New("sync cycle already in progress")

// Scheduler runs the sync engine on a fixed interval. Ticks never overlap: a
// tick that fires while a cycle is still running is skipped, not queued.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	running sync.Mutex // held for the duration of one cycle

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler around the engine.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Start launches the periodic loop. The first timed cycle runs one interval
// after Start; callers wanting an immediate cycle run RunNow first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sync scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	s.logger.Info("Sync scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the loop and waits for any in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx); err != nil {
				s.logger.Error("Scheduled sync cycle failed", "error", err)
			}
		}
	}
}

// RunNow triggers one cycle immediately. When a cycle is already in flight
// the call is skipped and reports that instead of blocking behind it.
func (s *Scheduler) RunNow(ctx context.Context) (*Summary, error) {
	if !s.running.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.running.Unlock()

	started := time.Now()
	summary, err := s.engine.RunCycle(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Sync cycle finished", "duration", time.Since(started))
	return summary, nil
}
