// Package scheduler runs recurring jobs on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

var _ ports.Scheduler = (*Interval)(nil)

// Interval triggers a job every period, starting with an immediate run.
type Interval struct {
	name   string
	period time.Duration
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInterval constructs an interval scheduler.
func NewInterval(name string, period time.Duration, clk clock.Clock, logger *slog.Logger) *Interval {
	return &Interval{name: name, period: period, clk: clk, logger: logger}
}

// Start launches the loop. It returns an error when already running.
func (s *Interval) Start(ctx context.Context, job func(time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler %s already started", s.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	go s.loop(runCtx, job, done)
	s.logger.Info("scheduler started", "name", s.name, "period", s.period)
	return nil
}

// Stop cancels the loop and waits for the current run to finish.
func (s *Interval) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Interval) loop(ctx context.Context, job func(time.Time), done chan struct{}) {
	defer close(done)

	timer := s.clk.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case now := <-timer.Chan():
			job(now)
			timer.Reset(s.period)
		case <-ctx.Done():
			return
		}
	}
}
