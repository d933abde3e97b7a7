// Package scheduler runs a job on a cron schedule in a fixed timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled run. The context is cancelled when the scheduler
// shuts down.
type Job func(ctx context.Context) error

// Scheduler fires a single job on a standard five-field cron spec. A tick
// that arrives while the previous run is still going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	started bool

	running atomic.Bool
	skipped atomic.Int64
}

// New creates a scheduler for the given IANA timezone. An empty timezone
// means UTC.
func New(timezone string, logger *slog.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
		logger:   logger.With("component", "scheduler"),
	}, nil
}

// Schedule registers job under spec, replacing any earlier job.
func (s *Scheduler) Schedule(ctx context.Context, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	id, err := s.cron.AddFunc(spec, func() { s.fire(ctx, job) })
	if err != nil {
		return fmt.Errorf("add cron job %q: %w", spec, err)
	}
	s.entryID = id
	return nil
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("previous run still in progress, tick skipped")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	s.logger.Info("scheduled run starting")
	if err := job(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err, "elapsed", time.Since(start))
	} else {
		s.logger.Info("scheduled run finished", "elapsed", time.Since(start))
	}
	if next := s.Next(); !next.IsZero() {
		s.logger.Info("next run", "at", next)
	}
}

// Next returns the next activation time, or zero before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Skipped reports how many ticks were dropped because a run overlapped.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the scheduler and waits for a running job to return or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Start()
	s.logger.Info("scheduler started", "timezone", s.location.String(), "next", s.Next())
	<-ctx.Done()
	s.logger.Info("scheduler stopping")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	s.Stop(stopCtx)
}
