// Package scheduler runs the journal retention job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"chart-rsi/internal/model"
)

// Pruner is the part of the journal the retention job needs.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler prunes analyses older than MaxAge on a six-field cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	journal Pruner
	maxAge  time.Duration
	now     func() time.Time
	log     *slog.Logger

	// OnPruned receives the number of rows removed by each run.
	OnPruned func(n int64)
}

// New creates a Scheduler and registers the retention job. It does not start it.
func New(journal Pruner, schedule string, maxAge time.Duration, log *slog.Logger) (*Scheduler, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("scheduler: max age must be positive, got %v", maxAge)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		journal: journal,
		maxAge:  maxAge,
		now:     time.Now,
		log:     log,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduler: register retention %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("retention scheduler started", "max_age", s.maxAge.String())
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("retention scheduler stopped")
}

// RunOnce prunes immediately and returns the number of rows removed.
func (s *Scheduler) RunOnce(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		s.log.Error("retention prune failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if s.OnPruned != nil {
		s.OnPruned(n)
	}
	s.log.Info("retention prune", "cutoff", cutoff, "removed", n)
	return n
}

var _ Pruner = model.AnalysisJournal(nil)
