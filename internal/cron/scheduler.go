// Package cron runs the guardrail-event retention schedule: on each due
// tick, events older than the retention window are pruned from the store.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/atohub/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// DefaultSpec prunes nightly at 04:00.
const DefaultSpec = "0 4 * * *"

// Config holds the dependencies for the retention scheduler.
type Config struct {
	Store *persistence.Store
	// Spec is a 5-field cron expression; empty means DefaultSpec.
	Spec string
	// RetentionDays is the event age cutoff. Zero or negative disables
	// pruning entirely.
	RetentionDays int
	Logger        *slog.Logger
	// Interval is the scheduler tick; defaults to 1 minute.
	Interval time.Duration
}

// Scheduler fires the retention prune whenever the cron schedule comes due.
type Scheduler struct {
	store         *persistence.Store
	spec          string
	retentionDays int
	logger        *slog.Logger
	interval      time.Duration

	nextRun time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:         cfg.Store,
		spec:          spec,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		interval:      interval,
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		s.logger.Info("retention pruning disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	next, _ := NextRunTime(s.spec, time.Now())
	s.nextRun = next
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention scheduler started", "spec", s.spec, "next_run", s.nextRun)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(s.nextRun) {
				continue
			}
			s.RunOnce(ctx)
			next, err := NextRunTime(s.spec, now)
			if err != nil {
				s.logger.Error("retention: bad cron spec", "spec", s.spec, "error", err)
				return
			}
			s.nextRun = next
		}
	}
}

// RunOnce prunes events older than the retention window immediately.
func (s *Scheduler) RunOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	pruned, err := s.store.PruneGuardrailEvents(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: prune failed", "error", err)
		return
	}
	s.logger.Info("retention: pruned guardrail events", "pruned", pruned, "cutoff", cutoff)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
