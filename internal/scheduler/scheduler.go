// Package scheduler re-runs the crawl-and-index pipeline on a fixed interval,
// remembering the last run in a RunStore so the cadence survives restarts.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/resilience"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, seeds []string, maxPages int) (*pipeline.RunSummary, error)
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	store    RunStore
	seeds    []string
	maxPages int
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

func New(cfg config.SchedulerConfig, runner Runner, store RunStore, seeds []string, maxPages int) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		seeds:    seeds,
		maxPages: maxPages,
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
	}
}

// NextRun is when the next run becomes due. With no recorded run it is now.
func (s *Scheduler) NextRun(ctx context.Context) (time.Time, error) {
	last, err := s.store.LastRun(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading last run: %w", err)
	}
	if last == nil {
		return s.now(), nil
	}
	return last.StartedAt.Add(s.cfg.Interval), nil
}

// Status is the scheduler state served on the admin endpoint.
type Status struct {
	Interval time.Duration        `json:"interval"`
	NextRun  time.Time            `json:"next_run"`
	Running  bool                 `json:"running"`
	LastRun  *pipeline.RunSummary `json:"last_run,omitempty"`
}

func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	last, err := s.store.LastRun(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("loading last run: %w", err)
	}
	st := Status{Interval: s.cfg.Interval, NextRun: s.now(), LastRun: last}
	if last != nil {
		st.NextRun = last.StartedAt.Add(s.cfg.Interval)
	}
	s.mu.Lock()
	st.Running = s.running
	s.mu.Unlock()
	return st, nil
}

// StatusHandler serves Status as JSON.
func (s *Scheduler) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		st, err := s.Status(r.Context())
		if err != nil {
			s.logger.Error("status lookup failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "run store unavailable"})
			return
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// Due reports whether at least one interval has passed since the last run.
func (s *Scheduler) Due(ctx context.Context) (bool, error) {
	next, err := s.NextRun(ctx)
	if err != nil {
		return false, err
	}
	return !s.now().Before(next), nil
}

// Tick runs the pipeline if it is due and no run is in progress. It reports
// whether a run happened.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	due, err := s.Due(ctx)
	if err != nil {
		return false, err
	}
	if !due {
		return false, nil
	}
	if _, err := s.RunOnce(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// RunOnce runs the pipeline now, bounded by the configured run timeout.
// Overlapping calls are rejected.
func (s *Scheduler) RunOnce(ctx context.Context) (*pipeline.RunSummary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("pipeline run already in progress")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("scheduled run starting", "seeds", len(s.seeds), "max_pages", s.maxPages)
	sum, err := resilience.WithTimeout(ctx, s.cfg.RunTimeout, "pipeline run", func(ctx context.Context) (*pipeline.RunSummary, error) {
		return s.runner.Run(ctx, s.seeds, s.maxPages)
	})
	if err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return sum, err
	}
	return sum, nil
}

// Start checks the schedule immediately and then every check interval until
// ctx is cancelled. Run failures are logged; the next attempt waits a full
// interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "check_interval", s.cfg.CheckInterval)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		s.check(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	ran, err := s.Tick(ctx)
	if err != nil && !ran {
		s.logger.Error("schedule check failed", "error", err)
		return
	}
	if next, err := s.NextRun(ctx); err == nil {
		s.logger.Info("next run scheduled", "at", next.Format(time.RFC3339), "ran", ran)
	}
}
