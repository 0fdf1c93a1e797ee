// Package health runs readiness probes for the search service: the loaded
// index snapshot is required, optional backends such as Redis only degrade.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Result is the outcome of one probe. Details carries component facts such
// as the index generation.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency string         `json:"latency"`
}

type Check func(ctx context.Context) Result

type Report struct {
	Status     Status            `json:"status"`
	Components map[string]Result `json:"components"`
	Uptime     string            `json:"uptime"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// FromError adapts an error-returning probe; a failure reports onFailure.
func FromError(onFailure Status, probe func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := probe(ctx); err != nil {
			return Result{Status: onFailure, Message: err.Error()}
		}
		return Result{Status: StatusUp}
	}
}

type Checker struct {
	timeout time.Duration
	started time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker bounds every probe by timeout; zero means five seconds.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout, started: time.Now(), checks: make(map[string]Check)}
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run probes every component in parallel. The report takes the worst
// component status; a probe that outlives the timeout is reported down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]Result, len(names))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Go(func() {
			results[i] = c.probe(ctx, checks[i])
		})
	}
	wg.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]Result, len(names)),
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		CheckedAt:  time.Now().UTC(),
	}
	for i, name := range names {
		report.Components[name] = results[i]
	}
	statuses := make([]Status, 0, len(results)+1)
	statuses = append(statuses, StatusUp)
	for _, r := range results {
		statuses = append(statuses, r.Status)
	}
	report.Status = slices.MaxFunc(statuses, func(a, b Status) int { return a.rank() - b.rank() })
	return report
}

func (c *Checker) probe(ctx context.Context, check Check) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	done := make(chan Result, 1)
	go func() { done <- check(ctx) }()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Result{Status: StatusDown, Message: "probe timed out"}
	}
	r.Latency = time.Since(start).Round(time.Microsecond).String()
	return r
}

// LiveHandler answers liveness probes without touching dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(c.started).Round(time.Second).String(),
		})
	}
}

// ReadyHandler answers 503 only when a required component is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
