// Package crawler implements a polite breadth-first web crawler. A single
// coordinator goroutine owns dispatch from the frontier; fetches run on a
// bounded set of workers, capped per host and paced by a per-host rate
// limiter that honours robots.txt Crawl-delay.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/resilience"
)

// Failure reasons.
const (
	ReasonTransient = "transient"
	ReasonPermanent = "permanent"
	ReasonParse     = "parse"
	ReasonRobots    = "robots"
	ReasonInvalid   = "invalid_url"
	ReasonCancelled = "cancelled"
	ReasonOffSite   = "off_site"
)

// Failure records a URL the crawl gave up on.
type Failure struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

// Result is the outcome of one crawl run. Documents are in completion order.
type Result struct {
	Documents    []corpus.Document `json:"-"`
	Failures     []Failure         `json:"failures"`
	PagesFetched int               `json:"pages_fetched"`
	PagesFailed  int               `json:"pages_failed"`
	Duration     time.Duration     `json:"duration"`
	Cancelled    bool              `json:"cancelled"`
}

type hostState struct {
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	robotsOnce sync.Once
	robots     *robotsRules
}

type Crawler struct {
	cfg     config.CrawlerConfig
	fetcher *fetcher
	client  *http.Client
	include []*regexp.Regexp
	allowed map[string]struct{}
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// run is the state of one Crawl call.
type run struct {
	*Crawler
	frontier  *Frontier
	seedHosts map[string]struct{}
	hostsMu   sync.Mutex
	hosts     map[string]*hostState
}

// New builds a crawler. A nil client gets a default one bounded by
// cfg.RequestTimeout.
func New(cfg config.CrawlerConfig, client *http.Client, m *metrics.Metrics) (*Crawler, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = 1
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	include := make([]*regexp.Regexp, 0, len(cfg.IncludePatterns))
	for _, p := range cfg.IncludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling include pattern %q: %w", p, err)
		}
		include = append(include, re)
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return &Crawler{
		cfg:     cfg,
		client:  client,
		fetcher: &fetcher{client: client, userAgent: cfg.UserAgent, maxBody: cfg.MaxBodyBytes, now: time.Now},
		include: include,
		allowed: allowed,
		metrics: m,
		logger:  slog.Default().With("component", "crawler"),
		now:     time.Now,
	}, nil
}

type outcome struct {
	entry    Entry
	doc      *corpus.Document
	links    []string
	finalURL string
	failure  *Failure
}

// Crawl walks the site breadth-first from seeds until the frontier drains,
// maxPages documents exist (maxPages <= 0 uses the configured budget), or ctx
// is cancelled. Cancellation stops dispatch; fetches already running finish.
// Individual page failures are recorded in the result, never returned.
func (c *Crawler) Crawl(ctx context.Context, seeds []string, maxPages int) (*Result, error) {
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}
	start := c.now()
	res := &Result{Documents: []corpus.Document{}, Failures: []Failure{}}

	r := &run{
		Crawler:   c,
		frontier:  NewFrontier(),
		seedHosts: make(map[string]struct{}),
		hosts:     make(map[string]*hostState),
	}
	for _, s := range seeds {
		norm, err := corpus.NormalizeURL(s)
		if err != nil {
			res.Failures = append(res.Failures, Failure{URL: s, Reason: ReasonInvalid, Error: err.Error()})
			continue
		}
		r.seedHosts[corpus.Host(norm)] = struct{}{}
		r.frontier.Push(norm, 0)
	}

	c.logger.Info("crawl started", "seeds", len(seeds), "max_pages", maxPages, "max_depth", c.cfg.MaxDepth, "workers", c.cfg.Workers)

	results := make(chan outcome)
	inFlight := 0
	for {
		for ctx.Err() == nil && inFlight < c.cfg.Workers && len(res.Documents)+inFlight < maxPages {
			e, ok := r.frontier.Pop()
			if !ok {
				break
			}
			inFlight++
			go func(e Entry) {
				results <- r.visit(ctx, e)
			}(e)
		}
		c.metrics.FrontierSize.Set(float64(r.frontier.Len()))
		if inFlight == 0 {
			break
		}

		o := <-results
		inFlight--
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			if o.failure.Reason != ReasonRobots && o.failure.Reason != ReasonCancelled {
				res.PagesFailed++
			}
			c.metrics.PagesFetchedTotal.WithLabelValues(o.failure.Reason).Inc()
			continue
		}
		if o.finalURL != "" {
			if f := r.checkRedirect(o); f != nil {
				res.Failures = append(res.Failures, *f)
				c.metrics.PagesFetchedTotal.WithLabelValues(f.Reason).Inc()
				continue
			}
			if !r.frontier.MarkVisited(o.finalURL) {
				// The target is queued or fetched under its own URL.
				c.logger.Debug("redirect target already visited", "url", o.entry.URL, "final_url", o.finalURL)
				c.metrics.PagesFetchedTotal.WithLabelValues("duplicate").Inc()
				continue
			}
		}
		res.PagesFetched++
		c.metrics.PagesFetchedTotal.WithLabelValues("ok").Inc()
		if o.doc != nil && len(res.Documents) < maxPages {
			res.Documents = append(res.Documents, *o.doc)
		}
		r.enqueueLinks(o.entry.Depth+1, o.links)
	}

	res.Cancelled = ctx.Err() != nil
	res.Duration = c.now().Sub(start)
	c.metrics.FrontierSize.Set(0)
	c.logger.Info("crawl finished",
		"documents", len(res.Documents),
		"fetched", res.PagesFetched,
		"failed", res.PagesFailed,
		"visited", r.frontier.VisitedCount(),
		"cancelled", res.Cancelled,
		"duration", res.Duration,
	)
	return res, nil
}

func (r *run) enqueueLinks(depth int, links []string) {
	if r.cfg.MaxDepth > 0 && depth > r.cfg.MaxDepth {
		return
	}
	for _, link := range links {
		norm, err := corpus.NormalizeURL(link)
		if err != nil || !r.followable(norm) {
			continue
		}
		r.frontier.Push(norm, depth)
	}
}

// checkRedirect rejects a fetch that was redirected off the crawl's sites.
// Include patterns are not applied, so a seed may redirect to any on-site
// landing page.
func (r *run) checkRedirect(o outcome) *Failure {
	norm, err := corpus.NormalizeURL(o.finalURL)
	if err != nil {
		return &Failure{URL: o.entry.URL, Depth: o.entry.Depth, Reason: ReasonInvalid, Error: err.Error()}
	}
	if !r.onSite(norm) {
		return &Failure{
			URL:    o.entry.URL,
			Depth:  o.entry.Depth,
			Reason: ReasonOffSite,
			Error:  "redirected off site to " + norm,
		}
	}
	return nil
}

func (r *run) onSite(norm string) bool {
	if !r.cfg.SameSiteOnly {
		return true
	}
	host := corpus.Host(norm)
	_, seed := r.seedHosts[host]
	_, extra := r.allowed[host]
	return seed || extra
}

func (r *run) followable(norm string) bool {
	if !r.onSite(norm) {
		return false
	}
	if len(r.include) == 0 {
		return true
	}
	for _, re := range r.include {
		if re.MatchString(norm) {
			return true
		}
	}
	return false
}

// visit fetches and parses one entry. It runs on its own goroutine.
func (r *run) visit(ctx context.Context, e Entry) outcome {
	c := r.Crawler
	out := outcome{entry: e}
	u, err := url.Parse(e.URL)
	if err != nil {
		out.failure = &Failure{URL: e.URL, Depth: e.Depth, Reason: ReasonInvalid, Error: err.Error()}
		return out
	}
	hs := r.host(u.Host)

	if c.cfg.RespectRobots {
		rules := r.robotsFor(ctx, u, hs)
		if !rules.Allowed(u.EscapedPath()) {
			c.logger.Debug("blocked by robots.txt", "url", e.URL)
			out.failure = &Failure{URL: e.URL, Depth: e.Depth, Reason: ReasonRobots, Error: "disallowed by robots.txt"}
			return out
		}
	}

	if err := hs.sem.Acquire(ctx, 1); err != nil {
		out.failure = &Failure{URL: e.URL, Depth: e.Depth, Reason: ReasonCancelled, Error: err.Error()}
		return out
	}
	defer hs.sem.Release(1)

	// Requests already on the wire are not cut off by cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	var page *Page
	err = resilience.Retry(ctx, "fetch "+e.URL, resilience.RetryConfig{
		MaxAttempts:    c.cfg.MaxRetries + 1,
		InitialDelay:   c.cfg.RetryBaseDelay,
		MaxDelay:       c.cfg.RetryMaxDelay,
		Multiplier:     c.cfg.RetryMultiplier,
		JitterFraction: c.cfg.RetryJitter,
		Retryable:      apperrors.IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.metrics.FetchRetriesTotal.Inc()
			c.logger.Warn("fetch failed, retrying", "url", e.URL, "attempt", attempt, "delay", delay, "error", err)
		},
	}, func() error {
		if err := hs.limiter.Wait(ctx); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(fetchCtx, c.requestTimeout())
		defer cancel()
		began := c.now()
		p, err := c.fetcher.fetch(reqCtx, e.URL)
		c.metrics.FetchDuration.WithLabelValues(u.Host).Observe(c.now().Sub(began).Seconds())
		page = p
		return err
	})
	if err != nil {
		out.failure = classify(e, err)
		c.logger.Warn("giving up on url", "url", e.URL, "reason", out.failure.Reason, "error", err)
		return out
	}

	finalURL := page.FinalURL
	base, err := url.Parse(finalURL)
	if err != nil {
		base = u
		finalURL = e.URL
	}
	parsed, err := Parse(base, page.Body, page.ContentType)
	if err != nil {
		out.failure = classify(e, err)
		return out
	}
	doc, err := corpus.New(finalURL, parsed.Title, parsed.Text)
	if err != nil {
		out.failure = &Failure{URL: e.URL, Depth: e.Depth, Reason: ReasonInvalid, Error: err.Error()}
		return out
	}
	doc.Authors = parsed.Authors
	doc.Year = parsed.Year
	doc.Abstract = parsed.Abstract
	doc.FetchedAt = c.now().UTC()

	out.doc = &doc
	out.links = parsed.Links
	if doc.URL != e.URL {
		out.finalURL = doc.URL
	}
	return out
}

func (c *Crawler) requestTimeout() time.Duration {
	if c.cfg.RequestTimeout > 0 {
		return c.cfg.RequestTimeout
	}
	return 30 * time.Second
}

func (r *run) host(host string) *hostState {
	r.hostsMu.Lock()
	defer r.hostsMu.Unlock()
	hs, ok := r.hosts[host]
	if !ok {
		limit := rate.Inf
		if r.cfg.PolitenessDelay > 0 {
			limit = rate.Every(r.cfg.PolitenessDelay)
		}
		hs = &hostState{
			sem:     semaphore.NewWeighted(int64(r.cfg.PerHostConcurrency)),
			limiter: rate.NewLimiter(limit, 1),
		}
		r.hosts[host] = hs
	}
	return hs
}

// robotsFor loads robots.txt once per host and slows the host's limiter to
// its Crawl-delay when that is longer than the configured delay.
func (r *run) robotsFor(ctx context.Context, u *url.URL, hs *hostState) *robotsRules {
	c := r.Crawler
	hs.robotsOnce.Do(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout())
		defer cancel()
		rules, err := fetchRobots(rctx, c.client, u, c.cfg.UserAgent)
		if err != nil {
			c.logger.Warn("robots.txt unavailable, allowing all", "host", u.Host, "error", err)
		}
		if rules.crawlDelay > c.cfg.PolitenessDelay {
			hs.limiter.SetLimit(rate.Every(rules.crawlDelay))
			c.logger.Info("honouring crawl-delay", "host", u.Host, "delay", rules.crawlDelay)
		}
		hs.robots = rules
	})
	return hs.robots
}

func classify(e Entry, err error) *Failure {
	f := &Failure{URL: e.URL, Depth: e.Depth, Error: err.Error()}
	var fe *FetchError
	if errors.As(err, &fe) {
		f.StatusCode = fe.StatusCode
	}
	switch {
	case errors.Is(err, context.Canceled):
		f.Reason = ReasonCancelled
	case errors.Is(err, apperrors.ErrParse):
		f.Reason = ReasonParse
	case errors.Is(err, apperrors.ErrPermanentFetch):
		f.Reason = ReasonPermanent
	default:
		f.Reason = ReasonTransient
	}
	return f
}
