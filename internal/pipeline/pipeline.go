// Package pipeline runs one crawl-and-index cycle: crawl the seeds, append
// the fetched documents to the corpus log, rebuild and persist the index, and
// announce the new generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/crawler"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/tracing"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunSummary is the record of one pipeline run.
type RunSummary struct {
	RunID        string            `json:"run_id"`
	Seeds        []string          `json:"seeds"`
	Status       string            `json:"status"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration"`
	PagesFetched int               `json:"pages_fetched"`
	PagesFailed  int               `json:"pages_failed"`
	PagesIndexed int               `json:"pages_indexed"`
	Skipped      int               `json:"skipped"`
	Generation   uint64            `json:"generation,omitempty"`
	Terms        int               `json:"terms,omitempty"`
	Failures     []crawler.Failure `json:"failures"`
	Stages       []tracing.Record  `json:"stages,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Crawler is the crawl stage.
type Crawler interface {
	Crawl(ctx context.Context, seeds []string, maxPages int) (*crawler.Result, error)
}

// Indexer is the build stage.
type Indexer interface {
	Rebuild(ctx context.Context, docs []corpus.Document) (*index.Snapshot, indexer.BuildStats, error)
	IndexPath() string
}

// Installer receives freshly built snapshots, typically an in-process search
// engine.
type Installer interface {
	Swap(snap *index.Snapshot) error
	Search(ctx context.Context, query string, topK int) ([]ranker.ScoredDoc, error)
}

// Recorder persists run summaries.
type Recorder interface {
	Record(ctx context.Context, run *RunSummary) error
}

// Options are the optional collaborators of a Pipeline.
type Options struct {
	Publisher kafka.Publisher
	Installer Installer
	Recorder  Recorder
	Metrics   *metrics.Metrics
}

type Pipeline struct {
	cfg     config.PipelineConfig
	crawler Crawler
	store   *corpus.Store
	indexer Indexer
	opts    Options
	now     func() time.Time
}

func New(cfg config.PipelineConfig, c Crawler, store *corpus.Store, idx Indexer, opts Options) *Pipeline {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		crawler: c,
		store:   store,
		indexer: idx,
		opts:    opts,
		now:     time.Now,
	}
}

// Run executes one cycle. A run whose crawl produced no documents fails with
// ErrNoSeedsReachable and leaves the index untouched. The summary is returned
// even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, seeds []string, maxPages int) (*RunSummary, error) {
	runID := uuid.NewString()
	ctx = logger.With(ctx, "run_id", runID)
	ctx, span := tracing.StartSpan(ctx, "pipeline.run", runID)

	sum := &RunSummary{
		RunID:     runID,
		Seeds:     seeds,
		StartedAt: p.now().UTC(),
		Failures:  []crawler.Failure{},
	}
	log := logger.FromContext(ctx).With("component", "pipeline")
	log.Info("pipeline run started", "seeds", len(seeds), "max_pages", maxPages)

	err := p.run(ctx, sum, seeds, maxPages)
	sum.Duration = p.now().Sub(sum.StartedAt)
	switch {
	case err == nil:
		sum.Status = StatusSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		sum.Status = StatusCancelled
	default:
		sum.Status = StatusFailed
	}
	if err != nil {
		sum.Error = err.Error()
	}

	p.opts.Metrics.PipelineRunsTotal.WithLabelValues(sum.Status).Inc()
	p.opts.Metrics.PipelineRunDuration.Observe(sum.Duration.Seconds())
	span.SetAttr("status", sum.Status)
	span.EndWithError(err)
	sum.Stages = span.Record().Children
	span.Log(log)

	if p.opts.Recorder != nil {
		if rerr := p.opts.Recorder.Record(context.WithoutCancel(ctx), sum); rerr != nil {
			log.Error("recording run failed", "error", rerr)
		}
	}

	if err != nil {
		log.Error("pipeline run failed", "status", sum.Status, "duration", sum.Duration, "error", err)
		return sum, err
	}
	log.Info("pipeline run finished",
		"generation", sum.Generation,
		"fetched", sum.PagesFetched,
		"indexed", sum.PagesIndexed,
		"failed", sum.PagesFailed,
		"duration", sum.Duration,
	)
	return sum, nil
}

func (p *Pipeline) run(ctx context.Context, sum *RunSummary, seeds []string, maxPages int) error {
	docs, err := p.crawl(ctx, sum, seeds, maxPages)
	if err != nil {
		return err
	}

	if err := p.store.Append(docs); err != nil {
		return fmt.Errorf("appending crawl output: %w", err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted after crawl: %w", ctx.Err())
	}

	buildDocs := docs
	if p.cfg.AccumulateCorpus {
		if buildDocs, err = p.store.Load(); err != nil {
			return fmt.Errorf("loading corpus: %w", err)
		}
	}

	snap, err := p.build(ctx, sum, buildDocs)
	if err != nil {
		return err
	}

	if _, err := p.store.Compact(); err != nil {
		logger.FromContext(ctx).Warn("corpus compaction failed", "error", err)
	}

	p.announce(ctx, sum, snap)
	p.install(ctx, snap)
	return nil
}

func (p *Pipeline) crawl(ctx context.Context, sum *RunSummary, seeds []string, maxPages int) ([]corpus.Document, error) {
	cctx, span := tracing.StartChildSpan(ctx, "pipeline.crawl")
	res, err := p.crawler.Crawl(cctx, seeds, maxPages)
	if err != nil {
		span.EndWithError(err)
		return nil, fmt.Errorf("crawling: %w", err)
	}
	sum.PagesFetched = res.PagesFetched
	sum.PagesFailed = res.PagesFailed
	sum.Failures = res.Failures
	span.SetAttr("documents", len(res.Documents))
	span.SetAttr("failed", res.PagesFailed)

	if len(res.Documents) == 0 {
		err := fmt.Errorf("%w: %d seeds, %d failures", apperrors.ErrNoSeedsReachable, len(seeds), len(res.Failures))
		if res.Cancelled {
			err = fmt.Errorf("crawl cancelled before any document: %w", ctx.Err())
		}
		span.EndWithError(err)
		return nil, err
	}
	span.End()
	return res.Documents, nil
}

func (p *Pipeline) build(ctx context.Context, sum *RunSummary, docs []corpus.Document) (*index.Snapshot, error) {
	bctx, span := tracing.StartChildSpan(ctx, "pipeline.index")
	snap, stats, err := p.indexer.Rebuild(bctx, docs)
	sum.Skipped = stats.Skipped
	if err != nil {
		span.EndWithError(err)
		return nil, fmt.Errorf("rebuilding index: %w", err)
	}
	sum.PagesIndexed = stats.Documents
	sum.Terms = stats.Terms
	sum.Generation = snap.Generation()
	span.SetAttr("generation", snap.Generation())
	span.SetAttr("documents", stats.Documents)
	span.SetAttr("bytes", stats.Bytes)
	span.End()
	return snap, nil
}

// announce publishes the new generation. Failure is logged only: searchers
// without the event still pick the file up by polling.
func (p *Pipeline) announce(ctx context.Context, sum *RunSummary, snap *index.Snapshot) {
	if p.opts.Publisher == nil {
		return
	}
	ev := events.IndexBuilt{
		Generation:    snap.Generation(),
		DocumentCount: snap.DocumentCount(),
		TermCount:     snap.TermCount(),
		BuiltAt:       snap.BuiltAt(),
		RunID:         sum.RunID,
		IndexPath:     p.indexer.IndexPath(),
	}
	if err := events.PublishIndexBuilt(ctx, p.opts.Publisher, ev); err != nil {
		logger.FromContext(ctx).Warn("index announcement failed", "generation", ev.Generation, "error", err)
	}
}

func (p *Pipeline) install(ctx context.Context, snap *index.Snapshot) {
	if p.opts.Installer == nil {
		return
	}
	log := logger.FromContext(ctx)
	if err := p.opts.Installer.Swap(snap); err != nil {
		log.Error("installing snapshot failed", "generation", snap.Generation(), "error", err)
		return
	}
	for _, q := range p.cfg.WarmupQueries {
		hits, err := p.opts.Installer.Search(ctx, q, 10)
		if err != nil {
			log.Warn("warmup query failed", "query", q, "error", err)
			continue
		}
		log.Debug("warmup query", "query", q, "hits", len(hits))
	}
}
