// Package indexer turns crawled documents into an immutable inverted index
// snapshot and persists it. Builds are full single-threaded batches: there is
// no incremental merge path.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/preprocess"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
)

const cancelCheckEvery = 256

// BuildStats describes one batch build.
type BuildStats struct {
	Documents    int           `json:"documents"`
	Skipped      int           `json:"skipped"`
	Replaced     int           `json:"replaced"`
	Terms        int           `json:"terms"`
	AvgDocLength float64       `json:"average_document_length"`
	Bytes        int64         `json:"bytes,omitempty"`
	Duration     time.Duration `json:"duration"`
}

type Engine struct {
	norm       *preprocess.Normalizer
	writer     *segment.Writer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	generation atomic.Uint64
}

func NewEngine(cfg config.IndexerConfig, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		norm:    preprocess.New(preprocess.Options{Stemming: cfg.Stemming}),
		writer:  segment.NewWriter(cfg.IndexPath(), segment.Compression(cfg.Compression)),
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
		now:     time.Now,
	}
}

// Normalizer is the preprocessor the engine indexes with. Searchers over the
// produced index must use an equivalent one.
func (e *Engine) Normalizer() *preprocess.Normalizer {
	return e.norm
}

// IndexPath is where Rebuild persists snapshots.
func (e *Engine) IndexPath() string {
	return e.writer.Path()
}

// Build indexes docs in order. A document that fails preprocessing is skipped
// with a warning; a later document with the same ID replaces an earlier one.
// Only context cancellation aborts the batch.
func (e *Engine) Build(ctx context.Context, docs []corpus.Document) (*index.Snapshot, BuildStats, error) {
	start := e.now()
	mem := index.NewMemoryIndex()
	var stats BuildStats
	for i, doc := range docs {
		if i%cancelCheckEvery == 0 && ctx.Err() != nil {
			return nil, stats, fmt.Errorf("index build cancelled after %d documents: %w", i, ctx.Err())
		}
		terms, err := e.norm.NormalizeStrict(doc.IndexText())
		if err != nil {
			stats.Skipped++
			e.metrics.DocsSkippedTotal.Inc()
			e.logger.Warn("skipping document", "doc_id", doc.ID, "url", doc.URL, "error", err)
			continue
		}
		meta := index.DocMeta{
			URL:     doc.URL,
			Title:   doc.Title,
			Authors: doc.Authors,
			Year:    doc.Year,
		}
		if mem.AddDocument(doc.ID, meta, terms) {
			stats.Replaced++
		}
		e.metrics.DocsIndexedTotal.Inc()
	}

	builtAt := e.now().UTC()
	snap := mem.Freeze(e.norm.Stemming(), e.nextGeneration(builtAt), builtAt)
	stats.Documents = snap.DocumentCount()
	stats.Terms = snap.TermCount()
	stats.AvgDocLength = snap.AverageDocLength()
	stats.Duration = e.now().Sub(start)
	e.logger.Info("index built",
		"generation", snap.Generation(),
		"documents", stats.Documents,
		"skipped", stats.Skipped,
		"replaced", stats.Replaced,
		"terms", stats.Terms,
		"avg_doc_length", stats.AvgDocLength,
		"duration", stats.Duration,
	)
	return snap, stats, nil
}

// Rebuild builds a snapshot from docs and atomically replaces the persisted
// index with it. On a write failure the previous index file stays in place
// and the error wraps ErrIndexWrite.
func (e *Engine) Rebuild(ctx context.Context, docs []corpus.Document) (*index.Snapshot, BuildStats, error) {
	start := e.now()
	snap, stats, err := e.Build(ctx, docs)
	if err != nil {
		e.metrics.IndexBuildsTotal.WithLabelValues("cancelled").Inc()
		return nil, stats, err
	}
	size, err := e.writer.Write(snap)
	if err != nil {
		e.metrics.IndexBuildsTotal.WithLabelValues("write_failed").Inc()
		e.logger.Error("index write failed, previous index retained", "path", e.writer.Path(), "error", err)
		return nil, stats, err
	}
	stats.Bytes = size
	stats.Duration = e.now().Sub(start)
	e.metrics.IndexBuildsTotal.WithLabelValues("ok").Inc()
	e.metrics.IndexBuildDuration.Observe(stats.Duration.Seconds())
	return snap, stats, nil
}

// nextGeneration is strictly increasing within the process and roughly
// time-ordered across processes.
func (e *Engine) nextGeneration(t time.Time) uint64 {
	for {
		prev := e.generation.Load()
		next := max(uint64(t.UnixNano()), prev+1)
		if e.generation.CompareAndSwap(prev, next) {
			return next
		}
	}
}
