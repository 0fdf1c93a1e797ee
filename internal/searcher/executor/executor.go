// Package executor answers queries against the current index snapshot. The
// snapshot lives behind an atomic pointer: a reload builds a complete new
// snapshot off to the side and swaps it in, so concurrent readers see either
// the old index or the new one and never a mix.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/preprocess"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
)

// Result is one ranked document with the metadata a results page shows.
type Result struct {
	DocID   string   `json:"doc_id"`
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Score   float64  `json:"score"`
}

// Page is a window over the ranked result list.
type Page struct {
	Query        string         `json:"query"`
	Terms        []string       `json:"terms"`
	Results      []Result       `json:"results"`
	TotalMatches int            `json:"total_matches"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	TookMs       int64          `json:"took_ms"`
	Generation   uint64         `json:"generation"`
	TermStats    map[string]int `json:"term_stats,omitempty"`
}

type Engine struct {
	cfg     config.SearchConfig
	path    string
	norm    *preprocess.Normalizer
	metrics *metrics.Metrics
	logger  *slog.Logger

	current atomic.Pointer[index.Snapshot]

	loadMu  sync.Mutex
	modTime time.Time
}

// New creates an engine with no snapshot loaded. Queries fail with
// ErrIndexUnavailable until Reload or Swap succeeds.
func New(cfg config.SearchConfig, indexPath string, norm *preprocess.Normalizer, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		path:    indexPath,
		norm:    norm,
		metrics: m,
		logger:  slog.Default().With("component", "search-engine"),
	}
}

// Reload reads the index file and swaps it in. On failure the previously
// loaded snapshot, if any, keeps serving.
func (e *Engine) Reload(ctx context.Context) (index.Stats, error) {
	if err := ctx.Err(); err != nil {
		return index.Stats{}, err
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	info, statErr := os.Stat(e.path)
	snap, err := segment.Load(e.path)
	if err != nil {
		e.metrics.IndexReloadsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("index reload failed", "path", e.path, "error", err)
		return index.Stats{}, err
	}
	if prev := e.current.Load(); prev != nil && snap.Generation() < prev.Generation() {
		e.logger.Warn("loading an older index generation",
			"current", prev.Generation(), "loaded", snap.Generation())
	}
	if err := e.swapLocked(snap); err != nil {
		e.metrics.IndexReloadsTotal.WithLabelValues("rejected").Inc()
		return index.Stats{}, err
	}
	if statErr == nil {
		e.modTime = info.ModTime()
	}
	e.metrics.IndexReloadsTotal.WithLabelValues("ok").Inc()
	stats := snap.Stats()
	e.logger.Info("index loaded",
		"path", e.path,
		"generation", stats.Generation,
		"documents", stats.DocumentCount,
		"terms", stats.TermCount,
	)
	return stats, nil
}

// Swap publishes an in-memory snapshot, typically one just built by the
// indexer in the same process.
func (e *Engine) Swap(snap *index.Snapshot) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	return e.swapLocked(snap)
}

func (e *Engine) swapLocked(snap *index.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot: %w", apperrors.ErrIndexLoad)
	}
	if snap.Stemming() != e.norm.Stemming() {
		return fmt.Errorf("index built with stemming=%t, searcher configured with stemming=%t: %w",
			snap.Stemming(), e.norm.Stemming(), apperrors.ErrIndexLoad)
	}
	e.current.Store(snap)
	e.metrics.IndexDocumentCount.Set(float64(snap.DocumentCount()))
	e.metrics.IndexTermCount.Set(float64(snap.TermCount()))
	return nil
}

// Current returns the snapshot queries are served from, or nil.
func (e *Engine) Current() *index.Snapshot {
	return e.current.Load()
}

// Ready reports ErrIndexUnavailable until a snapshot is loaded.
func (e *Engine) Ready(ctx context.Context) error {
	if e.current.Load() == nil {
		return apperrors.ErrIndexUnavailable
	}
	return nil
}

// Analyze normalizes a query exactly the way documents were normalized.
func (e *Engine) Analyze(query string) []string {
	return e.norm.Normalize(query)
}

// Search returns at most topK documents ordered by BM25 score. A query that
// normalizes to nothing, or matches nothing, yields an empty slice.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]ranker.ScoredDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := e.current.Load()
	if snap == nil {
		return nil, apperrors.ErrIndexUnavailable
	}
	if topK <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "top_k must be positive, got %d", topK)
	}
	scores, _ := e.score(snap, e.norm.Normalize(query))
	return ranker.Select(scores, topK), nil
}

// SearchPage ranks the query, keeps the best search.topK matches and returns
// the requested window of them. Pages past the end are empty, not errors.
func (e *Engine) SearchPage(ctx context.Context, query string, page, pageSize int) (*Page, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "page must be >= 1, got %d", page)
	}
	if pageSize <= 0 {
		pageSize = e.cfg.PageSize
	}
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}
	snap := e.current.Load()
	if snap == nil {
		return nil, apperrors.ErrIndexUnavailable
	}

	terms := e.norm.Normalize(query)
	scores, termStats := e.score(snap, terms)
	ranked := ranker.Select(scores, e.cfg.TopK)

	results := []Result{}
	if from := (page - 1) * pageSize; from < len(ranked) {
		to := min(from+pageSize, len(ranked))
		results = make([]Result, 0, to-from)
		for _, d := range ranked[from:to] {
			meta, _ := snap.Doc(d.DocID)
			results = append(results, Result{
				DocID:   d.DocID,
				URL:     meta.URL,
				Title:   meta.Title,
				Authors: meta.Authors,
				Year:    meta.Year,
				Score:   d.Score,
			})
		}
	}

	p := &Page{
		Query:        query,
		Terms:        terms,
		Results:      results,
		TotalMatches: len(scores),
		Page:         page,
		PageSize:     pageSize,
		Generation:   snap.Generation(),
		TermStats:    termStats,
		TookMs:       time.Since(start).Milliseconds(),
	}
	e.logger.Debug("query executed",
		"query", query,
		"terms", terms,
		"matches", p.TotalMatches,
		"returned", len(results),
	)
	return p, nil
}

func (e *Engine) score(snap *index.Snapshot, terms []string) (map[string]float64, map[string]int) {
	freqs := preprocess.TermFrequencies(terms)
	inputs := make([]ranker.TermInput, 0, len(freqs))
	termStats := make(map[string]int, len(freqs))
	for term, qf := range freqs {
		postings := snap.Postings(term)
		termStats[term] = len(postings)
		if len(postings) == 0 {
			continue
		}
		inputs = append(inputs, ranker.TermInput{Term: term, QueryFreq: qf, Postings: postings})
	}
	params := ranker.Params{
		K1:           e.cfg.K1,
		B:            e.cfg.B,
		DocCount:     snap.DocumentCount(),
		AvgDocLength: snap.AverageDocLength(),
	}
	return ranker.Score(inputs, params, snap.DocLength), termStats
}

// Watch polls the index file and reloads whenever its modification time
// changes. It returns when ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(e.path)
			if err != nil {
				continue
			}
			e.loadMu.Lock()
			changed := !info.ModTime().Equal(e.modTime)
			e.loadMu.Unlock()
			if changed {
				if _, err := e.Reload(ctx); err != nil {
					e.logger.Warn("reload after index change failed", "error", err)
				}
			}
		}
	}
}
