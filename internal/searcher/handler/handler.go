// Package handler exposes the search engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
)

// SearchEngine is the part of executor.Engine the handler drives.
type SearchEngine interface {
	SearchPage(ctx context.Context, query string, page, pageSize int) (*executor.Page, error)
	Analyze(query string) []string
	Current() *index.Snapshot
	Reload(ctx context.Context) (index.Stats, error)
}

// Options carries the optional collaborators. Nil fields disable the
// corresponding feature.
type Options struct {
	Cache      *cache.QueryCache
	Collector  *events.Collector
	Aggregator *events.Aggregator
	Metrics    *metrics.Metrics
}

type Handler struct {
	engine      SearchEngine
	cache       *cache.QueryCache
	collector   *events.Collector
	aggregator  *events.Aggregator
	metrics     *metrics.Metrics
	pageSize    int
	maxPageSize int
	logger      *slog.Logger
}

func New(engine SearchEngine, cfg config.SearchConfig, opts Options) *Handler {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Handler{
		engine:      engine,
		cache:       opts.Cache,
		collector:   opts.Collector,
		aggregator:  opts.Aggregator,
		metrics:     m,
		pageSize:    cfg.PageSize,
		maxPageSize: cfg.MaxPageSize,
		logger:      slog.Default().With("component", "search-handler"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search/stats", h.SearchStats)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil || page < 1 {
		h.writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	pageSize, err := intParam(r, "page_size", h.pageSize)
	if err != nil || pageSize < 1 {
		h.writeError(w, http.StatusBadRequest, "page_size must be a positive integer")
		return
	}
	pageSize = min(pageSize, h.maxPageSize)

	snap := h.engine.Current()
	if snap == nil {
		h.writeAppError(w, apperrors.ErrIndexUnavailable)
		return
	}

	var result *executor.Page
	cacheStatus := "disabled"
	compute := func(ctx context.Context) (*executor.Page, error) {
		return h.engine.SearchPage(ctx, query, page, pageSize)
	}
	if h.cache != nil {
		key := cache.Key{
			Generation: snap.Generation(),
			Terms:      h.engine.Analyze(query),
			Page:       page,
			PageSize:   pageSize,
		}
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, key, compute)
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute(ctx)
	}
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		h.writeAppError(w, err)
		return
	}

	out := *result
	out.Query = query
	out.TookMs = time.Since(start).Milliseconds()

	resultType := "results"
	if out.TotalMatches == 0 {
		resultType = "zero"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(out.Results)))

	log.Info("search completed",
		"query", query,
		"page", page,
		"total_matches", out.TotalMatches,
		"returned", len(out.Results),
		"cache", cacheStatus,
		"latency_ms", out.TookMs,
	)
	h.track(r, &out, cacheStatus == "hit")
	h.writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) track(r *http.Request, page *executor.Page, cacheHit bool) {
	if h.collector == nil && h.aggregator == nil {
		return
	}
	ev := events.SearchPerformed{
		Query:        page.Query,
		Terms:        page.Terms,
		TotalMatches: page.TotalMatches,
		Returned:     len(page.Results),
		Page:         page.Page,
		LatencyMs:    page.TookMs,
		CacheHit:     cacheHit,
		Generation:   page.Generation,
		Timestamp:    time.Now().UTC(),
		RequestID:    logger.RequestID(r.Context()),
	}
	if h.aggregator != nil {
		h.aggregator.Record(ev)
	}
	if h.collector != nil {
		h.collector.Track(ev)
	}
}

func (h *Handler) SearchStats(w http.ResponseWriter, r *http.Request) {
	if h.aggregator == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Current()
	if snap == nil {
		h.writeAppError(w, apperrors.ErrIndexUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Stats())
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Reload(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("manual reload failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	if h.cache != nil {
		if _, err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	code := "internal"
	switch status {
	case http.StatusBadRequest:
		code = "invalid_input"
	case http.StatusServiceUnavailable:
		code = "unavailable"
	}
	h.writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeAppError answers with apperrors.Public so server-side causes never
// reach the client.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status, code, message := apperrors.Public(err)
	h.writeJSON(w, status, errorBody{Error: message, Code: code})
}
