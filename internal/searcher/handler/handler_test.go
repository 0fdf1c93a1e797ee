package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/preprocess"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, goredis.Nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStore) CountByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *mapStore) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string][]byte)
	return n, nil
}

type testServer struct {
	cfg    *config.Config
	engine *executor.Engine
	mux    *http.ServeMux
	agg    *events.Aggregator
	qc     *cache.QueryCache
}

func newTestServer(t *testing.T, withCache bool, matching int) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Indexer.DataDir = t.TempDir()
	norm := preprocess.New(preprocess.Options{Stemming: cfg.Indexer.Stemming})
	engine := executor.New(cfg.Search, cfg.Indexer.IndexPath(), norm, nil)

	if matching > 0 {
		docs := make([]corpus.Document, 0, matching+1)
		for i := 0; i < matching; i++ {
			d, err := corpus.New(fmt.Sprintf("https://pure.example.ac.uk/p/%d", i), fmt.Sprintf("Research paper %d", i), "clinical research")
			require.NoError(t, err)
			docs = append(docs, d)
		}
		other, err := corpus.New("https://pure.example.ac.uk/p/other", "Teaching", "lecture notes")
		require.NoError(t, err)
		docs = append(docs, other)
		_, _, err = indexer.NewEngine(cfg.Indexer, nil).Rebuild(context.Background(), docs)
		require.NoError(t, err)
		_, err = engine.Reload(context.Background())
		require.NoError(t, err)
	}

	s := &testServer{cfg: cfg, engine: engine, mux: http.NewServeMux(), agg: events.NewAggregator()}
	opts := Options{Aggregator: s.agg}
	if withCache {
		s.qc = cache.New(&mapStore{data: make(map[string][]byte)}, time.Minute, nil)
		opts.Cache = s.qc
	}
	New(engine, cfg.Search, opts).Routes(s.mux)
	return s
}

func (s *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) executor.Page {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p executor.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t, false, 2)
	rec := s.do(t, http.MethodGet, "/api/v1/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "'q' is required")
}

func TestSearchRejectsBadPaging(t *testing.T) {
	s := newTestServer(t, false, 2)
	for _, q := range []string{"page=0", "page=abc", "page_size=-1"} {
		rec := s.do(t, http.MethodGet, "/api/v1/search?q=research&"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestSearchWithoutIndexIs503(t *testing.T) {
	s := newTestServer(t, false, 0)
	rec := s.do(t, http.MethodGet, "/api/v1/search?q=research")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"search index unavailable","code":"index_unavailable"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/index/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/index/reload")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchPaginatesOverHTTP(t *testing.T) {
	s := newTestServer(t, false, 12)

	p := decodePage(t, s.do(t, http.MethodGet, "/api/v1/search?q=research&page=1&page_size=5"))
	assert.Len(t, p.Results, 5)
	assert.Equal(t, 12, p.TotalMatches)
	assert.Equal(t, "research", p.Query)
	for _, r := range p.Results {
		assert.True(t, strings.HasPrefix(r.URL, "https://pure.example.ac.uk/p/"))
		assert.Positive(t, r.Score)
	}

	p = decodePage(t, s.do(t, http.MethodGet, "/api/v1/search?q=research&page=3&page_size=5"))
	assert.Len(t, p.Results, 2)

	rec := s.do(t, http.MethodGet, "/api/v1/search?q=research&page=4&page_size=5")
	p = decodePage(t, rec)
	assert.Empty(t, p.Results)
	assert.Contains(t, rec.Body.String(), `"results":[]`)

	stats := s.agg.Stats()
	assert.Equal(t, int64(3), stats.TotalSearches)
}

func TestSearchNoMatchIsOK(t *testing.T) {
	s := newTestServer(t, false, 3)
	p := decodePage(t, s.do(t, http.MethodGet, "/api/v1/search?q=astronomy"))
	assert.Zero(t, p.TotalMatches)
	assert.Equal(t, int64(1), s.agg.Stats().ZeroResultCount)
}

func TestSearchUsesCache(t *testing.T) {
	s := newTestServer(t, true, 4)
	first := decodePage(t, s.do(t, http.MethodGet, "/api/v1/search?q=clinical+research"))
	second := decodePage(t, s.do(t, http.MethodGet, "/api/v1/search?q=research+clinical"))
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, "research clinical", second.Query)

	stats := s.qc.Stats(context.Background())
	assert.Equal(t, int64(1), stats.Hits)

	rec := s.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keys_deleted":1`)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	s := newTestServer(t, false, 1)
	rec := s.do(t, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
	rec = s.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexStatsAndReload(t *testing.T) {
	s := newTestServer(t, false, 3)
	rec := s.do(t, http.MethodGet, "/api/v1/index/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 4, stats["document_count"])

	rec = s.do(t, http.MethodPost, "/api/v1/index/reload")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/index/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
