package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/crawler"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (f *fakePublisher) Publish(ctx context.Context, ev kafka.Event) error {
	return f.PublishBatch(ctx, []kafka.Event{ev})
}

func (f *fakePublisher) PublishBatch(_ context.Context, evs []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evs...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type memRecorder struct {
	mu   sync.Mutex
	runs []RunSummary
}

func (r *memRecorder) Record(_ context.Context, run *RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

type failingIndexer struct{}

func (failingIndexer) Rebuild(context.Context, []corpus.Document) (*index.Snapshot, indexer.BuildStats, error) {
	return nil, indexer.BuildStats{}, fmt.Errorf("%w: disk full", apperrors.ErrIndexWrite)
}

func (failingIndexer) IndexPath() string { return "" }

func threePageSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/":       `<html><head><title>Publications</title></head><body><h1>Publications</h1><p>Research outputs of the centre.</p><a href="/page-1">one</a> <a href="/page-2">two</a></body></html>`,
		"/page-1": `<html><body><h1>Cardiac imaging</h1><p>Research on heart failure.</p></body></html>`,
		"/page-2": `<html><body><h1>Developmental biology</h1><p>Research on zebrafish embryos.</p></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	cfg      *config.Config
	store    *corpus.Store
	indexer  *indexer.Engine
	search   *executor.Engine
	pub      *fakePublisher
	recorder *memRecorder
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Indexer.DataDir = t.TempDir()
	cfg.Crawler.PolitenessDelay = 0
	cfg.Crawler.RetryBaseDelay = time.Millisecond
	cfg.Crawler.RetryMaxDelay = 5 * time.Millisecond
	cfg.Crawler.MaxRetries = 1
	idx := indexer.NewEngine(cfg.Indexer, nil)
	return &fixture{
		cfg:      cfg,
		store:    corpus.NewStore(cfg.Indexer.CorpusPath()),
		indexer:  idx,
		search:   executor.New(cfg.Search, cfg.Indexer.IndexPath(), idx.Normalizer(), nil),
		pub:      &fakePublisher{},
		recorder: &memRecorder{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
}

func (f *fixture) pipeline(t *testing.T, idx Indexer) *Pipeline {
	t.Helper()
	c, err := crawler.New(f.cfg.Crawler, nil, nil)
	require.NoError(t, err)
	return New(f.cfg.Pipeline, c, f.store, idx, Options{
		Publisher: f.pub,
		Installer: f.search,
		Recorder:  f.recorder,
		Metrics:   f.metrics,
	})
}

func TestRunEndToEnd(t *testing.T) {
	srv := threePageSite(t)
	f := newFixture(t)
	p := f.pipeline(t, f.indexer)

	sum, err := p.Run(context.Background(), []string{srv.URL + "/"}, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, sum.Status)
	assert.Equal(t, 3, sum.PagesFetched)
	assert.Equal(t, 3, sum.PagesIndexed)
	assert.NotEmpty(t, sum.RunID)
	assert.NotZero(t, sum.Generation)
	require.Len(t, sum.Stages, 2)
	assert.Equal(t, "pipeline.crawl", sum.Stages[0].Name)
	assert.Equal(t, "pipeline.index", sum.Stages[1].Name)

	snap := f.search.Current()
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.DocumentCount())
	assert.Equal(t, sum.Generation, snap.Generation())

	hits, err := f.search.Search(context.Background(), "zebrafish", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, corpus.DocID(srv.URL+"/page-2"), hits[0].DocID)

	_, err = os.Stat(f.cfg.Indexer.IndexPath())
	require.NoError(t, err)
	logged, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, logged, 3)

	require.Len(t, f.pub.events, 1)
	ev, ok := f.pub.events[0].Value.(events.IndexBuilt)
	require.True(t, ok)
	assert.Equal(t, sum.Generation, ev.Generation)
	assert.Equal(t, 3, ev.DocumentCount)
	assert.Equal(t, sum.RunID, ev.RunID)

	require.Len(t, f.recorder.runs, 1)
	assert.Equal(t, StatusSucceeded, f.recorder.runs[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PipelineRunsTotal.WithLabelValues(StatusSucceeded)))
}

func TestRunWithNoReachableSeedLeavesIndexUntouched(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	seed := srv.URL + "/"
	srv.Close()

	f := newFixture(t)
	p := f.pipeline(t, f.indexer)
	sum, err := p.Run(context.Background(), []string{seed}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoSeedsReachable)
	assert.Equal(t, StatusFailed, sum.Status)
	assert.NotEmpty(t, sum.Failures)

	_, statErr := os.Stat(f.cfg.Indexer.IndexPath())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	assert.Nil(t, f.search.Current())
	assert.Empty(t, f.pub.events)
	require.Len(t, f.recorder.runs, 1)
	assert.Equal(t, StatusFailed, f.recorder.runs[0].Status)
}

func TestRunAccumulatesCorpus(t *testing.T) {
	srv := threePageSite(t)
	f := newFixture(t)
	f.cfg.Pipeline.AccumulateCorpus = true

	earlier, err := corpus.New("https://other.example.org/en/publications/older", "Older paper", "archived protein research")
	require.NoError(t, err)
	stale, err := corpus.New(srv.URL+"/page-1", "Stale title", "outdated text")
	require.NoError(t, err)
	require.NoError(t, f.store.Append([]corpus.Document{earlier, stale}))

	p := f.pipeline(t, f.indexer)
	sum, err := p.Run(context.Background(), []string{srv.URL + "/"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.PagesIndexed)

	hits, err := f.search.Search(context.Background(), "archived", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	hits, err = f.search.Search(context.Background(), "outdated", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	logged, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, logged, 4)
}

func TestRunIndexWriteFailure(t *testing.T) {
	srv := threePageSite(t)
	f := newFixture(t)
	p := f.pipeline(t, failingIndexer{})

	sum, err := p.Run(context.Background(), []string{srv.URL + "/"}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexWrite)
	assert.Equal(t, StatusFailed, sum.Status)
	assert.Equal(t, 3, sum.PagesFetched)
	assert.Empty(t, f.pub.events)
	assert.Nil(t, f.search.Current())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	srv := threePageSite(t)
	f := newFixture(t)
	p := f.pipeline(t, f.indexer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := p.Run(ctx, []string{srv.URL + "/"}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, sum.Status)
}
