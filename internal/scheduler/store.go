package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/postgres"
)

// historyLimit caps the runs kept by FileStore.
const historyLimit = 20

// RunStore persists pipeline run summaries. It doubles as the pipeline's
// Recorder.
type RunStore interface {
	Record(ctx context.Context, run *pipeline.RunSummary) error
	// LastRun returns the most recently started run, or nil when none exist.
	LastRun(ctx context.Context) (*pipeline.RunSummary, error)
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]pipeline.RunSummary, error)
}

type statusFile struct {
	LastCrawlTimestamp int64                 `json:"last_crawl_timestamp"`
	LastCrawlDate      string                `json:"last_crawl_date"`
	Runs               []pipeline.RunSummary `json:"runs"`
}

// FileStore keeps run history in a small JSON status file, replaced
// atomically on every write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Record(_ context.Context, run *pipeline.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	runs := append([]pipeline.RunSummary{*run}, st.Runs...)
	if len(runs) > historyLimit {
		runs = runs[:historyLimit]
	}
	st.Runs = runs
	st.LastCrawlTimestamp = runs[0].StartedAt.Unix()
	st.LastCrawlDate = runs[0].StartedAt.Format("2006-01-02T15:04:05Z07:00")
	return s.write(st)
}

func (s *FileStore) LastRun(_ context.Context) (*pipeline.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	if len(st.Runs) == 0 {
		return nil, nil
	}
	last := st.Runs[0]
	return &last, nil
}

func (s *FileStore) Recent(_ context.Context, limit int) ([]pipeline.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(st.Runs) > limit {
		return st.Runs[:limit], nil
	}
	return st.Runs, nil
}

func (s *FileStore) read() (statusFile, error) {
	var st statusFile
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading status file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decoding status file %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStore) write(st statusFile) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}

// OpenStore builds the RunStore selected by cfg.Scheduler.Store. The returned
// close function releases any database connection.
func OpenStore(ctx context.Context, cfg *config.Config) (RunStore, func() error, error) {
	switch cfg.Scheduler.Store {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting run store: %w", err)
		}
		store, err := NewPostgresStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	default:
		return NewFileStore(cfg.Scheduler.StatusFile), func() error { return nil }, nil
	}
}
