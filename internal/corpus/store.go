package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const maxLineBytes = 16 << 20

// Store is the JSON Lines crawl log. Appends from one process are serialized;
// Compact replaces the file atomically.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: slog.Default().With("component", "corpus", "path", path),
	}
}

// Path returns the log location.
func (s *Store) Path() string {
	return s.path
}

// Append writes docs to the end of the log, one JSON object per line, and
// syncs before returning.
func (s *Store) Append(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating corpus directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening corpus log: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := encodeAll(w, docs); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing corpus log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing corpus log: %w", err)
	}
	s.logger.Debug("appended documents", "count", len(docs))
	return nil
}

// Load reads every record in log order. A missing log is an empty corpus.
// Malformed lines are skipped and logged.
func (s *Store) Load() ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening corpus log: %w", err)
	}
	defer f.Close()
	return s.decode(f)
}

// Compact rewrites the log keeping only the latest record per document ID and
// returns how many records were dropped.
func (s *Store) Compact() (int, error) {
	docs, err := s.Load()
	if err != nil {
		return 0, err
	}
	kept := Dedupe(docs)
	dropped := len(docs) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating compacted corpus: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := encodeAll(w, kept); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("flushing compacted corpus: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing compacted corpus: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("replacing corpus log: %w", err)
	}
	s.logger.Info("corpus compacted", "kept", len(kept), "dropped", dropped)
	return dropped, nil
}

func (s *Store) decode(r io.Reader) ([]Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	docs := make([]Document, 0, 128)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var d Document
		if err := json.Unmarshal(b, &d); err != nil {
			s.logger.Warn("skipping malformed corpus record", "line", line, "error", err)
			continue
		}
		if d.ID == "" {
			if norm, err := NormalizeURL(d.URL); err == nil {
				d.URL = norm
				d.ID = DocID(norm)
			} else {
				s.logger.Warn("skipping corpus record without usable url", "line", line, "url", d.URL)
				continue
			}
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus log at line %d: %w", line, err)
	}
	return docs, nil
}

func encodeAll(w io.Writer, docs []Document) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encoding document %s: %w", d.ID, err)
		}
	}
	return nil
}
