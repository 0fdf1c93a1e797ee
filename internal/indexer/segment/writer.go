package segment

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
)

// Writer persists snapshots to a fixed path.
type Writer struct {
	path        string
	compression Compression
	logger      *slog.Logger
	// beforeRename runs after the temp file is synced; tests use it to
	// simulate a failed replace.
	beforeRename func() error
}

// NewWriter creates a Writer for path. An unknown compression falls back to
// zstd.
func NewWriter(path string, compression Compression) *Writer {
	if compression != CompressionNone {
		compression = CompressionZstd
	}
	return &Writer{
		path:        path,
		compression: compression,
		logger:      slog.Default().With("component", "segment-writer", "path", path),
	}
}

// Path returns the destination file.
func (w *Writer) Path() string {
	return w.path
}

// Write atomically replaces the index file with snap. The payload goes to a
// temp file in the same directory which is synced and renamed over the
// destination; on any failure the previous file is left untouched and the
// returned error wraps ErrIndexWrite.
func (w *Writer) Write(snap *index.Snapshot) (int64, error) {
	size, err := w.write(snap)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrIndexWrite, err)
	}
	return size, nil
}

func (w *Writer) write(snap *index.Snapshot) (int64, error) {
	raw, err := json.Marshal(payload{
		Terms:                 snap.Terms(),
		Documents:             snap.Docs(),
		DocumentCount:         snap.DocumentCount(),
		AverageDocumentLength: snap.AverageDocLength(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshaling payload: %w", err)
	}
	body := raw
	var flags uint32
	if snap.Stemming() {
		flags |= flagStemming
	}
	if w.compression == CompressionZstd {
		body = zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4))
		flags |= flagZstd
	}
	header := Header{
		Magic:            MagicBytes,
		Version:          FormatVersion,
		Flags:            flags,
		DocCount:         uint32(snap.DocumentCount()),
		TermCount:        uint32(snap.TermCount()),
		Checksum:         crc32.ChecksumIEEE(body),
		CreatedAt:        snap.BuiltAt().UnixNano(),
		Generation:       snap.Generation(),
		PayloadSize:      uint64(len(body)),
		AverageDocLength: snap.AverageDocLength(),
		RawSize:          uint64(len(raw)),
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating index directory: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp index file: %w", err)
	}
	tmpPath := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(header.encode()); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		return 0, fmt.Errorf("writing payload: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing index file: %w", err)
	}
	if w.beforeRename != nil {
		if err := w.beforeRename(); err != nil {
			return 0, err
		}
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return 0, fmt.Errorf("renaming index file: %w", err)
	}
	committed = true
	syncDir(dir)

	size := int64(HeaderSize + len(body))
	w.logger.Info("index written",
		"generation", snap.Generation(),
		"docs", snap.DocumentCount(),
		"terms", snap.TermCount(),
		"bytes", size,
		"raw_bytes", len(raw),
		"compression", w.compression,
		"built_at", snap.BuiltAt().Format(time.RFC3339),
	)
	return size, nil
}

// syncDir makes the rename durable. Failures are ignored: some platforms do
// not support syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
