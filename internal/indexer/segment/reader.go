package segment

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
)

// Load reads and validates an index file in a single read. Every failure,
// including a missing file, wraps ErrIndexLoad.
func Load(path string) (*index.Snapshot, error) {
	snap, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrIndexLoad, path, err)
	}
	return snap, nil
}

// ReadHeader returns only the header of an index file.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", apperrors.ErrIndexLoad, err)
	}
	defer f.Close()
	b := make([]byte, HeaderSize)
	if _, err := f.ReadAt(b, 0); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %w", apperrors.ErrIndexLoad, err)
	}
	h, err := decodeHeader(b)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", apperrors.ErrIndexLoad, err)
	}
	return h, nil
}

func load(path string) (*index.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]
	if uint64(len(body)) != h.PayloadSize {
		return nil, fmt.Errorf("payload size %d does not match header %d", len(body), h.PayloadSize)
	}
	if sum := crc32.ChecksumIEEE(body); sum != h.Checksum {
		return nil, fmt.Errorf("checksum mismatch: got %08x, want %08x", sum, h.Checksum)
	}
	raw := body
	if h.Compressed() {
		raw, err = zstdDecoder.DecodeAll(body, make([]byte, 0, h.RawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	}
	if uint64(len(raw)) != h.RawSize {
		return nil, fmt.Errorf("decoded payload is %d bytes, header says %d", len(raw), h.RawSize)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if int(h.DocCount) != p.DocumentCount || int(h.TermCount) != len(p.Terms) {
		return nil, fmt.Errorf("header counts (%d docs, %d terms) disagree with payload (%d docs, %d terms)",
			h.DocCount, h.TermCount, p.DocumentCount, len(p.Terms))
	}
	return index.NewSnapshot(index.SnapshotData{
		Terms:            p.Terms,
		Docs:             p.Documents,
		DocumentCount:    p.DocumentCount,
		AverageDocLength: p.AverageDocumentLength,
		Stemming:         h.Stemming(),
		Generation:       h.Generation,
		BuiltAt:          time.Unix(0, h.CreatedAt).UTC(),
	})
}
