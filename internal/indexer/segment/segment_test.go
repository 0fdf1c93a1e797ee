package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T, generation uint64, extra ...string) *index.Snapshot {
	t.Helper()
	m := index.NewMemoryIndex()
	m.AddDocument("d1", index.DocMeta{URL: "https://example.com/1", Title: "Cardiac imaging", Year: 2021, Authors: []string{"A. Author"}}, []string{"cardiac", "imag", "cardiac"})
	m.AddDocument("d2", index.DocMeta{URL: "https://example.com/2", Title: "Renal"}, append([]string{"renal"}, extra...))
	return m.Freeze(true, generation, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestWriteLoadRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "idx", "index.bm25")
			w := NewWriter(path, c)
			size, err := w.Write(testSnapshot(t, 42))
			require.NoError(t, err)
			assert.Greater(t, size, int64(HeaderSize))

			snap, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 2, snap.DocumentCount())
			assert.Equal(t, uint64(42), snap.Generation())
			assert.True(t, snap.Stemming())
			assert.InDelta(t, 2.0, snap.AverageDocLength(), 1e-9)
			assert.Equal(t, index.PostingList{{DocID: "d1", Frequency: 2}}, snap.Postings("cardiac"))
			meta, ok := snap.Doc("d1")
			require.True(t, ok)
			assert.Equal(t, "Cardiac imaging", meta.Title)
			assert.Equal(t, 2021, meta.Year)
			assert.Equal(t, 3, meta.Length)

			h, err := ReadHeader(path)
			require.NoError(t, err)
			assert.Equal(t, c == CompressionZstd, h.Compressed())
			assert.Equal(t, uint32(3), h.TermCount)
		})
	}
}

func TestLoadErrorsWrapIndexLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.bm25"))
	assert.ErrorIs(t, err, apperrors.ErrIndexLoad)

	garbage := filepath.Join(dir, "garbage.bm25")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not an index file, but long enough to have a header of sixty-four bytes"), 0o644))
	_, err = Load(garbage)
	assert.ErrorIs(t, err, apperrors.ErrIndexLoad)
	assert.ErrorContains(t, err, "magic")

	short := filepath.Join(dir, "short.bm25")
	require.NoError(t, os.WriteFile(short, []byte("RSIX"), 0o644))
	_, err = Load(short)
	assert.ErrorIs(t, err, apperrors.ErrIndexLoad)
}

func TestLoadDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bm25")
	_, err := NewWriter(path, CompressionZstd).Write(testSnapshot(t, 1))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	assert.ErrorIs(t, err, apperrors.ErrIndexLoad)
	assert.ErrorContains(t, err, "checksum")

	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "payload size")
}

func TestFailedWriteKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bm25")
	w := NewWriter(path, CompressionZstd)
	_, err := w.Write(testSnapshot(t, 1))
	require.NoError(t, err)

	w.beforeRename = func() error { return errors.New("no space left on device") }
	_, err = w.Write(testSnapshot(t, 2, "extra", "terms"))
	require.ErrorIs(t, err, apperrors.ErrIndexWrite)

	snap, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Generation())
	assert.Nil(t, snap.Postings("extra"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func BenchmarkLoad(b *testing.B) {
	m := index.NewMemoryIndex()
	terms := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("doc-%05d", i)
		m.AddDocument(id, index.DocMeta{URL: "https://example.com/" + id}, terms[:1+i%len(terms)])
	}
	path := filepath.Join(b.TempDir(), "index.bm25")
	if _, err := NewWriter(path, CompressionZstd).Write(m.Freeze(false, 1, time.Now())); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Load(path); err != nil {
			b.Fatal(err)
		}
	}
}
