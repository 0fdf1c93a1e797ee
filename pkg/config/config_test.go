package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1.5, cfg.Search.K1)
	assert.Equal(t, 0.75, cfg.Search.B)
	assert.Equal(t, 300, cfg.Crawler.MaxPages)
	assert.Equal(t, filepath.Join("data", "index.bm25"), cfg.Indexer.IndexPath())
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
crawler:
  seeds: ["https://example.org/pubs/"]
  maxPages: 25
  politenessDelay: 250ms
search:
  k1: 1.2
  b: 0.5
indexer:
  stemming: false
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("RS_SEARCH_TOP_K", "40")
	t.Setenv("RS_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/pubs/"}, cfg.Crawler.Seeds)
	assert.Equal(t, 25, cfg.Crawler.MaxPages)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.PolitenessDelay)
	assert.Equal(t, 1.2, cfg.Search.K1)
	assert.Equal(t, 0.5, cfg.Search.B)
	assert.Equal(t, 40, cfg.Search.TopK)
	assert.False(t, cfg.Indexer.Stemming)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// Untouched sections keep defaults.
	assert.Equal(t, 10, cfg.Search.PageSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  b: 1.5\ncrawler:\n  maxPages: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxPages")
	assert.Contains(t, err.Error(), "Search.B")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestMalformedEnvIgnored(t *testing.T) {
	t.Setenv("RS_CRAWLER_MAX_PAGES", "lots")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Crawler.MaxPages)
}
