package crawler

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
)

const publicationPage = `<!DOCTYPE html>
<html>
<head>
  <title>Portal page title</title>
  <meta name="citation_title" content="Meta title">
  <meta name="citation_publication_date" content="2019/03/01">
  <script>var tracking = "ignored words";</script>
  <style>.x { color: red }</style>
</head>
<body>
  <h1> Deep   Learning for Cardiac MRI </h1>
  <div class="persons">
    <a href="/en/persons/jane-doe">Jane Doe</a>,
    <a href="/en/persons/john-roe">John Roe</a>,
    <a href="/en/persons/jane-doe">Jane Doe</a>
  </div>
  <h2>Abstract</h2>
  <p>We segment the left ventricle.</p>
  <p>Published 2021 in Journal of Imaging.</p>
  <noscript>enable javascript</noscript>
  <a href="../other#section">other</a>
  <a href="https://example.org/x">external</a>
  <a href="mailto:someone@example.org">mail</a>
  <a href="#top">top</a>
</body>
</html>`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParsePublicationPage(t *testing.T) {
	base := mustURL(t, "https://pure.example.ac.uk/en/publications/deep-learning")
	p, err := Parse(base, []byte(publicationPage), "text/html; charset=utf-8")
	require.NoError(t, err)

	assert.Equal(t, "Deep Learning for Cardiac MRI", p.Title)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, p.Authors)
	assert.Equal(t, "We segment the left ventricle.", p.Abstract)
	assert.Equal(t, 2021, p.Year)
	assert.Contains(t, p.Text, "left ventricle")
	assert.NotContains(t, p.Text, "ignored words")
	assert.NotContains(t, p.Text, "color")
	assert.NotContains(t, p.Text, "enable javascript")
	assert.Equal(t, []string{
		"https://pure.example.ac.uk/en/persons/jane-doe",
		"https://pure.example.ac.uk/en/persons/john-roe",
		"https://pure.example.ac.uk/en/persons/jane-doe",
		"https://pure.example.ac.uk/en/other",
		"https://example.org/x",
	}, p.Links)
}

func TestParseTitleFallbacks(t *testing.T) {
	base := mustURL(t, "https://example.org/")
	tests := []struct {
		name string
		html string
		want string
	}{
		{"citation meta", `<html><head><meta name="citation_title" content="Cited"><title>T</title></head><body>x</body></html>`, "Cited"},
		{"open graph", `<html><head><meta property="og:title" content="OG"><title>T</title></head><body>x</body></html>`, "OG"},
		{"title element", `<html><head><title> Plain </title></head><body>x</body></html>`, "Plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(base, []byte(tt.html), "text/html")
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Title)
		})
	}
}

func TestParseMetadataFallbacks(t *testing.T) {
	html := `<html><head>
<meta name="citation_author" content="A. Author">
<meta name="citation_author" content="B. Author">
<meta name="description" content="A short description.">
<meta name="citation_publication_date" content="2017-05-02">
</head><body><h1>Title only</h1></body></html>`
	p, err := Parse(mustURL(t, "https://example.org/p"), []byte(html), "text/html")
	require.NoError(t, err)
	assert.Equal(t, []string{"A. Author", "B. Author"}, p.Authors)
	assert.Equal(t, "A short description.", p.Abstract)
	assert.Equal(t, 2017, p.Year)
}

func TestParseDecodesDeclaredCharset(t *testing.T) {
	// "Café" in ISO-8859-1.
	body := []byte("<html><body><h1>Caf\xe9 culture</h1></body></html>")
	p, err := Parse(mustURL(t, "https://example.org/"), body, "text/html; charset=iso-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "Café culture", p.Title)
}

func TestParseEmptyPage(t *testing.T) {
	_, err := Parse(mustURL(t, "https://example.org/"), []byte("<html><body>  </body></html>"), "text/html")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestIsHTML(t *testing.T) {
	assert.True(t, isHTML(""))
	assert.True(t, isHTML("text/html"))
	assert.True(t, isHTML("text/html; charset=UTF-8"))
	assert.True(t, isHTML("application/xhtml+xml"))
	assert.False(t, isHTML("application/pdf"))
	assert.False(t, isHTML("image/png"))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter("Mon, 01 Jan 2024 12:00:30 GMT", now))
	assert.Zero(t, parseRetryAfter("Mon, 01 Jan 2024 11:00:00 GMT", now))
}
