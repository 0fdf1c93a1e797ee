package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRobotsSelectsGroup(t *testing.T) {
	const txt = `
# comment
User-agent: otherbot
Disallow: /

User-agent: test-bot
User-agent: friend
Disallow: /private
Allow: /private/open
Crawl-delay: 2.5

User-agent: *
Disallow: /tmp
`
	rules, err := parseRobots(strings.NewReader(txt), "test-bot/1.0 (+https://example.org)")
	require.NoError(t, err)
	assert.False(t, rules.Allowed("/private/x"))
	assert.True(t, rules.Allowed("/private/open/x"))
	assert.True(t, rules.Allowed("/tmp/file"))
	assert.Equal(t, 2500*time.Millisecond, rules.crawlDelay)

	wild, err := parseRobots(strings.NewReader(txt), "unknown-crawler")
	require.NoError(t, err)
	assert.False(t, wild.Allowed("/tmp/file"))
	assert.True(t, wild.Allowed("/private/x"))
	assert.Zero(t, wild.crawlDelay)
}

func TestParseRobotsEmptyDisallowAllowsAll(t *testing.T) {
	rules, err := parseRobots(strings.NewReader("User-agent: *\nDisallow:\n"), "bot")
	require.NoError(t, err)
	assert.True(t, rules.Allowed("/anything"))
	assert.True(t, rules.Allowed(""))

	rules, err = parseRobots(strings.NewReader(""), "bot")
	require.NoError(t, err)
	assert.True(t, rules.Allowed("/anything"))
}

func TestRobotsPathMatching(t *testing.T) {
	const txt = `User-agent: *
Disallow: /private
Disallow: /*.pdf$
Disallow: /a*/c
`
	rules, err := parseRobots(strings.NewReader(txt), "bot")
	require.NoError(t, err)
	tests := []struct {
		path string
		want bool
	}{
		{"/private", false},
		{"/private/page", false},
		{"/public", true},
		{"/files/report.pdf", false},
		{"/files/report.pdf.html", true},
		{"/ab/b/c", false},
		{"/ab/b/d", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.Allowed(tt.path), tt.path)
	}
}

func TestRobotsLongestMatchWins(t *testing.T) {
	rules, err := parseRobots(strings.NewReader("User-agent: *\nDisallow: /p\nAllow: /page\n"), "bot")
	require.NoError(t, err)
	assert.True(t, rules.Allowed("/page/1"))
	assert.False(t, rules.Allowed("/pub"))
}

func TestNilRulesAllowAll(t *testing.T) {
	var rules *robotsRules
	assert.True(t, rules.Allowed("/x"))
	assert.True(t, allowAll.Allowed("/x"))
}

func TestFetchRobotsFailuresAllowAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := mustURL(t, srv.URL+"/page")
	rules, err := fetchRobots(context.Background(), srv.Client(), u, "bot")
	require.NoError(t, err)
	assert.True(t, rules.Allowed("/anything"))

	srv.Close()
	rules, err = fetchRobots(context.Background(), srv.Client(), u, "bot")
	assert.Error(t, err)
	assert.True(t, rules.Allowed("/anything"))
}

func TestFrontierDedupesNormalizedURLs(t *testing.T) {
	f := NewFrontier()
	assert.True(t, f.Push("https://Example.org/a/", 0))
	assert.False(t, f.Push("https://example.org/a#x", 1))
	assert.False(t, f.Push("https://example.org:443/a", 1))
	assert.True(t, f.Push("https://example.org/b?z=1&a=2", 1))
	assert.False(t, f.Push("https://example.org/b?a=2&z=1", 2))
	assert.False(t, f.Push("ftp://example.org/c", 1))

	assert.True(t, f.MarkVisited("https://example.org/redirected"))
	assert.False(t, f.MarkVisited("https://example.org/redirected/"))
	assert.False(t, f.MarkVisited("https://example.org/a"))
	assert.True(t, f.Visited("https://example.org/redirected/"))
	assert.False(t, f.Push("https://example.org/redirected", 1))

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 3, f.VisitedCount())

	e, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, Entry{URL: "https://example.org/a", Depth: 0}, e)
	e, ok = f.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, e.Depth)
	_, ok = f.Pop()
	assert.False(t, ok)
}
