package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

const maxRobotsBytes = 512 << 10

// robotsRules is the group of a robots.txt file that applies to us. A nil
// group allows everything.
type robotsRules struct {
	group      *robotstxt.Group
	crawlDelay time.Duration
}

var allowAll = &robotsRules{}

// Allowed reports whether path may be fetched. The most specific matching
// rule decides.
func (r *robotsRules) Allowed(path string) bool {
	if r == nil || r.group == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return r.group.Test(path)
}

// parseRobots extracts the group for userAgent, falling back to the "*"
// group when no group names our agent.
func parseRobots(r io.Reader, userAgent string) (*robotsRules, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxRobotsBytes))
	if err != nil {
		return allowAll, fmt.Errorf("reading robots.txt: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return allowAll, fmt.Errorf("parsing robots.txt: %w", err)
	}
	g := data.FindGroup(strings.ToLower(userAgent))
	return &robotsRules{group: g, crawlDelay: g.CrawlDelay}, nil
}

// fetchRobots downloads and parses robots.txt for the origin of u. Any
// failure, including a 4xx or 5xx, yields allow-all.
func fetchRobots(ctx context.Context, client *http.Client, u *url.URL, userAgent string) (*robotsRules, error) {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return allowAll, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return allowAll, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return allowAll, nil
	}
	return parseRobots(resp.Body, userAgent)
}
