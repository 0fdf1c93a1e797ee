package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
)

// FetchError describes a failed page fetch. It matches ErrTransientFetch or
// ErrPermanentFetch with errors.Is, and exposes any Retry-After the server
// sent.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       error
	Cause      error
	retryAfter time.Duration
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	b.WriteString(" fetching ")
	b.WriteString(e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// RetryAfter is the minimum wait the server asked for, or zero.
func (e *FetchError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Page is a successfully downloaded HTML document.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

type fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	now       func() time.Time
}

// fetch performs a single GET and classifies the outcome. Timeouts,
// connection errors, 5xx and 429 are transient; other 4xx, non-HTML content
// and oversized bodies are permanent.
func (f *fetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: apperrors.ErrPermanentFetch, Cause: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &FetchError{URL: rawURL, Kind: apperrors.ErrTransientFetch, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Kind:       apperrors.ErrTransientFetch,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), f.now()),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Kind: apperrors.ErrPermanentFetch}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Kind:       apperrors.ErrPermanentFetch,
			Cause:      fmt.Errorf("unsupported content type %q", contentType),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Kind: apperrors.ErrTransientFetch, Cause: err}
	}
	if int64(len(body)) > f.maxBody {
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Kind:       apperrors.ErrPermanentFetch,
			Cause:      fmt.Errorf("body exceeds %d bytes", f.maxBody),
		}
	}

	return &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// isHTML accepts a missing content type; servers that omit it almost always
// serve HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
