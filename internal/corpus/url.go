package corpus

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/cespare/xxhash/v2"
)

// NormalizeURL returns the canonical form used for the visited set and for
// document identity: scheme and host lower-cased, default port dropped,
// trailing slash removed (except for the root path), query parameters sorted,
// fragment dropped. Only absolute http(s) URLs are accepted.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: parsing url %q: %v", apperrors.ErrInvalidInput, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme in %q", apperrors.ErrInvalidInput, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", apperrors.ErrInvalidInput, raw)
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	u.Path = strings.TrimRight(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sort.Strings(q[k])
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false
	return u.String(), nil
}

// Host returns the lower-cased host (with port, if any) of an absolute URL.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// DocID is a 16-hex-digit xxhash64 of the normalized URL.
func DocID(normalizedURL string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalizedURL))
}
