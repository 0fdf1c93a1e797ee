// Package corpus defines the crawled Document record, URL normalization and
// document identity, and the append-only JSON Lines log that carries crawl
// output to the indexer.
package corpus

import (
	"strconv"
	"strings"
	"time"
)

// Document is one fetched, parsed page. It is immutable once written to the
// log; a later crawl of the same normalized URL produces a record with the
// same ID that replaces this one at build time.
type Document struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	RawText   string    `json:"raw_text"`
	Authors   []string  `json:"authors,omitempty"`
	Year      int       `json:"year,omitempty"`
	Abstract  string    `json:"abstract,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// New builds a Document for rawURL, deriving its ID from the normalized URL.
// The URL itself is stored in normalized form.
func New(rawURL, title, text string) (Document, error) {
	norm, err := NormalizeURL(rawURL)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        DocID(norm),
		URL:       norm,
		Title:     title,
		RawText:   text,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// IndexText is the text fed to the preprocessor: title, abstract, authors,
// and year first, then the page body.
func (d Document) IndexText() string {
	var b strings.Builder
	b.Grow(len(d.Title) + len(d.Abstract) + len(d.RawText) + 64)
	write := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}
	write(d.Title)
	write(d.Abstract)
	write(strings.Join(d.Authors, ", "))
	if d.Year > 0 {
		write(strconv.Itoa(d.Year))
	}
	write(d.RawText)
	return b.String()
}

// Dedupe keeps the last record for each ID, in order of first appearance.
func Dedupe(docs []Document) []Document {
	pos := make(map[string]int, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}
