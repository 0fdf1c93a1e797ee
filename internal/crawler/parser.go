package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
)

var yearRE = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Parsed is what the crawler keeps from one HTML page.
type Parsed struct {
	Title    string
	Text     string
	Authors  []string
	Year     int
	Abstract string
	Links    []string
}

// Parse decodes body using the charset announced by contentType or the
// document itself and extracts text, publication metadata and outbound links.
// A page with neither a title nor any visible text is a parse error.
func Parse(base *url.URL, body []byte, contentType string) (*Parsed, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", apperrors.ErrParse, base, err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrParse, base, err)
	}

	p := &Parsed{
		Title:   extractTitle(doc),
		Authors: extractAuthors(doc),
		Links:   extractLinks(doc, base),
	}
	p.Abstract = extractAbstract(doc)

	doc.Find("script, style, noscript, template").Remove()
	var sb strings.Builder
	for _, n := range doc.Find("body").Nodes {
		visibleText(n, &sb)
	}
	p.Text = collapse(sb.String())
	p.Year = extractYear(doc, p.Text)

	if p.Title == "" && p.Text == "" {
		return nil, fmt.Errorf("%w: %s has no title or text", apperrors.ErrParse, base)
	}
	return p, nil
}

func extractTitle(doc *goquery.Document) string {
	if t := collapse(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	for _, key := range []string{"citation_title", "og:title"} {
		if t := metaContent(doc, key); t != "" {
			return t
		}
	}
	return collapse(doc.Find("title").First().Text())
}

func extractAuthors(doc *goquery.Document) []string {
	var authors []string
	seen := make(map[string]struct{})
	add := func(name string) {
		name = collapse(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		authors = append(authors, name)
	}
	doc.Find(`a[href*="/en/persons/"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})
	if len(authors) == 0 {
		doc.Find(`meta[name="citation_author"]`).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr("content")
			add(v)
		})
	}
	return authors
}

// extractAbstract looks for a heading mentioning "abstract" and takes the
// next paragraph or block after it.
func extractAbstract(doc *goquery.Document) string {
	var abstract string
	doc.Find("h2, h3, strong").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "abstract") {
			return true
		}
		next := h.NextAllFiltered("p, div").First()
		if next.Length() == 0 {
			next = h.Parent().NextAllFiltered("p, div").First()
		}
		abstract = collapse(next.Text())
		return false
	})
	if abstract != "" {
		return abstract
	}
	if v := metaContent(doc, "citation_abstract"); v != "" {
		return v
	}
	return metaContent(doc, "description")
}

func extractYear(doc *goquery.Document, text string) int {
	m := yearRE.FindString(text)
	if m == "" {
		for _, key := range []string{"citation_publication_date", "citation_date"} {
			if m = yearRE.FindString(metaContent(doc, key)); m != "" {
				break
			}
		}
	}
	year, _ := strconv.Atoi(m)
	return year
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		links = append(links, u.String())
	})
	return links
}

func metaContent(doc *goquery.Document, key string) string {
	sel := doc.Find(fmt.Sprintf(`meta[name=%q], meta[property=%q]`, key, key)).First()
	v, _ := sel.Attr("content")
	return collapse(v)
}

func visibleText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "template" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visibleText(c, sb)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
