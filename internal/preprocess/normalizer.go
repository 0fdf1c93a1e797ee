// Package preprocess turns raw text into the term sequence shared by the
// indexer and the search engine. It lower-cases input, splits on
// non-alphanumeric boundaries, removes stop-words, and optionally applies the
// Snowball English stemmer.
//
// A Normalizer is immutable once constructed; the indexer persists its
// Stemming flag so the search side can refuse an index built with a
// different setting.
package preprocess

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/research-search/pkg/errors"
	"github.com/kljensen/snowball/english"
)

const minTokenLen = 2

// Options configures a Normalizer.
type Options struct {
	Stemming bool
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	stemming bool
}

func New(opts Options) *Normalizer {
	return &Normalizer{stemming: opts.Stemming}
}

// Stemming reports whether terms are reduced to their stems.
func (n *Normalizer) Stemming() bool {
	return n.stemming
}

// Normalize returns the ordered term sequence for text. Empty input yields an
// empty, non-nil slice.
func (n *Normalizer) Normalize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) < minTokenLen {
			continue
		}
		if IsStopWord(word) {
			continue
		}
		if n.stemming {
			word = english.Stem(word, false)
			if word == "" {
				continue
			}
		}
		terms = append(terms, word)
	}
	return terms
}

// NormalizeStrict is Normalize for document ingestion: text that is not valid
// UTF-8 is rejected with ErrPreprocess instead of being silently mangled.
func (n *Normalizer) NormalizeStrict(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid utf-8 at byte %d", apperrors.ErrPreprocess, invalidOffset(text))
	}
	return n.Normalize(text), nil
}

// TermFrequencies counts occurrences of each term.
func TermFrequencies(terms []string) map[string]int {
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	return tf
}

func invalidOffset(s string) int {
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				return i
			}
		}
	}
	return -1
}
