// Package ranker scores documents against a normalized query with Okapi
// BM25 and selects the best matches.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Params carries the tunable constants and the corpus statistics of the
// snapshot being searched.
type Params struct {
	K1           float64
	B            float64
	DocCount     int
	AvgDocLength float64
}

// DefaultParams returns the standard constants for the given corpus.
func DefaultParams(docCount int, avgDocLength float64) Params {
	return Params{K1: DefaultK1, B: DefaultB, DocCount: docCount, AvgDocLength: avgDocLength}
}

// TermInput is one distinct query term. QueryFreq is how many times it
// appeared in the query; each occurrence contributes once.
type TermInput struct {
	Term      string
	QueryFreq int
	Postings  index.PostingList
}

// Rank sums BM25 contributions per document and returns matches ordered by
// descending score, ties broken by ascending DocID. Documents that match no
// query term never appear. A limit <= 0 returns every match.
func Rank(terms []TermInput, params Params, docLength func(docID string) int, limit int) []ScoredDoc {
	return Select(Score(terms, params, docLength), limit)
}

// Score accumulates the BM25 score of every document containing at least one
// query term. Terms are visited in lexical order so repeated runs sum in the
// same order and produce identical floats.
func Score(terms []TermInput, params Params, docLength func(docID string) int) map[string]float64 {
	scores := make(map[string]float64)
	if params.AvgDocLength <= 0 || params.DocCount <= 0 {
		return scores
	}
	ordered := make([]TermInput, len(terms))
	copy(ordered, terms)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Term < ordered[j].Term })

	for _, t := range ordered {
		if len(t.Postings) == 0 || t.QueryFreq <= 0 {
			continue
		}
		idf := IDF(params.DocCount, len(t.Postings))
		for _, p := range t.Postings {
			tf := termWeight(float64(p.Frequency), float64(docLength(p.DocID)), params)
			scores[p.DocID] += float64(t.QueryFreq) * idf * tf
		}
	}
	return scores
}

// Select orders scores and keeps at most limit of them.
func Select(scores map[string]float64, limit int) []ScoredDoc {
	if limit > 0 && limit < len(scores) {
		return TopK(scores, limit)
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{DocID: docID, Score: score})
	}
	sort.Slice(result, func(i, j int) bool { return ranksBefore(result[i], result[j]) })
	return result
}

// IDF is the BM25 inverse document frequency. It stays positive even for
// terms present in every document.
func IDF(docCount, docFreq int) float64 {
	n := float64(docCount)
	df := float64(docFreq)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

func termWeight(termFreq, docLength float64, params Params) float64 {
	norm := 1 - params.B + params.B*docLength/params.AvgDocLength
	return termFreq * (params.K1 + 1) / (termFreq + params.K1*norm)
}

func ranksBefore(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}
