package index

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Snapshot is an immutable inverted index with its corpus statistics. Any
// number of goroutines may read it concurrently; a rebuild produces a new
// Snapshot rather than mutating this one.
type Snapshot struct {
	terms      map[string]PostingList
	docs       map[string]DocMeta
	docCount   int
	avgDocLen  float64
	stemming   bool
	generation uint64
	builtAt    time.Time
}

// SnapshotData is the exported form used when decoding a persisted index.
type SnapshotData struct {
	Terms            map[string]PostingList
	Docs             map[string]DocMeta
	DocumentCount    int
	AverageDocLength float64
	Stemming         bool
	Generation       uint64
	BuiltAt          time.Time
}

// NewSnapshot validates data and wraps it. The maps are adopted, not copied.
func NewSnapshot(data SnapshotData) (*Snapshot, error) {
	if data.DocumentCount != len(data.Docs) {
		return nil, fmt.Errorf("document_count %d does not match %d documents", data.DocumentCount, len(data.Docs))
	}
	if data.AverageDocLength < 0 {
		return nil, errors.New("negative average_document_length")
	}
	for term, list := range data.Terms {
		for i, p := range list {
			if p.Frequency < 1 {
				return nil, fmt.Errorf("term %q: posting for %s has frequency %d", term, p.DocID, p.Frequency)
			}
			if i > 0 && list[i-1].DocID >= p.DocID {
				return nil, fmt.Errorf("term %q: postings not strictly ordered at %s", term, p.DocID)
			}
			if _, ok := data.Docs[p.DocID]; !ok {
				return nil, fmt.Errorf("term %q: posting references unknown document %s", term, p.DocID)
			}
		}
	}
	if data.Terms == nil {
		data.Terms = map[string]PostingList{}
	}
	if data.Docs == nil {
		data.Docs = map[string]DocMeta{}
	}
	return &Snapshot{
		terms:      data.Terms,
		docs:       data.Docs,
		docCount:   data.DocumentCount,
		avgDocLen:  data.AverageDocLength,
		stemming:   data.Stemming,
		generation: data.Generation,
		builtAt:    data.BuiltAt,
	}, nil
}

// Postings returns the posting list for term, or nil. Callers must not
// modify the returned slice.
func (s *Snapshot) Postings(term string) PostingList {
	return s.terms[term]
}

// DocFreq is the number of documents containing term.
func (s *Snapshot) DocFreq(term string) int {
	return len(s.terms[term])
}

// Doc returns the metadata of docID.
func (s *Snapshot) Doc(docID string) (DocMeta, bool) {
	d, ok := s.docs[docID]
	return d, ok
}

// DocLength returns the term count of docID, or 0 if unknown.
func (s *Snapshot) DocLength(docID string) int {
	return s.docs[docID].Length
}

func (s *Snapshot) DocumentCount() int { return s.docCount }
func (s *Snapshot) AverageDocLength() float64 { return s.avgDocLen }
func (s *Snapshot) TermCount() int { return len(s.terms) }
func (s *Snapshot) Stemming() bool { return s.stemming }
func (s *Snapshot) Generation() uint64 { return s.generation }
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }
func (s *Snapshot) Docs() map[string]DocMeta { return s.docs }
func (s *Snapshot) Terms() map[string]PostingList { return s.terms }

// Entries returns all terms with their postings in term order.
func (s *Snapshot) Entries() []TermEntry {
	entries := make([]TermEntry, 0, len(s.terms))
	for term, list := range s.terms {
		entries = append(entries, TermEntry{Term: term, Postings: list})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Stats summarizes the snapshot for status endpoints.
type Stats struct {
	Generation       uint64    `json:"generation"`
	DocumentCount    int       `json:"document_count"`
	TermCount        int       `json:"term_count"`
	AverageDocLength float64   `json:"average_document_length"`
	Stemming         bool      `json:"stemming"`
	BuiltAt          time.Time `json:"built_at"`
}

func (s *Snapshot) Stats() Stats {
	return Stats{
		Generation:       s.generation,
		DocumentCount:    s.docCount,
		TermCount:        len(s.terms),
		AverageDocLength: s.avgDocLen,
		Stemming:         s.stemming,
		BuiltAt:          s.builtAt,
	}
}
