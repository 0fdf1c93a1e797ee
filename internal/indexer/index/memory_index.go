package index

import (
	"sort"
	"time"
)

// MemoryIndex accumulates postings for one batch build. It has a single
// writer and is discarded once frozen into a Snapshot.
type MemoryIndex struct {
	index       map[string]map[string]int
	docs        map[string]DocMeta
	docTerms    map[string][]string
	totalTokens int64
	avgDocLen   float64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:    make(map[string]map[string]int),
		docs:     make(map[string]DocMeta),
		docTerms: make(map[string][]string),
	}
}

// AddDocument indexes the term sequence of docID. If docID was already added,
// its previous postings are removed first, so the latest version wins.
// It reports whether an earlier version was replaced.
func (m *MemoryIndex) AddDocument(docID string, meta DocMeta, terms []string) bool {
	replaced := m.remove(docID)

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	distinct := make([]string, 0, len(tf))
	for term, freq := range tf {
		docs, exists := m.index[term]
		if !exists {
			docs = make(map[string]int)
			m.index[term] = docs
		}
		docs[docID] = freq
		distinct = append(distinct, term)
	}

	meta.Length = len(terms)
	m.docs[docID] = meta
	m.docTerms[docID] = distinct
	m.totalTokens += int64(len(terms))
	// Running mean over distinct documents.
	m.avgDocLen = float64(m.totalTokens) / float64(len(m.docs))
	return replaced
}

func (m *MemoryIndex) remove(docID string) bool {
	prev, ok := m.docs[docID]
	if !ok {
		return false
	}
	for _, term := range m.docTerms[docID] {
		docs := m.index[term]
		delete(docs, docID)
		if len(docs) == 0 {
			delete(m.index, term)
		}
	}
	delete(m.docTerms, docID)
	delete(m.docs, docID)
	m.totalTokens -= int64(prev.Length)
	if len(m.docs) == 0 {
		m.avgDocLen = 0
	} else {
		m.avgDocLen = float64(m.totalTokens) / float64(len(m.docs))
	}
	return true
}

// Search returns the postings for term ordered by DocID.
func (m *MemoryIndex) Search(term string) PostingList {
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	return sortedPostings(docs)
}

// DocCount is the number of distinct documents added.
func (m *MemoryIndex) DocCount() int {
	return len(m.docs)
}

// TermCount is the vocabulary size.
func (m *MemoryIndex) TermCount() int {
	return len(m.index)
}

// AvgDocLength is the running mean document length.
func (m *MemoryIndex) AvgDocLength() float64 {
	return m.avgDocLen
}

// Freeze converts the accumulated postings into an immutable Snapshot. The
// MemoryIndex must not be used afterwards.
func (m *MemoryIndex) Freeze(stemming bool, generation uint64, builtAt time.Time) *Snapshot {
	terms := make(map[string]PostingList, len(m.index))
	for term, docs := range m.index {
		terms[term] = sortedPostings(docs)
	}
	snap := &Snapshot{
		terms:      terms,
		docs:       m.docs,
		docCount:   len(m.docs),
		avgDocLen:  m.avgDocLen,
		stemming:   stemming,
		generation: generation,
		builtAt:    builtAt,
	}
	m.index = nil
	m.docs = nil
	m.docTerms = nil
	return snap
}

func sortedPostings(docs map[string]int) PostingList {
	list := make(PostingList, 0, len(docs))
	for docID, freq := range docs {
		list = append(list, Posting{DocID: docID, Frequency: freq})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].DocID < list[j].DocID
	})
	return list
}
