// Package index holds the inverted index data structures: postings, the
// mutable MemoryIndex used during a batch build, and the immutable Snapshot
// served to searchers.
package index

// Posting records how often a term occurs in one document.
type Posting struct {
	DocID     string `json:"doc_id"`
	Frequency int    `json:"tf"`
}

// PostingList is ordered by DocID with no duplicate DocIDs.
type PostingList []Posting

// TermEntry pairs a term with its postings.
type TermEntry struct {
	Term     string
	Postings PostingList
}

// DocMeta is the per-document data kept alongside the postings.
type DocMeta struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Length  int      `json:"length"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
}
