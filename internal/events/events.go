// Package events defines the messages exchanged between the pipeline and the
// search service and the machinery that moves them: a buffered collector that
// batches search events onto Kafka, an in-process aggregator of query stats,
// and helpers for the index-built notification.
package events

import "time"

// Event types carried in the Kafka event-type header.
const (
	TypeIndexBuilt      = "index.built"
	TypeSearchPerformed = "search.performed"
)

// IndexBuilt announces that a new index file has been persisted.
type IndexBuilt struct {
	Generation    uint64    `json:"generation"`
	DocumentCount int       `json:"document_count"`
	TermCount     int       `json:"term_count"`
	BuiltAt       time.Time `json:"built_at"`
	RunID         string    `json:"run_id,omitempty"`
	IndexPath     string    `json:"index_path,omitempty"`
}

// SearchPerformed records one answered query.
type SearchPerformed struct {
	Query        string    `json:"query"`
	Terms        []string  `json:"terms"`
	TotalMatches int       `json:"total_matches"`
	Returned     int       `json:"returned"`
	Page         int       `json:"page"`
	LatencyMs    int64     `json:"latency_ms"`
	CacheHit     bool      `json:"cache_hit"`
	Generation   uint64    `json:"generation"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
}
