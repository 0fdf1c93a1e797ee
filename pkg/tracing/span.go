// Package tracing times the stages of a pipeline run. Spans nest through the
// context; a finished root can be logged or exported as a Record tree and
// stored with the run history.
package tracing

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	end      time.Time
	err      string
	attrs    map[string]any
	children []*Span
}

// Record is the exported form of a finished span.
type Record struct {
	Name     string         `json:"name"`
	TraceID  string         `json:"trace_id,omitempty"`
	Start    time.Time      `json:"start"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Children []Record       `json:"children,omitempty"`
}

// StartSpan opens a root span. An empty traceID gets a fresh UUID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a span under the one in ctx, or a detached span when
// ctx has none.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	var traceID string
	if parent != nil {
		traceID = parent.traceID
	}
	s := newSpan(name, traceID)
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func newSpan(name, traceID string) *Span {
	return &Span{name: name, traceID: traceID, start: time.Now(), attrs: make(map[string]any)}
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) TraceID() string { return s.traceID }

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// End closes the span. Only the first call takes effect.
func (s *Span) End() {
	s.EndWithError(nil)
}

func (s *Span) EndWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.end.IsZero() {
		return
	}
	s.end = time.Now()
	if err != nil {
		s.err = err.Error()
	}
}

// Record exports the span tree. Spans still open report their duration so
// far.
func (s *Span) Record() Record {
	s.mu.Lock()
	end := s.end
	if end.IsZero() {
		end = time.Now()
	}
	r := Record{
		Name:     s.name,
		TraceID:  s.traceID,
		Start:    s.start,
		Duration: end.Sub(s.start),
		Error:    s.err,
	}
	if len(s.attrs) > 0 {
		r.Attrs = maps.Clone(s.attrs)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	for _, c := range children {
		rec := c.Record()
		rec.TraceID = ""
		r.Children = append(r.Children, rec)
	}
	return r
}

// Log writes one line per span, children indented by depth.
func (s *Span) Log(l *slog.Logger) {
	logRecord(l.With("trace_id", s.traceID), s.Record(), 0)
}

func logRecord(l *slog.Logger, r Record, depth int) {
	args := []any{"span", r.Name, "depth", depth, "duration_ms", r.Duration.Milliseconds()}
	if r.Error != "" {
		args = append(args, "error", r.Error)
	}
	for k, v := range r.Attrs {
		args = append(args, k, v)
	}
	l.Info("span finished", args...)
	for _, c := range r.Children {
		logRecord(l, c, depth+1)
	}
}
