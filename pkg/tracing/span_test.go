package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTreeRecord(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "pipeline.run", "")
	require.NotEmpty(t, root.TraceID())

	_, crawl := StartChildSpan(ctx, "pipeline.crawl")
	crawl.SetAttr("documents", 3)
	crawl.End()
	_, build := StartChildSpan(ctx, "pipeline.index")
	build.EndWithError(errors.New("disk full"))
	build.EndWithError(errors.New("ignored"))
	root.End()

	rec := root.Record()
	assert.Equal(t, "pipeline.run", rec.Name)
	assert.Equal(t, root.TraceID(), rec.TraceID)
	require.Len(t, rec.Children, 2)
	assert.Equal(t, "pipeline.crawl", rec.Children[0].Name)
	assert.Equal(t, 3, rec.Children[0].Attrs["documents"])
	assert.Empty(t, rec.Children[0].TraceID)
	assert.Equal(t, "disk full", rec.Children[1].Error)
	assert.GreaterOrEqual(t, rec.Duration, rec.Children[1].Duration)
	assert.Same(t, root, FromContext(ctx))

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "disk full", back.Children[1].Error)
}

func TestChildWithoutParent(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID())
	assert.Nil(t, FromContext(context.Background()))
}

func TestLogWritesEverySpan(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	ctx, root := StartSpan(context.Background(), "root", "trace-1")
	_, child := StartChildSpan(ctx, "child")
	child.End()
	root.End()
	root.Log(l)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "span finished"))
	assert.Contains(t, out, "trace_id=trace-1")
	assert.Contains(t, out, "span=child")
}
