package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
)

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestEncodeSetsHeaders(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-ctx")
	msgs, err := encode(ctx, []Event{
		{Key: "generation-4", Type: "index.built", Value: map[string]int{"generation": 4}},
		{Key: "q", Type: "search.performed", RequestID: "req-own", Value: "x"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "generation-4", string(msgs[0].Key))
	assert.JSONEq(t, `{"generation":4}`, string(msgs[0].Value))
	assert.Equal(t, "index.built", header(msgs[0], HeaderEventType))
	assert.Equal(t, "req-ctx", header(msgs[0], HeaderRequestID))
	assert.Equal(t, "application/json", header(msgs[0], HeaderContentType))
	assert.Equal(t, "req-own", header(msgs[1], HeaderRequestID))
}

func TestEncodeRejectsUnencodableValue(t *testing.T) {
	_, err := encode(context.Background(), []Event{{Type: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestDecodeReadsHeaders(t *testing.T) {
	msg := decode(kafka.Message{
		Key:   []byte("k"),
		Value: []byte(`{}`),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte("index.built")},
			{Key: HeaderRequestID, Value: []byte("r-1")},
		},
	})
	assert.Equal(t, "index.built", msg.Type)
	assert.Equal(t, "r-1", msg.RequestID)
	assert.Equal(t, []byte("k"), msg.Key)
}

func TestJSONHandlerFiltersByType(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}
	var seen []int
	h := JSONHandler("wanted", func(_ context.Context, p payload) error {
		seen = append(seen, p.N)
		return nil
	})
	ctx := context.Background()
	require.NoError(t, h(ctx, Message{Type: "wanted", Value: []byte(`{"n":1}`)}))
	require.NoError(t, h(ctx, Message{Type: "other", Value: []byte(`{"n":2}`)}))
	require.NoError(t, h(ctx, Message{Value: []byte(`{"n":3}`)}))
	assert.Error(t, h(ctx, Message{Type: "wanted", Value: []byte(`not json`)}))
	assert.Equal(t, []int{1, 3}, seen)
}
