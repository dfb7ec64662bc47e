package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/regime"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func testConfig() Config {
	return Config{Brokers: []string{"localhost:9092"}, Topic: "decisions", WriteTimeout: "5s"}
}

func TestPublishDecisionKeysBySymbol(t *testing.T) {
	w := &captureWriter{}
	var results []error
	p, err := NewPublisher(testConfig(), withWriter(w), WithWriteHook(func(err error) { results = append(results, err) }))
	require.NoError(t, err)
	at := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	p.clock = func() time.Time { return at }

	rec := regime.DecisionRecord{ID: "d-1", Cycle: regime.CycleUrgent, Symbol: "ETH", At: at, TradeResulted: true}
	require.NoError(t, p.PublishDecision(context.Background(), rec))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "urgent/ETH", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "d-1", string(msg.Headers[0].Value))

	var got regime.DecisionRecord
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.TradeResulted)
	assert.Equal(t, []error{nil}, results)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishDecisionError(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	var hooked error
	p, err := NewPublisher(testConfig(), withWriter(w), WithWriteHook(func(err error) { hooked = err }))
	require.NoError(t, err)

	err = p.PublishDecision(context.Background(), regime.DecisionRecord{ID: "d-2", Cycle: regime.CycleComprehensive})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
	assert.Error(t, hooked)
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "x"})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Topic = ""
	_, err = NewPublisher(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.WriteTimeout = "soon"
	_, err = NewPublisher(cfg)
	assert.Error(t, err)

	p, err := NewPublisher(testConfig())
	require.NoError(t, err)
	assert.IsType(t, &kafka.Writer{}, p.writer)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression(""))
}
