// Package events forwards decision records to a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/regime"
)

// Config selects brokers and topic. No brokers disables publishing.
type Config struct {
	Brokers      []string `json:",optional"`
	Topic        string   `json:",default=perpcore.decisions"`
	Compression  string   `json:",default=gzip,options=gzip|snappy|lz4|zstd"`
	MaxAttempts  int      `json:",default=3"`
	WriteTimeout string   `json:",default=10s"`
	BatchTimeout string   `json:",default=1s"`
	Async        bool     `json:",optional"`
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements regime.DecisionPublisher.
type Publisher struct {
	writer  messageWriter
	topic   string
	onWrite func(error)
	clock   func() time.Time
}

var _ regime.DecisionPublisher = (*Publisher)(nil)

// Option customises a Publisher.
type Option func(*Publisher)

// WithWriteHook observes every publish result, typically for metrics.
func WithWriteHook(fn func(error)) Option { return func(p *Publisher) { p.onWrite = fn } }

func withWriter(w messageWriter) Option { return func(p *Publisher) { p.writer = w } }

// NewPublisher builds a kafka writer for cfg.
func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("events: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("events: topic is required")
	}
	writeTimeout, err := parseDuration("writeTimeout", cfg.WriteTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	batchTimeout, err := parseDuration("batchTimeout", cfg.BatchTimeout, time.Second)
	if err != nil {
		return nil, err
	}
	p := &Publisher{topic: cfg.Topic, clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  parseCompression(cfg.Compression),
			MaxAttempts:  max(cfg.MaxAttempts, 1),
			WriteTimeout: writeTimeout,
			BatchTimeout: batchTimeout,
			Async:        cfg.Async,
		}
	}
	return p, nil
}

// PublishDecision writes rec keyed by cycle and symbol so one symbol's
// records stay ordered within a partition.
func (p *Publisher) PublishDecision(ctx context.Context, rec regime.DecisionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("events: marshal decision %s: %w", rec.ID, err)
	}
	key := rec.Cycle
	if rec.Symbol != "" {
		key += "/" + rec.Symbol
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  p.clock(),
		Headers: []kafka.Header{
			{Key: "decision_id", Value: []byte(rec.ID)},
		},
	})
	if p.onWrite != nil {
		p.onWrite(err)
	}
	if err != nil {
		logx.WithContext(ctx).Errorf("events: publish decision %s to %s: %v", rec.ID, p.topic, err)
		return fmt.Errorf("events: publish decision %s: %w", rec.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("events: invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}
