// Package notify delivers operator alerts. Delivery is best effort: a sink
// logs its own failures and never returns them.
package notify

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
)

// Sink sends one alert.
type Sink interface {
	SendAlert(ctx context.Context, text string)
}

// Noop drops every alert.
type Noop struct{}

func (Noop) SendAlert(context.Context, string) {}

// Log writes alerts through logx at error level.
type Log struct {
	Prefix string
}

func (l Log) SendAlert(ctx context.Context, text string) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "alert"
	}
	logx.WithContext(ctx).Errorf("%s: %s", prefix, strings.TrimSpace(text))
}

// Multi fans an alert out to every sink in order.
type Multi []Sink

func (m Multi) SendAlert(ctx context.Context, text string) {
	for _, s := range m {
		if s != nil {
			s.SendAlert(ctx, text)
		}
	}
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps alerts in memory. It is meant for tests.
type Recorder struct {
	ch chan string
}

// NewRecorder buffers up to size alerts.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 16
	}
	return &Recorder{ch: make(chan string, size)}
}

func (r *Recorder) SendAlert(_ context.Context, text string) {
	select {
	case r.ch <- text:
	default:
	}
}

// Drain returns the alerts received so far.
func (r *Recorder) Drain() []string {
	var out []string
	for {
		select {
		case s := <-r.ch:
			out = append(out, s)
		default:
			return out
		}
	}
}
