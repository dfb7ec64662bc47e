// Package advisory defines the contract for the external model that assesses
// regimes and proposes trades, and the closed set of responses it may return.
package advisory

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUnavailable is returned when no transport is configured or the
	// transport reports itself unavailable.
	ErrUnavailable = errors.New("advisory: transport unavailable")
	// ErrMalformedResponse wraps every parse or validation failure.
	ErrMalformedResponse = errors.New("advisory: malformed response")
)

// Transport performs one advisory call.
type Transport interface {
	IsAvailable() bool
	Call(ctx context.Context, system, user string) (string, error)
	Usage() Usage
}

// Usage is the day's accounting for a transport.
type Usage struct {
	Day              string  `json:"day"`
	Calls            int     `json:"calls"`
	Failures         int     `json:"failures"`
	Retries          int     `json:"retries"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Pricing converts tokens into an estimated cost.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Meter accumulates Usage and starts over at each UTC day.
type Meter struct {
	pricing Pricing
	clock   func() time.Time

	mu    sync.Mutex
	usage Usage
}

// NewMeter returns a Meter. A nil clock uses time.Now.
func NewMeter(pricing Pricing, clock func() time.Time) *Meter {
	if clock == nil {
		clock = time.Now
	}
	return &Meter{pricing: pricing, clock: clock}
}

// Record adds one call.
func (m *Meter) Record(promptTokens, completionTokens int, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	m.usage.Calls++
	if failed {
		m.usage.Failures++
	}
	m.usage.PromptTokens += promptTokens
	m.usage.CompletionTokens += completionTokens
	m.usage.EstimatedCostUSD += float64(promptTokens)/1000*m.pricing.PromptPer1K +
		float64(completionTokens)/1000*m.pricing.CompletionPer1K
}

// RecordRetry counts a transport retry within one call.
func (m *Meter) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	m.usage.Retries++
}

// Snapshot returns today's usage.
func (m *Meter) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	return m.usage
}

func (m *Meter) rollLocked() {
	day := m.clock().UTC().Format("2006-01-02")
	if m.usage.Day != day {
		m.usage = Usage{Day: day}
	}
}

// Noop never answers. It stands in when no model is configured.
type Noop struct{}

func (Noop) IsAvailable() bool { return false }

func (Noop) Call(context.Context, string, string) (string, error) { return "", ErrUnavailable }

func (Noop) Usage() Usage { return Usage{} }
