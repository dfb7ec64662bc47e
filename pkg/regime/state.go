package regime

import (
	"sync/atomic"
	"time"

	"perpcore/pkg/market"
	"perpcore/pkg/scorer"
)

// CycleCounters tracks one cadence.
type CycleCounters struct {
	Total   int       `json:"total"`
	Today   int       `json:"today"`
	Day     string    `json:"day"`
	LastRun time.Time `json:"last_run"`
}

// MarketState is the shared view of the market. A published value is never
// modified; writers build a new one and swap it in.
type MarketState struct {
	Regime        Regime                         `json:"regime"`
	Direction     Direction                      `json:"direction"`
	RiskLevel     int                            `json:"risk_level"`
	Confidence    float64                        `json:"confidence"`
	Reasoning     string                         `json:"reasoning"`
	Directives    map[string]Directive           `json:"directives"`
	Snapshots     map[string]market.Snapshot     `json:"snapshots"`
	Scores        map[string]scorer.TriggerScore `json:"scores"`
	Comprehensive CycleCounters                  `json:"comprehensive"`
	Urgent        CycleCounters                  `json:"urgent"`
	AssessedAt    time.Time                      `json:"assessed_at"`
	UpdatedAt     time.Time                      `json:"updated_at"`
}

// InitialState is published before the first assessment.
func InitialState() *MarketState {
	return &MarketState{
		Regime:     RegimeUnknown,
		Direction:  DirectionNeutral,
		RiskLevel:  3,
		Directives: map[string]Directive{},
		Snapshots:  map[string]market.Snapshot{},
		Scores:     map[string]scorer.TriggerScore{},
	}
}

// Directive returns the directive for strategy. Strategies without one are
// active with no bias or cap.
func (s *MarketState) Directive(strategy string) Directive {
	if d, ok := s.Directives[strategy]; ok {
		return d
	}
	return Directive{Active: true, Bias: BiasNeutral}
}

// Assessed reports whether any assessment has been applied.
func (s *MarketState) Assessed() bool { return !s.AssessedAt.IsZero() }

// Snapshot returns the cached snapshot for symbol.
func (s *MarketState) Snapshot(symbol string) (market.Snapshot, bool) {
	snap, ok := s.Snapshots[symbol]
	return snap, ok
}

func (s *MarketState) clone() *MarketState {
	out := *s
	out.Directives = make(map[string]Directive, len(s.Directives))
	for k, v := range s.Directives {
		v.FocusSymbols = append([]string(nil), v.FocusSymbols...)
		out.Directives[k] = v
	}
	out.Snapshots = make(map[string]market.Snapshot, len(s.Snapshots))
	for k, v := range s.Snapshots {
		out.Snapshots[k] = v
	}
	out.Scores = make(map[string]scorer.TriggerScore, len(s.Scores))
	for k, v := range s.Scores {
		out.Scores[k] = v
	}
	return &out
}

func (s *MarketState) apply(a Assessment) {
	s.Regime = a.Regime
	s.Direction = a.Direction
	s.RiskLevel = a.RiskLevel
	s.Confidence = a.Confidence
	s.Reasoning = a.Reasoning
	s.Directives = make(map[string]Directive, len(a.Directives))
	for k, v := range a.Directives {
		s.Directives[k] = v
	}
	s.AssessedAt = a.At
}

// Holder publishes MarketState by pointer replacement.
type Holder struct {
	v atomic.Pointer[MarketState]
}

// NewHolder starts from InitialState.
func NewHolder() *Holder {
	h := &Holder{}
	h.v.Store(InitialState())
	return h
}

// Load returns the current state. Callers must treat it as read-only.
func (h *Holder) Load() *MarketState { return h.v.Load() }

// Publish replaces the state wholesale.
func (h *Holder) Publish(s *MarketState) {
	if s != nil {
		h.v.Store(s)
	}
}

func (c *CycleCounters) roll(day string) {
	if c.Day != day {
		c.Day = day
		c.Today = 0
	}
}

func (c CycleCounters) remaining(day string, limit int) bool {
	if limit <= 0 {
		return true
	}
	if c.Day != day {
		return true
	}
	return c.Today < limit
}
