// Package regime runs the periodic market assessments, merges dual
// perspectives into one view and publishes the shared MarketState that
// strategies read their directives from.
package regime

import (
	"sort"
	"strings"
	"time"

	"perpcore/pkg/advisory"
)

// Regime classifies market conditions.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRange        Regime = "range"
	RegimeVolatile     Regime = "volatile"
	RegimeUnknown      Regime = "unknown"
)

// Rank orders regimes by conservatism; higher is more conservative.
func (r Regime) Rank() int {
	switch r {
	case RegimeVolatile:
		return 4
	case RegimeTrendingDown:
		return 3
	case RegimeTrendingUp:
		return 2
	case RegimeRange:
		return 1
	}
	return 0
}

// Direction is the overall market lean.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Bias values used in directives.
const (
	BiasLong    = "long"
	BiasShort   = "short"
	BiasNeutral = "neutral"
)

// Directive is a per-strategy override.
type Directive struct {
	Active bool   `json:"active"`
	Bias   string `json:"bias"`
	// MaxLeverage of zero means no cap from this directive.
	MaxLeverage  int      `json:"max_leverage"`
	FocusSymbols []string `json:"focus_symbols,omitempty"`
}

// Focuses reports whether symbol is in the focus list. An empty list
// focuses on everything.
func (d Directive) Focuses(symbol string) bool {
	if len(d.FocusSymbols) == 0 {
		return true
	}
	for _, s := range d.FocusSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Assessment sources.
const (
	SourceTechnical = "technical"
	SourceMacro     = "macro"
	SourceMerged    = "merged"
)

// Assessment is one regime view.
type Assessment struct {
	Source     string               `json:"source"`
	Regime     Regime               `json:"regime"`
	Direction  Direction            `json:"direction"`
	RiskLevel  int                  `json:"risk_level"`
	Confidence float64              `json:"confidence"`
	Reasoning  string               `json:"reasoning"`
	Directives map[string]Directive `json:"directives,omitempty"`
	At         time.Time            `json:"at"`
}

// FromAnalysis converts a validated advisory analysis.
func FromAnalysis(a advisory.Analysis, source string, at time.Time) Assessment {
	out := Assessment{
		Source:     source,
		Regime:     Regime(a.Regime),
		Direction:  Direction(a.Direction),
		RiskLevel:  a.RiskLevel,
		Confidence: clamp(a.Confidence),
		Reasoning:  a.Reasoning,
		At:         at,
	}
	if len(a.Directives) > 0 {
		out.Directives = make(map[string]Directive, len(a.Directives))
		for name, d := range a.Directives {
			bias := d.Bias
			if bias == "" {
				bias = BiasNeutral
			}
			out.Directives[name] = Directive{
				Active:       d.Active,
				Bias:         bias,
				MaxLeverage:  d.MaxLeverage,
				FocusSymbols: normaliseSymbols(d.FocusSymbols),
			}
		}
	}
	return out
}

func normaliseSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
