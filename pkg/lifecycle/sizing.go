package lifecycle

import (
	"math"

	"perpcore/pkg/exchange"
)

// KellyFraction is the full-Kelly bet for win probability p and payoff
// ratio rr: p - (1-p)/rr. Negative edges size to zero.
func KellyFraction(p, rr float64) float64 {
	if rr <= 0 || p <= 0 {
		return 0
	}
	if p > 1 {
		p = 1
	}
	return math.Max(0, p-(1-p)/rr)
}

// SizeFraction bounds the proposed fraction of allocated capital:
// min(proposed, max(kellyBound, floor)).
func SizeFraction(proposed, kellyBound, floor float64) float64 {
	return math.Min(proposed, math.Max(kellyBound, floor))
}

// Sizing is the computed entry.
type Sizing struct {
	Fraction       float64 `json:"fraction"`
	KellyBound     float64 `json:"kelly_bound"`
	CapitalAtRisk  float64 `json:"capital_at_risk"`
	Quantity       float64 `json:"quantity"`
	Notional       float64 `json:"notional"`
	Leverage       int     `json:"leverage"`
	SizeMultiplier float64 `json:"size_multiplier"`
}

// SizeInput carries everything Size needs.
type SizeInput struct {
	Allocated      float64
	ProposedSize   float64
	WinRate        float64
	RiskReward     float64
	KellyMult      float64
	Floor          float64
	SizeMultiplier float64
	Leverage       int
	Entry          float64
	SzDecimals     int
}

// Size computes the order quantity, rounded down to the venue precision.
func Size(in SizeInput) Sizing {
	kelly := KellyFraction(in.WinRate, in.RiskReward) * in.KellyMult
	frac := SizeFraction(in.ProposedSize, kelly, in.Floor)
	mult := in.SizeMultiplier
	if mult <= 0 {
		mult = 1
	}
	lev := in.Leverage
	if lev < 1 {
		lev = 1
	}
	out := Sizing{Fraction: frac, KellyBound: kelly, Leverage: lev, SizeMultiplier: mult}
	if in.Allocated <= 0 || in.Entry <= 0 || frac <= 0 {
		return out
	}
	out.CapitalAtRisk = in.Allocated * frac * mult
	out.Quantity = exchange.RoundSize(out.CapitalAtRisk*float64(lev)/in.Entry, in.SzDecimals)
	out.Notional = out.Quantity * in.Entry
	return out
}
