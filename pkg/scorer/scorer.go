package scorer

import (
	"fmt"
	"math"
	"time"

	"perpcore/pkg/market"
)

// Category groups flags by the kind of evidence they represent.
type Category string

const (
	CategoryPriceAction Category = "price_action"
	CategoryMomentum    Category = "momentum"
	CategoryVolatility  Category = "volatility"
	CategoryVolume      Category = "volume"
	CategoryStructure   Category = "structure"
	CategoryCrossAsset  Category = "cross_asset"
)

// Bias is a directional lean. Exactly one value applies to a score.
type Bias string

const (
	BiasLong    Bias = "long"
	BiasShort   Bias = "short"
	BiasNeutral Bias = "neutral"
)

// Flag is one fired condition.
type Flag struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Weight   float64  `json:"weight"`
	Bias     Bias     `json:"bias"`
	Detail   string   `json:"detail"`
}

// TriggerScore is the immutable result of scoring one snapshot.
type TriggerScore struct {
	Symbol          string    `json:"symbol"`
	Flags           []Flag    `json:"flags"`
	Score           float64   `json:"score"`
	RawScore        float64   `json:"raw_score"`
	DirectionBias   Bias      `json:"direction_bias"`
	ConflictPenalty float64   `json:"conflict_penalty"`
	BonusScore      float64   `json:"bonus_score"`
	LongWeight      float64   `json:"long_weight"`
	ShortWeight     float64   `json:"short_weight"`
	Timestamp       time.Time `json:"timestamp"`
}

// Conflicted reports whether opposing flags of comparable weight both fired.
func (s TriggerScore) Conflicted() bool { return s.ConflictPenalty > 0 }

// Exceeds reports whether the net score reaches threshold.
func (s TriggerScore) Exceeds(threshold float64) bool { return s.Score >= threshold }

const (
	// consensusRatio is the minimum |long-short|/(long+short) for a
	// directional bias.
	consensusRatio = 0.2
	// comparableRatio is the minimum smaller/larger side ratio that counts
	// as a conflict.
	comparableRatio = 0.5
	conflictFactor  = 0.5

	alignedCategoriesForBonus = 3
	alignmentBonus            = 10.0
	alignmentBonusExtra       = 5.0
)

// Score converts a snapshot (and optionally the previous scan's snapshot for
// the same symbol) into a TriggerScore. It is pure and never panics; missing
// history yields fewer flags.
func Score(current market.Snapshot, previous *market.Snapshot) TriggerScore {
	if previous != nil && previous.Symbol != current.Symbol {
		previous = nil
	}
	var flags []Flag
	flags = append(flags, priceActionFlags(current)...)
	flags = append(flags, momentumFlags(current, previous)...)
	flags = append(flags, volatilityFlags(current, previous)...)
	flags = append(flags, volumeFlags(current)...)
	flags = append(flags, structureFlags(current, previous)...)
	flags = append(flags, crossAssetFlags(current)...)

	out := TriggerScore{Symbol: current.Symbol, Flags: flags, Timestamp: current.Timestamp}
	for _, f := range flags {
		out.RawScore += f.Weight
		switch f.Bias {
		case BiasLong:
			out.LongWeight += f.Weight
		case BiasShort:
			out.ShortWeight += f.Weight
		}
	}
	out.DirectionBias = resolveBias(out.LongWeight, out.ShortWeight)
	out.ConflictPenalty = conflictPenalty(out.LongWeight, out.ShortWeight)
	out.BonusScore = alignment(flags, out.DirectionBias)
	out.Score = math.Max(0, out.RawScore-out.ConflictPenalty+out.BonusScore)
	if out.Flags == nil {
		out.Flags = []Flag{}
	}
	return out
}

func resolveBias(long, short float64) Bias {
	directional := long + short
	if directional == 0 {
		return BiasNeutral
	}
	net := long - short
	if math.Abs(net)/directional < consensusRatio {
		return BiasNeutral
	}
	if net > 0 {
		return BiasLong
	}
	return BiasShort
}

func conflictPenalty(long, short float64) float64 {
	lo, hi := math.Min(long, short), math.Max(long, short)
	if lo == 0 || lo/hi < comparableRatio {
		return 0
	}
	return lo * conflictFactor
}

func alignment(flags []Flag, bias Bias) float64 {
	if bias == BiasNeutral {
		return 0
	}
	seen := map[Category]bool{}
	for _, f := range flags {
		if f.Bias == bias {
			seen[f.Category] = true
		}
	}
	switch n := len(seen); {
	case n > alignedCategoriesForBonus:
		return alignmentBonus + alignmentBonusExtra
	case n == alignedCategoriesForBonus:
		return alignmentBonus
	}
	return 0
}

func biasOf(v float64) Bias {
	switch {
	case v > 0:
		return BiasLong
	case v < 0:
		return BiasShort
	}
	return BiasNeutral
}

func flag(name string, cat Category, weight float64, bias Bias, format string, args ...any) Flag {
	return Flag{Name: name, Category: cat, Weight: weight, Bias: bias, Detail: fmt.Sprintf(format, args...)}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
