package regime

import (
	"fmt"
)

const (
	// AgreementBonus is added to the mean confidence when both views agree
	// on regime and direction.
	AgreementBonus = 10.0
	// DisagreementPenalty is subtracted from the lower confidence otherwise.
	DisagreementPenalty = 15.0
)

// Merge combines two assessments of the same cycle. It is pure and gives the
// same result for Merge(a, b) and Merge(b, a).
func Merge(a, b Assessment) Assessment {
	if less(b, a) {
		a, b = b, a
	}
	out := Assessment{Source: SourceMerged, At: a.At}
	if b.At.After(out.At) {
		out.At = b.At
	}

	if a.Regime == b.Regime {
		out.Regime = a.Regime
	} else if a.Regime.Rank() >= b.Regime.Rank() {
		out.Regime = a.Regime
	} else {
		out.Regime = b.Regime
	}

	directionAgrees := a.Direction == b.Direction
	if directionAgrees {
		out.Direction = a.Direction
	} else {
		out.Direction = DirectionNeutral
	}

	out.RiskLevel = max(a.RiskLevel, b.RiskLevel)

	if a.Regime == b.Regime && directionAgrees {
		out.Confidence = clamp((a.Confidence+b.Confidence)/2 + AgreementBonus)
	} else {
		out.Confidence = clamp(min(a.Confidence, b.Confidence) - DisagreementPenalty)
	}

	out.Directives = mergeDirectives(a.Directives, b.Directives, directionAgrees)
	out.Reasoning = fmt.Sprintf("[%s] %s\n[%s] %s", a.Source, a.Reasoning, b.Source, b.Reasoning)
	return out
}

func mergeDirectives(a, b map[string]Directive, agree bool) map[string]Directive {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]Directive, len(a)+len(b))
	for name, da := range a {
		db, ok := b[name]
		if !ok {
			out[name] = restrict(da, agree)
			continue
		}
		bias := da.Bias
		if da.Bias != db.Bias {
			bias = BiasNeutral
		}
		out[name] = restrict(Directive{
			Active:       da.Active && db.Active,
			Bias:         bias,
			MaxLeverage:  lowerCap(da.MaxLeverage, db.MaxLeverage),
			FocusSymbols: normaliseSymbols(append(append([]string{}, da.FocusSymbols...), db.FocusSymbols...)),
		}, agree)
	}
	for name, db := range b {
		if _, ok := a[name]; !ok {
			out[name] = restrict(db, agree)
		}
	}
	return out
}

func restrict(d Directive, agree bool) Directive {
	if !agree || d.Bias == "" {
		d.Bias = BiasNeutral
	}
	d.FocusSymbols = normaliseSymbols(d.FocusSymbols)
	return d
}

// lowerCap picks the stricter leverage cap; zero means uncapped.
func lowerCap(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}

// less gives assessments a canonical order so Merge is symmetric.
func less(x, y Assessment) bool {
	if x.Source != y.Source {
		return x.Source < y.Source
	}
	if x.Reasoning != y.Reasoning {
		return x.Reasoning < y.Reasoning
	}
	if x.Regime != y.Regime {
		return x.Regime < y.Regime
	}
	if x.Direction != y.Direction {
		return x.Direction < y.Direction
	}
	if x.Confidence != y.Confidence {
		return x.Confidence < y.Confidence
	}
	return x.RiskLevel < y.RiskLevel
}
