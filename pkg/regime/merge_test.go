package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var at = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func technical() Assessment {
	return Assessment{
		Source:     SourceTechnical,
		Regime:     RegimeTrendingUp,
		Direction:  DirectionBullish,
		RiskLevel:  2,
		Confidence: 70,
		Reasoning:  "higher highs",
		At:         at,
		Directives: map[string]Directive{
			"momentum": {Active: true, Bias: BiasLong, MaxLeverage: 5, FocusSymbols: []string{"ETH", "BTC"}},
			"scalp":    {Active: true, Bias: BiasLong, MaxLeverage: 0},
		},
	}
}

func macro() Assessment {
	return Assessment{
		Source:     SourceMacro,
		Regime:     RegimeTrendingUp,
		Direction:  DirectionBullish,
		RiskLevel:  3,
		Confidence: 96,
		Reasoning:  "risk-on flows",
		At:         at.Add(time.Minute),
		Directives: map[string]Directive{
			"momentum": {Active: false, Bias: BiasLong, MaxLeverage: 3, FocusSymbols: []string{"sol", "ETH"}},
			"scalp":    {Active: true, Bias: BiasLong, MaxLeverage: 4},
		},
	}
}

func TestMergeAgreement(t *testing.T) {
	got := Merge(technical(), macro())

	assert.Equal(t, SourceMerged, got.Source)
	assert.Equal(t, RegimeTrendingUp, got.Regime)
	assert.Equal(t, DirectionBullish, got.Direction)
	assert.Equal(t, 3, got.RiskLevel)
	assert.Equal(t, 93.0, got.Confidence)
	assert.Equal(t, at.Add(time.Minute), got.At)

	m := got.Directives["momentum"]
	assert.False(t, m.Active)
	assert.Equal(t, BiasLong, m.Bias)
	assert.Equal(t, 3, m.MaxLeverage)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, m.FocusSymbols)
	assert.Equal(t, 4, got.Directives["scalp"].MaxLeverage)
}

func TestMergeAgreementClampsAt100(t *testing.T) {
	a, b := technical(), macro()
	a.Confidence, b.Confidence = 95, 99
	assert.Equal(t, 100.0, Merge(a, b).Confidence)
}

func TestMergeDisagreement(t *testing.T) {
	a, b := technical(), macro()
	b.Regime = RegimeVolatile
	b.Direction = DirectionBearish
	b.Directives["momentum"] = Directive{Active: true, Bias: BiasShort, MaxLeverage: 2}

	got := Merge(a, b)
	assert.Equal(t, RegimeVolatile, got.Regime)
	assert.Equal(t, DirectionNeutral, got.Direction)
	assert.Equal(t, 55.0, got.Confidence)
	for name, d := range got.Directives {
		assert.Equal(t, BiasNeutral, d.Bias, name)
	}
	assert.Equal(t, 2, got.Directives["momentum"].MaxLeverage)
}

func TestMergeDisagreementClampsAtZero(t *testing.T) {
	a, b := technical(), macro()
	a.Regime, a.Confidence = RegimeRange, 10
	assert.Equal(t, 0.0, Merge(a, b).Confidence)
}

func TestMergeOrderIndependent(t *testing.T) {
	pairs := [][2]Assessment{
		{technical(), macro()},
		func() [2]Assessment {
			a, b := technical(), macro()
			a.Regime, b.Regime = RegimeRange, RegimeTrendingDown
			a.Direction = DirectionBearish
			return [2]Assessment{a, b}
		}(),
		func() [2]Assessment {
			a, b := technical(), macro()
			a.Regime, b.Regime = RegimeUnknown, RegimeRange
			b.Directives = nil
			return [2]Assessment{a, b}
		}(),
	}
	for i, p := range pairs {
		assert.Equal(t, Merge(p[0], p[1]), Merge(p[1], p[0]), "pair %d", i)
	}
}

func TestRegimeRank(t *testing.T) {
	order := []Regime{RegimeUnknown, RegimeRange, RegimeTrendingUp, RegimeTrendingDown, RegimeVolatile}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank())
	}
}
