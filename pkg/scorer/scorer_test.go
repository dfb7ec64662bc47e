package scorer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/market"
)

var scanTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func flagNames(flags []Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Name)
	}
	return out
}

func TestScoreAlignedLong(t *testing.T) {
	prev := market.Snapshot{Symbol: "ETH", RSI: 28}
	cur := market.Snapshot{
		Symbol:      "ETH",
		Price:       3200,
		Change1h:    3,
		Change4h:    6,
		RSI:         35,
		EMAFast:     3100,
		EMASlow:     3000,
		VolumeRatio: 3.5,
		FundingRate: -0.001,
		Trend:       market.TrendUp,
		Timestamp:   scanTime,
	}

	got := Score(cur, &prev)

	assert.Equal(t, []string{
		"sharp_move_1h", "extended_move_4h", "rsi_exit_oversold",
		"volume_spike", "trend_aligned_up", "crowded_shorts",
	}, flagNames(got.Flags))
	assert.Equal(t, BiasLong, got.DirectionBias)
	assert.InDelta(t, 81, got.LongWeight, 1e-9)
	assert.Zero(t, got.ShortWeight)
	assert.Zero(t, got.ConflictPenalty)
	assert.False(t, got.Conflicted())
	assert.InDelta(t, 15, got.BonusScore, 1e-9)
	assert.InDelta(t, 96, got.Score, 1e-9)
	assert.Equal(t, scanTime, got.Timestamp)
}

func TestScoreConflictedStillDirectional(t *testing.T) {
	cur := market.Snapshot{
		Symbol:      "BTC",
		Change1h:    3,
		RSI:         75,
		Trend:       market.TrendSideways,
		FundingRate: 0.001,
	}

	got := Score(cur, nil)

	assert.Equal(t, BiasShort, got.DirectionBias)
	assert.InDelta(t, 15, got.LongWeight, 1e-9)
	assert.InDelta(t, 30, got.ShortWeight, 1e-9)
	assert.InDelta(t, 7.5, got.ConflictPenalty, 1e-9)
	assert.True(t, got.Conflicted())
	assert.Zero(t, got.BonusScore)
	assert.InDelta(t, 37.5, got.Score, 1e-9)
}

func TestScoreTieIsNeutral(t *testing.T) {
	cur := market.Snapshot{Symbol: "SOL", Change4h: 6, FundingRate: 0.001}

	got := Score(cur, nil)

	assert.Equal(t, BiasNeutral, got.DirectionBias)
	assert.InDelta(t, 5, got.ConflictPenalty, 1e-9)
	assert.InDelta(t, 15, got.Score, 1e-9)
}

func TestScoreEmptySnapshot(t *testing.T) {
	got := Score(market.Snapshot{Symbol: "DOGE"}, nil)

	require.NotNil(t, got.Flags)
	assert.Empty(t, got.Flags)
	assert.Equal(t, BiasNeutral, got.DirectionBias)
	assert.Zero(t, got.Score)
	assert.False(t, got.Exceeds(1))
}

func TestScoreDeterministic(t *testing.T) {
	prev := market.Snapshot{Symbol: "ETH", RSI: 72, EMAFast: 99, EMASlow: 100, BandWidth: 1.5}
	cur := market.Snapshot{
		Symbol:      "ETH",
		Price:       101,
		Change1h:    -2.8,
		RSI:         68,
		EMAFast:     101,
		EMASlow:     100,
		BandWidth:   2.5,
		ATRPct:      3.2,
		VolumeRatio: 2.2,
		OIDeltaPct:  7,
		Trend:       market.TrendDown,
		Timestamp:   scanTime,
	}

	first := Score(cur, &prev)
	second := Score(cur, &prev)

	assert.Equal(t, first, second)
	assert.Contains(t, flagNames(first.Flags), "golden_cross")
	assert.Contains(t, flagNames(first.Flags), "rsi_exit_overbought")
	assert.Contains(t, flagNames(first.Flags), "squeeze_release")
}

func TestScoreIgnoresPreviousForOtherSymbol(t *testing.T) {
	prev := market.Snapshot{Symbol: "BTC", RSI: 28}
	cur := market.Snapshot{Symbol: "ETH", RSI: 35}

	got := Score(cur, &prev)

	assert.Empty(t, got.Flags)
}

func TestScoreToleratesNaN(t *testing.T) {
	cur := market.Snapshot{
		Symbol:      "ETH",
		Change1h:    math.NaN(),
		RSI:         math.NaN(),
		ATRPct:      math.Inf(1),
		VolumeRatio: math.NaN(),
		OIDeltaPct:  math.NaN(),
	}

	assert.NotPanics(t, func() {
		got := Score(cur, nil)
		assert.Equal(t, BiasNeutral, got.DirectionBias)
	})
}

func TestBiasIsExclusive(t *testing.T) {
	cases := []struct {
		long, short float64
		want        Bias
	}{
		{0, 0, BiasNeutral},
		{10, 0, BiasLong},
		{0, 10, BiasShort},
		{11, 10, BiasNeutral},
		{20, 10, BiasLong},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resolveBias(tc.long, tc.short), "long=%v short=%v", tc.long, tc.short)
	}
}
