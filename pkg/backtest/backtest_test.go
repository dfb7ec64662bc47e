package backtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/exchange"
	"perpcore/pkg/scorer"
)

func series(n int, price func(i int) float64) []exchange.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Candle, n)
	for i := range out {
		p := price(i)
		out[i] = exchange.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     p, High: p * 1.01, Low: p * 0.99, Close: p, Volume: 1000,
		}
	}
	return out
}

func TestRunNeedsHistory(t *testing.T) {
	_, err := Run(context.Background(), "ETH", series(50, func(int) float64 { return 100 }), Options{})
	assert.ErrorIs(t, err, ErrNotEnoughHistory)
}

func TestRunFlatMarketNeverTriggers(t *testing.T) {
	res, err := Run(context.Background(), "eth", series(130, func(int) float64 { return 100 }), Options{})
	require.NoError(t, err)
	assert.Equal(t, "ETH", res.Symbol)
	assert.Equal(t, 130-100-4, res.Steps)
	assert.Empty(t, res.Triggers)
	assert.Zero(t, res.HitRate)
}

func TestRunLowThresholdRecordsForwardMoves(t *testing.T) {
	candles := series(140, func(i int) float64 {
		if i < 110 {
			return 100
		}
		return 100 + float64(i-109)*3
	})
	res, err := Run(context.Background(), "ETH", candles, Options{Threshold: 1})
	require.NoError(t, err)
	require.NotEmpty(t, res.Triggers)
	for _, tr := range res.Triggers {
		if tr.Score.DirectionBias == scorer.BiasNeutral {
			assert.Zero(t, tr.ForwardPct)
		}
	}
	assert.GreaterOrEqual(t, res.HitRate, 0.0)
	assert.LessOrEqual(t, res.HitRate, 1.0)
}

func TestRunHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, "ETH", series(130, func(int) float64 { return 100 }), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForwardPct(t *testing.T) {
	assert.InDelta(t, 10.0, forwardPct(100, 110, scorer.BiasLong), 1e-9)
	assert.InDelta(t, -10.0, forwardPct(100, 110, scorer.BiasShort), 1e-9)
	assert.Zero(t, forwardPct(0, 110, scorer.BiasLong))
}

func TestReadCandles(t *testing.T) {
	in := `time,open,high,low,close,volume
1735693200000,2,3,1,2.5,10
2025-01-01T00:00:00Z,1,2,0.5,1.5,20
`
	candles, err := ReadCandles(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.5, candles[0].Close)
	assert.Equal(t, time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), candles[1].OpenTime)

	_, err = ReadCandles(strings.NewReader("1735693200000,2,3,1,2.5,10\n1735693200000,x,3,1,2.5,10\n"))
	assert.ErrorContains(t, err, "row 2")
}
