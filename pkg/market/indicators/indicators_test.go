package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

var trendCloses = []float64{100, 101, 102, 103, 105, 107, 106, 108, 110, 111, 112, 115, 117, 119, 118, 120, 121, 123, 125, 124, 126, 127, 129, 130, 132, 133, 134, 135, 136, 138, 139, 141, 140, 142, 144, 143, 145, 147, 149, 148, 150, 151, 149, 148, 150, 152, 151, 153, 154, 156, 155, 157, 158, 160, 161, 159, 158, 157, 159, 160}

func TestEMA(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	result := EMA(data, 3)
	require.Len(t, result, len(data))
	require.True(t, math.IsNaN(result[0]))
	require.True(t, math.IsNaN(result[1]))
	require.InDelta(t, 2.0, result[2], 1e-9)
	require.InDelta(t, 3.0, result[3], 1e-9)
	require.InDelta(t, 5.0, result[5], 1e-9)
}

func TestSMA(t *testing.T) {
	result := SMA([]float64{2, 4, 6, 8}, 2)
	require.True(t, math.IsNaN(result[0]))
	require.InDelta(t, 3.0, result[1], 1e-9)
	require.InDelta(t, 7.0, result[3], 1e-9)
}

func TestRSI(t *testing.T) {
	rsi := RSI(trendCloses, 14)
	require.Len(t, rsi, len(trendCloses))
	require.InDelta(t, 73.084185, rsi[len(rsi)-1], 1e-6)
	require.InDelta(t, 73.084185, Last(rsi), 1e-6)
}

func TestATR(t *testing.T) {
	closes := []float64{100, 101, 102, 104, 103, 105, 107, 106, 108, 110, 112, 111, 113, 115, 114, 116, 118, 117, 119, 121}
	klines := make([]Kline, len(closes))
	for i, c := range closes {
		klines[i] = Kline{High: c + 1.5, Low: c - 1.5, Close: c}
	}
	atr := ATR(klines, 14)
	require.Len(t, atr, len(klines))
	require.InDelta(t, 3.326525, atr[len(atr)-1], 1e-6)
}

func TestBollingerWidth(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10}
	require.InDelta(t, 0.0, BollingerWidth(flat, 5, 2), 1e-12)

	// mean 10, population sd 2 -> width 2*2*2/10
	spread := []float64{8, 12, 8, 12}
	require.InDelta(t, 0.8, BollingerWidth(spread, 4, 2), 1e-12)
	require.True(t, math.IsNaN(BollingerWidth(spread, 10, 2)))
}

func TestVolumeRatio(t *testing.T) {
	require.InDelta(t, 3.0, VolumeRatio([]float64{10, 10, 10, 30}, 3), 1e-12)
	require.True(t, math.IsNaN(VolumeRatio([]float64{10}, 3)))
}
