package indicators

import "math"

// Kline is the OHLCV input for range-based indicators.
type Kline struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// EMA returns the exponential moving average series, NaN until the first
// complete window. NaN inputs carry the previous value forward.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	out := nanSeries(len(prices))
	if len(prices) < period {
		return out
	}
	k := 2.0 / float64(period+1)

	start := -1
	var seed float64
	for i := period - 1; i < len(prices) && start < 0; i++ {
		sum := 0.0
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(prices[j]) {
				valid = false
				break
			}
			sum += prices[j]
		}
		if valid {
			start, seed = i, sum/float64(period)
		}
	}
	if start < 0 {
		return out
	}
	out[start] = seed
	for i := start + 1; i < len(prices); i++ {
		if math.IsNaN(prices[i]) {
			out[i] = out[i-1]
			continue
		}
		out[i] = (prices[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// SMA returns the simple moving average series.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return []float64{}
	}
	out := nanSeries(len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI computes Wilder's relative strength index.
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	out := nanSeries(len(prices))
	if len(prices) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		if d := prices[i] - prices[i-1]; d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		avgGain = (avgGain*float64(period-1) + math.Max(d, 0)) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + math.Max(-d, 0)) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

// ATR computes the EMA-smoothed average true range.
func ATR(klines []Kline, period int) []float64 {
	if period <= 0 || len(klines) == 0 {
		return []float64{}
	}
	tr := make([]float64, len(klines))
	for i, k := range klines {
		if i == 0 {
			tr[i] = k.High - k.Low
			continue
		}
		prev := klines[i-1].Close
		tr[i] = math.Max(k.High-k.Low, math.Max(math.Abs(k.High-prev), math.Abs(k.Low-prev)))
	}
	return EMA(tr, period)
}

// BollingerWidth returns (upper-lower)/middle for a period-length band at
// mult standard deviations, evaluated on the last window only.
func BollingerWidth(closes []float64, period int, mult float64) float64 {
	if period <= 1 || len(closes) < period {
		return math.NaN()
	}
	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)
	if mean == 0 {
		return math.NaN()
	}
	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(period))
	return 2 * mult * sd / mean
}

// VolumeRatio is the last bar's volume over the mean of the preceding period bars.
func VolumeRatio(volumes []float64, period int) float64 {
	if period <= 0 || len(volumes) < period+1 {
		return math.NaN()
	}
	last := volumes[len(volumes)-1]
	prior := volumes[len(volumes)-1-period : len(volumes)-1]
	sum := 0.0
	for _, v := range prior {
		sum += v
	}
	if sum == 0 {
		return math.NaN()
	}
	return last / (sum / float64(period))
}

// Last returns the final non-NaN value of a series, or NaN.
func Last(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return math.NaN()
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50.0
	case avgLoss == 0:
		return 100.0
	case avgGain == 0:
		return 0.0
	default:
		return 100.0 - (100.0 / (1.0 + avgGain/avgLoss))
	}
}
