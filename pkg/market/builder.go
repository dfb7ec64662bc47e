package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/exchange"
	"perpcore/pkg/market/indicators"
)

const (
	defaultInterval   = "1h"
	defaultLookback   = 100
	defaultTimeout    = 10 * time.Second
	rsiPeriod         = 14
	emaFastPeriod     = 20
	emaSlowPeriod     = 50
	atrPeriod         = 14
	bandPeriod        = 20
	bandMult          = 2.0
	volumePeriod      = 20
	trendBandFraction = 0.002
)

// OpenInterestSource is implemented by exchange clients that expose open
// interest. Builders use it opportunistically.
type OpenInterestSource interface {
	GetOpenInterest(ctx context.Context) (map[string]float64, error)
}

// Builder turns exchange candles, mids and funding into Snapshots.
type Builder struct {
	client   exchange.Client
	interval string
	lookback int
	timeout  time.Duration
	clock    func() time.Time

	mu     sync.Mutex
	lastOI map[string]float64
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithInterval sets the candle interval (default 1h).
func WithInterval(interval string, barsBack int) BuilderOption {
	return func(b *Builder) {
		if interval != "" {
			b.interval = interval
		}
		if barsBack > 0 {
			b.lookback = barsBack
		}
	}
}

// WithTimeout bounds each exchange call.
func WithTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) BuilderOption {
	return func(b *Builder) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBuilder constructs a snapshot builder over client.
func NewBuilder(client exchange.Client, opts ...BuilderOption) *Builder {
	b := &Builder{
		client:   client,
		interval: defaultInterval,
		lookback: defaultLookback,
		timeout:  defaultTimeout,
		clock:    time.Now,
		lastOI:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns snapshots for every symbol that could be read. Per-symbol
// failures are logged and skipped; only a failed mid-price query is fatal.
func (b *Builder) Build(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	mids, err := withTimeout(ctx, b.timeout, b.client.GetAllMidPrices)
	if err != nil {
		return nil, fmt.Errorf("market: mids: %w", err)
	}
	funding, err := withTimeout(ctx, b.timeout, b.client.GetFundingRates)
	if err != nil {
		logx.WithContext(ctx).Errorf("market: funding unavailable, continuing without: %v", err)
		funding = map[string]float64{}
	}
	oiDelta := b.openInterestDeltas(ctx)

	now := b.clock().UTC()
	out := make(map[string]Snapshot, len(symbols))
	for _, symbol := range symbols {
		coin := exchange.Canonical(symbol)
		price := mids[coin]
		if price <= 0 {
			logx.WithContext(ctx).Infof("market: no mid for %s, skipping", coin)
			continue
		}
		start := now.Add(-time.Duration(b.lookback) * intervalDuration(b.interval))
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		candles, err := b.client.GetCandleSnapshot(callCtx, coin, b.interval, start, now)
		cancel()
		if err != nil {
			logx.WithContext(ctx).Errorf("market: candles for %s: %v", coin, err)
			continue
		}
		snap := FromCandles(coin, price, candles, b.interval, now)
		snap.FundingRate = funding[coin]
		snap.OIDeltaPct = oiDelta[coin]
		out[coin] = snap
	}
	return out, nil
}

func (b *Builder) openInterestDeltas(ctx context.Context) map[string]float64 {
	src, ok := b.client.(OpenInterestSource)
	if !ok {
		return nil
	}
	current, err := withTimeout(ctx, b.timeout, src.GetOpenInterest)
	if err != nil {
		logx.WithContext(ctx).Errorf("market: open interest: %v", err)
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	deltas := make(map[string]float64, len(current))
	for coin, oi := range current {
		if prev := b.lastOI[coin]; prev > 0 {
			deltas[coin] = (oi - prev) / prev * 100
		}
		b.lastOI[coin] = oi
	}
	return deltas
}

// FromCandles computes a Snapshot from a candle history (oldest first).
func FromCandles(symbol string, price float64, candles []exchange.Candle, interval string, at time.Time) Snapshot {
	snap := Snapshot{Symbol: symbol, Price: price, Trend: TrendSideways, Timestamp: at}
	if len(candles) == 0 {
		return snap
	}
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	klines := make([]indicators.Kline, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
		klines[i] = indicators.Kline{High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}

	step := intervalDuration(interval)
	snap.Change1h = changeOver(closes, price, barsFor(time.Hour, step))
	snap.Change4h = changeOver(closes, price, barsFor(4*time.Hour, step))
	snap.Change24h = changeOver(closes, price, barsFor(24*time.Hour, step))
	day := barsFor(24*time.Hour, step)
	for i := len(candles) - 1; i >= 0 && i >= len(candles)-day; i-- {
		snap.Volume24h += candles[i].Volume * candles[i].Close
	}

	snap.RSI = finite(indicators.Last(indicators.RSI(closes, rsiPeriod)))
	snap.EMAFast = finite(indicators.Last(indicators.EMA(closes, emaFastPeriod)))
	snap.EMASlow = finite(indicators.Last(indicators.EMA(closes, emaSlowPeriod)))
	if atr := finite(indicators.Last(indicators.ATR(klines, atrPeriod))); atr > 0 && price > 0 {
		snap.ATRPct = atr / price * 100
	}
	snap.BandWidth = finite(indicators.BollingerWidth(closes, bandPeriod, bandMult)) * 100
	snap.VolumeRatio = finite(indicators.VolumeRatio(volumes, volumePeriod))
	snap.Trend = classifyTrend(price, snap.EMAFast, snap.EMASlow)
	return snap
}

func classifyTrend(price, fast, slow float64) Trend {
	if fast <= 0 || slow <= 0 {
		return TrendSideways
	}
	band := slow * trendBandFraction
	switch {
	case fast > slow+band && price > fast:
		return TrendUp
	case fast < slow-band && price < fast:
		return TrendDown
	default:
		return TrendSideways
	}
}

func changeOver(closes []float64, price float64, bars int) float64 {
	idx := len(closes) - 1 - bars
	if bars <= 0 || idx < 0 || closes[idx] <= 0 {
		return 0
	}
	return (price - closes[idx]) / closes[idx] * 100
}

func barsFor(window, step time.Duration) int {
	if step <= 0 {
		return 0
	}
	return int(window / step)
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	if d, err := time.ParseDuration(interval); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(callCtx)
}
