// Package backtest replays candle history through the trigger scorer and
// measures what price did after each urgent trigger.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"perpcore/pkg/exchange"
	"perpcore/pkg/market"
	"perpcore/pkg/scorer"
)

// Options tunes a replay. Zero values take the defaults.
type Options struct {
	Interval  string  // candle interval, default 1h
	Window    int     // bars of history per snapshot, default 100
	Horizon   int     // bars after a trigger to measure, default 4
	Threshold float64 // urgent threshold, default 60
}

func (o Options) withDefaults() Options {
	if o.Interval == "" {
		o.Interval = "1h"
	}
	if o.Window <= 0 {
		o.Window = 100
	}
	if o.Horizon <= 0 {
		o.Horizon = 4
	}
	if o.Threshold <= 0 {
		o.Threshold = 60
	}
	return o
}

// Trigger is one bar whose score reached the threshold.
type Trigger struct {
	Score scorer.TriggerScore `json:"score"`
	Price float64             `json:"price"`
	// ForwardPct is the percent move over the horizon, signed so that a move
	// in the bias direction is positive. Zero for neutral bias.
	ForwardPct float64 `json:"forward_pct"`
}

// Result summarises a replay.
type Result struct {
	Symbol     string    `json:"symbol"`
	Steps      int       `json:"steps"`
	Triggers   []Trigger `json:"triggers"`
	Hits       int       `json:"hits"`
	HitRate    float64   `json:"hit_rate"`
	AvgForward float64   `json:"avg_forward_pct"`
	Conflicted int       `json:"conflicted"`
}

var ErrNotEnoughHistory = errors.New("backtest: not enough candles for window and horizon")

// Run scores every bar that has a full window behind it and a full horizon
// ahead of it. Each bar is scored against the previous bar's snapshot.
func Run(ctx context.Context, symbol string, candles []exchange.Candle, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if len(candles) < opts.Window+opts.Horizon+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughHistory, len(candles), opts.Window+opts.Horizon+1)
	}
	symbol = exchange.Canonical(symbol)
	res := &Result{Symbol: symbol}
	var prev *market.Snapshot
	var directional int
	var forwardSum float64
	for i := opts.Window; i+opts.Horizon < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := candles[i]
		snap := market.FromCandles(symbol, bar.Close, candles[i-opts.Window:i+1], opts.Interval, bar.OpenTime)
		score := scorer.Score(snap, prev)
		prev = &snap
		res.Steps++
		if !score.Exceeds(opts.Threshold) {
			continue
		}
		if score.Conflicted() {
			res.Conflicted++
		}
		t := Trigger{Score: score, Price: bar.Close}
		if score.DirectionBias != scorer.BiasNeutral {
			move := forwardPct(bar.Close, candles[i+opts.Horizon].Close, score.DirectionBias)
			t.ForwardPct = move
			directional++
			forwardSum += move
			if move > 0 {
				res.Hits++
			}
		}
		res.Triggers = append(res.Triggers, t)
	}
	if directional > 0 {
		res.HitRate = float64(res.Hits) / float64(directional)
		res.AvgForward = forwardSum / float64(directional)
	}
	return res, nil
}

func forwardPct(from, to float64, bias scorer.Bias) float64 {
	if from <= 0 {
		return 0
	}
	move := (to - from) / from * 100
	if bias == scorer.BiasShort {
		return -move
	}
	return move
}
