// Command monitor polls the configured exchange and logs trigger scores per
// symbol without calling the advisory model or touching any strategy.
package main

import (
	"context"
	"errors"
	"flag"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/internal/cli"
	"perpcore/internal/config"
	"perpcore/internal/svc"
	"perpcore/pkg/backtest"
	"perpcore/pkg/market"
	"perpcore/pkg/scorer"
)

var (
	configFile = flag.String("f", "etc/perpcore.yaml", "the config file")
	interval   = flag.Duration("interval", 2*time.Minute, "polling interval")
	once       = flag.Bool("once", false, "score a single pass and exit")
	symbols    = flag.String("symbols", "", "comma separated symbols, defaults to the configured list")
	replay     = flag.String("replay", "", "score a candle csv offline instead of polling; uses the first symbol")
)

var errNoSymbols = errors.New("monitor: no symbols configured")

func main() {
	flag.Parse()

	c := config.MustLoad(*configFile)
	logx.MustSetup(c.Log)
	logx.DisableStat()
	cli.LogConfigSummary(c)

	watch := c.Symbols
	if *symbols != "" {
		watch = parseSymbols(*symbols)
	}
	if len(watch) == 0 {
		logx.Must(errNoSymbols)
	}

	if *replay != "" {
		logx.Must(runReplay(*replay, watch[0], *c))
		return
	}

	client, err := svc.NewExchange(*c)
	logx.Must(err)

	m := &monitor{
		builder:   market.NewBuilder(client, market.WithInterval(c.Regime.CandleInterval, c.Regime.CandleLookback)),
		symbols:   watch,
		threshold: c.Regime.UrgentThreshold,
		previous:  make(map[string]market.Snapshot),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.pass(ctx)
	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logx.Info("monitor: stopped")
			return
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

type monitor struct {
	builder   *market.Builder
	symbols   []string
	threshold float64
	previous  map[string]market.Snapshot
}

func (m *monitor) pass(ctx context.Context) {
	start := time.Now()
	snaps, err := m.builder.Build(ctx, m.symbols)
	if err != nil {
		logx.Errorf("monitor: build snapshots: %v", err)
		return
	}
	for _, sym := range slices.Sorted(maps.Keys(snaps)) {
		snap := snaps[sym]
		var prev *market.Snapshot
		if p, ok := m.previous[sym]; ok {
			prev = &p
		}
		score := scorer.Score(snap, prev)
		m.previous[sym] = snap

		fields := []logx.LogField{
			logx.Field("symbol", sym),
			logx.Field("price", snap.Price),
			logx.Field("score", score.Score),
			logx.Field("bias", score.DirectionBias),
			logx.Field("flags", len(score.Flags)),
		}
		if score.Conflicted() {
			fields = append(fields, logx.Field("conflict", score.ConflictPenalty))
		}
		if score.Exceeds(m.threshold) {
			logx.Infow("monitor: urgent threshold reached", append(fields, logx.Field("urgent", true))...)
			for _, f := range score.Flags {
				logx.Infof("  %s/%s %s (%.0f, %s)", f.Category, f.Name, f.Detail, f.Weight, f.Bias)
			}
			continue
		}
		logx.Infow("monitor: scored", fields...)
	}
	logx.Infof("monitor: pass over %d/%d symbols took %s", len(snaps), len(m.symbols), time.Since(start).Round(time.Millisecond))
}

func runReplay(path, symbol string, c config.Config) error {
	candles, err := backtest.LoadCandlesFile(path)
	if err != nil {
		return err
	}
	res, err := backtest.Run(context.Background(), symbol, candles, backtest.Options{
		Interval:  c.Regime.CandleInterval,
		Window:    c.Regime.CandleLookback,
		Threshold: c.Regime.UrgentThreshold,
	})
	if err != nil {
		return err
	}
	for _, t := range res.Triggers {
		logx.Infow("replay: trigger",
			logx.Field("at", t.Score.Timestamp),
			logx.Field("score", t.Score.Score),
			logx.Field("bias", t.Score.DirectionBias),
			logx.Field("forward_pct", t.ForwardPct))
	}
	logx.Infow("replay: done",
		logx.Field("symbol", res.Symbol),
		logx.Field("steps", res.Steps),
		logx.Field("triggers", len(res.Triggers)),
		logx.Field("conflicted", res.Conflicted),
		logx.Field("hit_rate", res.HitRate),
		logx.Field("avg_forward_pct", res.AvgForward))
	return nil
}

func parseSymbols(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToUpper(f))
	}
	return out
}
