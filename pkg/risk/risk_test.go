package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/store/memory"
)

type recordingPauser struct {
	paused map[string]string
}

func (p *recordingPauser) Pause(_ context.Context, strategy, reason string) {
	if p.paused == nil {
		p.paused = make(map[string]string)
	}
	p.paused[strategy] = reason
}

type countingObserver struct {
	denied map[string]int
	last   float64
}

func (o *countingObserver) RiskDenied(check string) {
	if o.denied == nil {
		o.denied = make(map[string]int)
	}
	o.denied[check]++
}

func (o *countingObserver) Drawdown(pct float64) { o.last = pct }

func limits() Limits {
	return Limits{
		MaxGlobalDrawdownPct:   20,
		MaxStrategyDrawdownPct: 10,
		MaxDailyLossPct:        5,
		MaxPositionSizePct:     25,
		MaxOpenPositions:       3,
		MaxLeverage:            3,
	}
}

func TestGlobalDrawdownLevels(t *testing.T) {
	ctx := context.Background()
	m := NewManager(limits())

	m.UpdatePortfolioValue(ctx, 1000)
	assert.Equal(t, LevelNormal, m.CheckGlobalDrawdown().Level)

	m.UpdatePortfolioValue(ctx, 850)
	v := m.CheckGlobalDrawdown()
	assert.Equal(t, LevelWarning, v.Level)
	assert.True(t, v.Approved)
	assert.InDelta(t, 15, v.DrawdownPct, 1e-9)

	m.UpdatePortfolioValue(ctx, 790)
	v = m.CheckGlobalDrawdown()
	assert.Equal(t, LevelCritical, v.Level)
	assert.False(t, v.Approved)
	assert.InDelta(t, 21, v.DrawdownPct, 1e-9)
	assert.NotEmpty(t, v.Reason)
}

func TestPeakRatchetsAndPersists(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	obs := &countingObserver{}
	m := NewManager(limits(), WithStore(kv), WithObserver(obs))

	m.UpdatePortfolioValue(ctx, 1000)
	m.UpdatePortfolioValue(ctx, 1200)
	m.UpdatePortfolioValue(ctx, 900)
	assert.Equal(t, 1200.0, m.PeakValue())
	assert.Equal(t, 900.0, m.CurrentValue())
	assert.InDelta(t, 25, obs.last, 1e-9)

	restarted := NewManager(limits(), WithStore(kv))
	require.NoError(t, restarted.Restore(ctx))
	assert.Equal(t, 1200.0, restarted.PeakValue(), "peak survives restart")

	restarted.UpdatePortfolioValue(ctx, 1100)
	assert.Equal(t, 1200.0, restarted.PeakValue())
}

func TestCheckSignal(t *testing.T) {
	ctx := context.Background()
	pauser := &recordingPauser{}
	obs := &countingObserver{}
	m := NewManager(limits(), WithPauser(pauser), WithObserver(obs))
	sig := Signal{Strategy: "scalp", Symbol: "ETH", Notional: 500}

	cases := []struct {
		name     string
		stats    StrategyStats
		approved bool
		paused   bool
	}{
		{"healthy", StrategyStats{Running: true}, true, false},
		{"not running", StrategyStats{}, false, false},
		{"drawdown", StrategyStats{Running: true, DrawdownPct: 10}, false, true},
		{"daily loss", StrategyStats{Running: true, DailyLossPct: 6}, false, true},
		{"too many positions", StrategyStats{Running: true, OpenPositions: 3}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pauser.paused = nil
			v := m.CheckSignal(ctx, sig, tc.stats)
			assert.Equal(t, tc.approved, v.Approved)
			_, paused := pauser.paused["scalp"]
			assert.Equal(t, tc.paused, paused)
			if !tc.approved {
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
	assert.Equal(t, 4, obs.denied[CheckSignal])
}

func TestCrossExposure(t *testing.T) {
	m := NewManager(limits())
	positions := []Exposure{
		{Strategy: "discretionary", Symbol: "ETH-PERP", Notional: 1800},
		{Strategy: "momentum", Symbol: "ETH", Notional: -1200},
		{Strategy: "scalp", Symbol: "BTC", Notional: 3500},
	}

	v := m.CheckCrossExposure(positions, "ETH-PERP", 2000, 10000)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Reason, "ETH")

	v = m.CheckCrossExposure(positions, "ETH", 1000, 10000)
	assert.True(t, v.Approved, "3000 + 1000 equals the cap")

	v = m.CheckCrossExposure(positions, "SOL", 2000, 0)
	assert.False(t, v.Approved)
}

func TestTotalLeverage(t *testing.T) {
	m := NewManager(limits())
	positions := []Exposure{{Symbol: "BTC", Notional: 20000}, {Symbol: "ETH", Notional: -8000}}

	assert.True(t, m.CheckTotalLeverage(positions, 2000, 10000).Approved)
	v := m.CheckTotalLeverage(positions, 2001, 10000)
	assert.False(t, v.Approved)
	assert.Equal(t, CheckTotalLeverage, v.Check)
}

func TestPositionSize(t *testing.T) {
	m := NewManager(limits())
	assert.True(t, m.CheckPositionSize(7500, 3, 10000).Approved)
	assert.False(t, m.CheckPositionSize(7500, 1, 10000).Approved)
}
