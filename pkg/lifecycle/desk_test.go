package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/advisory"
	"perpcore/pkg/market"
	"perpcore/pkg/regime"
	"perpcore/pkg/risk"
	"perpcore/pkg/scorer"
)

type fakeScanner struct {
	symbols []string
	err     error
}

func (f *fakeScanner) Scan(_ context.Context, symbol string) (market.Snapshot, scorer.TriggerScore, error) {
	f.symbols = append(f.symbols, symbol)
	if f.err != nil {
		return market.Snapshot{}, scorer.TriggerScore{}, f.err
	}
	return market.Snapshot{Symbol: symbol, Price: 3000}, scorer.TriggerScore{Symbol: symbol, Score: 42}, nil
}

func newDesk(t *testing.T, h *harness, presets ...string) (*Desk, []*Strategy) {
	t.Helper()
	d := NewDesk(h.ex, h.risk, WithDeskAlerts(h.alerts), WithDeskClock(h.clock))
	out := make([]*Strategy, 0, len(presets))
	for _, name := range presets {
		s := h.strategy(t, name)
		require.NoError(t, d.Register(s))
		out = append(out, s)
	}
	return d, out
}

func TestDeskRegisterRejectsDuplicates(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, _ := newDesk(t, h, PresetScalp)
	assert.Error(t, d.Register(h.strategy(t, PresetScalp)))
	_, ok := d.Strategy(PresetScalp)
	assert.True(t, ok)
	assert.Len(t, d.Strategies(), 1)
}

func TestDeskRoutesToFirstEligibleStrategy(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetScalp, PresetMomentum)
	scalp, momentum := ss[0], ss[1]
	ctx := context.Background()
	proposal := regime.Proposal{DecisionID: "dec-7", Trade: ethLong()}

	d.Deliver(ctx, proposal)
	require.Len(t, scalp.View().Positions, 1)
	assert.Empty(t, momentum.View().Positions)

	scalp.Pause(ctx, "operator")
	d.Deliver(ctx, proposal)
	assert.Len(t, scalp.View().Positions, 1)
	assert.Len(t, momentum.View().Positions, 1)

	h.state = regime.InitialState()
	h.state.Directives[PresetMomentum] = regime.Directive{Active: true, Bias: regime.BiasShort}
	d.Deliver(ctx, proposal)
	assert.Len(t, momentum.View().Positions, 1, "opposed bias is skipped")

	h.state.Directives[PresetMomentum] = regime.Directive{Active: true, FocusSymbols: []string{"BTC"}}
	d.Deliver(ctx, proposal)
	assert.Len(t, momentum.View().Positions, 1, "outside the focus list")
}

func TestDeskProposeAndApproveByID(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetDiscretionary)
	ctx := context.Background()

	_, err := d.Propose(ctx, "nope", ethLong())
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	p, err := d.Propose(ctx, PresetDiscretionary, ethLong())
	require.NoError(t, err)
	assert.Equal(t, OriginManual, p.Origin)

	got, err := d.Approve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, got.Status)
	assert.Len(t, ss[0].View().Positions, 1)

	_, err = d.Approve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProposalNotFound)

	q, err := d.Propose(ctx, PresetDiscretionary, ethLong())
	require.NoError(t, err)
	rejected, err := d.Reject(ctx, q.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "rejected by operator", rejected.Reason)
}

func TestDailyLossBreachPausesThroughDesk(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDailyLossPct = 0.5
	h := newHarness(t, limits)
	_, ss := newDesk(t, h, PresetScalp)
	scalp := ss[0]

	closeAt(t, h, scalp, 2970)
	require.Greater(t, scalp.View().Stats.DailyLossPct(), 0.5)
	h.alerts.Drain()

	require.NoError(t, h.ex.SetMarkPrice("ETH", 3000))
	_, err := scalp.Submit(context.Background(), ethLong(), OriginAdvisory, "")
	require.ErrorIs(t, err, ErrDenied)
	assert.False(t, scalp.Running())
	alerts := h.alerts.Drain()
	assert.Equal(t, 1, countContaining(alerts, "] paused:"))
	assert.Equal(t, 1, countContaining(alerts, "entry denied"))
}

func TestGlobalStopPausesEverythingOnce(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetScalp, PresetMomentum)
	ctx := context.Background()
	h.risk.UpdatePortfolioValue(ctx, 200000)

	d.Tick(ctx)
	d.Tick(ctx)

	for _, s := range ss {
		assert.False(t, s.Running(), s.Name())
	}
	assert.Equal(t, 1, countContaining(h.alerts.Drain(), "GLOBAL STOP"))
	summary := d.PositionSummary()
	assert.True(t, summary.Stopped)
	assert.Equal(t, risk.LevelCritical, summary.Drawdown.Level)
	assert.InDelta(t, 50, summary.Drawdown.DrawdownPct, 1e-9)

	_, err := ss[0].Submit(ctx, ethLong(), OriginAdvisory, "")
	assert.ErrorIs(t, err, ErrDenied)

	require.NoError(t, d.Resume(ctx, ""))
	for _, s := range ss {
		assert.True(t, s.Running(), s.Name())
	}
	assert.False(t, d.PositionSummary().Stopped)
	assert.ErrorIs(t, d.Resume(ctx, "nope"), ErrUnknownStrategy)
}

func TestPositionSummaryAndExposures(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetScalp, PresetMomentum)
	ctx := context.Background()
	d.Tick(ctx)

	_, err := ss[0].Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)

	summary := d.PositionSummary()
	assert.Equal(t, h.now, summary.At)
	assert.InDelta(t, 100000, summary.Peak, 1e-6)
	assert.Equal(t, risk.LevelNormal, summary.Drawdown.Level)
	require.Len(t, summary.Strategies, 2)
	assert.Equal(t, PresetScalp, summary.Strategies[0].Name)
	assert.Len(t, summary.Strategies[0].Positions, 1)
	assert.Empty(t, summary.Strategies[1].Positions)

	exposures := d.Exposures()
	require.Len(t, exposures, 1)
	assert.Equal(t, PresetScalp, exposures[0].Strategy)
	assert.InDelta(t, 11100, exposures[0].Notional, 1)

	views := d.PositionViews()
	require.Len(t, views, 1)
	assert.Equal(t, "ETH", views[0].Symbol)
	assert.Equal(t, string(advisory.SideLong), views[0].Side)
}

func TestManualScan(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, _ := newDesk(t, h)
	_, err := d.ManualScan(context.Background(), "ETH")
	assert.Error(t, err)

	sc := &fakeScanner{}
	d = NewDesk(h.ex, h.risk, WithScanner(sc))
	got, err := d.ManualScan(context.Background(), "eth-perp")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH"}, sc.symbols)
	assert.Equal(t, "ETH", got.Snapshot.Symbol)
	assert.InDelta(t, 42, got.Score.Score, 1e-9)

	sc.err = errors.New("no candles")
	_, err = d.ManualScan(context.Background(), "ETH")
	assert.EqualError(t, err, "no candles")
}

func TestFlattenClosesAndPauses(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetScalp)
	ctx := context.Background()
	_, err := ss[0].Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)

	require.NoError(t, d.Flatten(ctx, "operator flatten"))
	assert.Empty(t, ss[0].View().Positions)
	assert.False(t, ss[0].Running())
	lessons := h.lessons(t)
	require.Len(t, lessons, 1)
	assert.Equal(t, ExitGlobalStop, lessons[0].ExitReason)
	venue, err := h.ex.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, venue)
}

func TestDeskManageRoutesToHoldingStrategy(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetScalp, PresetMomentum)
	scalp, momentum := ss[0], ss[1]
	ctx := context.Background()
	d.Deliver(ctx, regime.Proposal{DecisionID: "dec-9", Trade: ethLong()})
	require.Len(t, scalp.View().Positions, 1)

	require.NoError(t, d.Manage(ctx, advisory.ManagePosition{
		Symbol: "eth", Action: advisory.ActionMoveStop, NewStop: 2990, Reason: "tighten",
	}))
	assert.InDelta(t, 2990, onlyPosition(t, scalp).StopLoss, 1e-9)
	assert.Empty(t, momentum.View().Positions)

	err := d.Manage(ctx, advisory.ManagePosition{Symbol: "BTC", Action: advisory.ActionClose, Reason: "x"})
	assert.ErrorIs(t, err, ErrPositionNotFound)

	require.NoError(t, d.Manage(ctx, advisory.ManagePosition{Symbol: "ETH", Action: advisory.ActionClose, Reason: "thesis broken"}))
	assert.Empty(t, scalp.View().Positions)
	lessons := h.lessons(t)
	require.Len(t, lessons, 1)
	assert.Equal(t, ExitAdvisory, lessons[0].ExitReason)
}

func TestDeskPositionCommandsByID(t *testing.T) {
	h := newHarness(t, defaultLimits())
	d, ss := newDesk(t, h, PresetScalp)
	ctx := context.Background()
	d.Deliver(ctx, regime.Proposal{Trade: ethLong()})
	pos := onlyPosition(t, ss[0])

	assert.ErrorIs(t, d.MoveStop(ctx, pos.ID, 3200), ErrInvalidStop)
	require.NoError(t, d.MoveStop(ctx, pos.ID, 2980))
	assert.InDelta(t, 2980, onlyPosition(t, ss[0]).StopLoss, 1e-9)

	require.NoError(t, d.ClosePosition(ctx, pos.ID, "operator close"))
	assert.Empty(t, ss[0].View().Positions)
	assert.ErrorIs(t, d.ClosePosition(ctx, pos.ID, ""), ErrPositionNotFound)
	assert.ErrorIs(t, d.MoveStop(ctx, "missing", 2980), ErrPositionNotFound)
}
