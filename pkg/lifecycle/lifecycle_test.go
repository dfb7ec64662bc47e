package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/advisory"
	"perpcore/pkg/cooldown"
	"perpcore/pkg/exchange"
	"perpcore/pkg/exchange/sim"
	"perpcore/pkg/notify"
	"perpcore/pkg/regime"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
	"perpcore/pkg/store/memory"
)

type harness struct {
	ex      *sim.Provider
	risk    *risk.Manager
	store   *memory.Store
	alerts  *notify.Recorder
	limiter *cooldown.Limiter
	now     time.Time
	state   *regime.MarketState
}

func newHarness(t *testing.T, limits risk.Limits) *harness {
	t.Helper()
	h := &harness{
		ex:     sim.New(sim.WithInitialEquity(100000), sim.WithSlippage(0)),
		risk:   risk.NewManager(limits),
		store:  memory.New(),
		alerts: notify.NewRecorder(64),
		now:    time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		state:  regime.InitialState(),
	}
	h.limiter = cooldown.New(cooldown.Config{}, cooldown.WithClock(h.clock))
	require.NoError(t, h.ex.SetMarkPrice("ETH", 3000))
	require.NoError(t, h.ex.SetMarkPrice("BTC", 60000))
	return h
}

func defaultLimits() risk.Limits {
	return risk.Limits{MaxGlobalDrawdownPct: 25, MaxPositionSizePct: 20, MaxLeverage: 5}
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) strategy(t *testing.T, preset string) *Strategy {
	t.Helper()
	return h.strategyOn(t, preset, h.ex)
}

func (h *harness) strategyOn(t *testing.T, preset string, ex exchange.Client) *Strategy {
	t.Helper()
	policy, ok := Preset(preset)
	require.True(t, ok)
	s, err := NewStrategy(policy, ex, h.risk,
		WithStore(h.store),
		WithLimiter(h.limiter),
		WithAlerts(h.alerts),
		WithMarketState(func() *regime.MarketState { return h.state }),
		WithClock(h.clock),
	)
	require.NoError(t, err)
	return s
}

func ethLong() advisory.ProposeTrade {
	return advisory.ProposeTrade{
		Symbol: "ETH", Side: advisory.SideLong,
		Entry: 3000, StopLoss: 2940, TakeProfit: 3150,
		SizePct: 0.3, Leverage: 3, Confidence: "medium", Rationale: "breakout",
	}
}

func (h *harness) lessons(t *testing.T) []Lesson {
	t.Helper()
	entries, err := h.store.Recent(context.Background(), store.KindLesson, "", 0)
	require.NoError(t, err)
	out := make([]Lesson, 0, len(entries))
	for _, e := range entries {
		var l Lesson
		require.NoError(t, e.Decode(&l))
		out = append(out, l)
	}
	return out
}

func onlyPosition(t *testing.T, s *Strategy) Position {
	t.Helper()
	positions := s.View().Positions
	require.Len(t, positions, 1)
	return positions[0]
}

func countContaining(alerts []string, sub string) int {
	n := 0
	for _, a := range alerts {
		if strings.Contains(a, sub) {
			n++
		}
	}
	return n
}

func TestAutoExecuteOpensPositionWithTriggers(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)

	p, err := s.Submit(context.Background(), ethLong(), OriginAdvisory, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, p.Status)

	pos := onlyPosition(t, s)
	assert.Equal(t, "ETH", pos.Symbol)
	assert.Equal(t, p.ID, pos.ProposalID)
	assert.InDelta(t, 3.7, pos.Size, 1e-3)
	assert.Equal(t, 3, pos.Leverage)
	assert.InDelta(t, 3000, pos.Entry, 1e-9)
	assert.NotEmpty(t, pos.StopOrderID)
	assert.NotEmpty(t, pos.TargetOrderID)
	assert.Len(t, h.ex.Triggers("ETH"), 2)
	assert.Empty(t, s.View().Proposals)

	var saved []Position
	found, err := h.store.Load(context.Background(), PresetScalp, keyPositions, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s.View().Positions, saved)

	logged, err := h.store.Recent(context.Background(), store.KindProposal, "ETH", 0)
	require.NoError(t, err)
	assert.Len(t, logged, 2, "created and executed")
}

func TestApprovalGatedProposal(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetDiscretionary)
	ctx := context.Background()

	p, err := s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Empty(t, s.View().Positions)
	assert.Equal(t, 0, h.ex.Calls(sim.OpPlaceOrder))
	assert.Equal(t, 1, countContaining(h.alerts.Drain(), "awaiting approval"))

	approved, err := s.Approve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, approved.Status)
	require.Len(t, s.View().Positions, 1)

	_, err = s.Approve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProposalNotFound)
	_, err = s.Reject(ctx, p.ID, "late")
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func TestModifyResizesBeforeExecution(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetDiscretionary)
	ctx := context.Background()

	p, err := s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)

	size := 0.05
	got, err := s.Modify(ctx, p.ID, Changes{SizePct: &size})
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, got.Status)
	assert.InDelta(t, 1.5, onlyPosition(t, s).Size, 1e-3)
}

func TestModifyRejectsInvalidChanges(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetDiscretionary)
	ctx := context.Background()

	p, err := s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)

	stop := 3100.0
	_, err = s.Modify(ctx, p.ID, Changes{StopLoss: &stop})
	assert.ErrorIs(t, err, ErrInvalidProposal)
	require.Len(t, s.View().Proposals, 1)
	assert.Equal(t, StatusPending, s.View().Proposals[0].Status)
	assert.InDelta(t, 2940, s.View().Proposals[0].StopLoss, 1e-9)
}

func TestRejectIsTerminal(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetDiscretionary)
	ctx := context.Background()

	p, err := s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)
	got, err := s.Reject(ctx, p.ID, "no conviction")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "no conviction", got.Reason)
	assert.Empty(t, s.View().Proposals)
}

func TestRiskDenialHasNoSideEffects(t *testing.T) {
	limits := defaultLimits()
	limits.MaxLeverage = 0.1
	h := newHarness(t, limits)
	s := h.strategy(t, PresetScalp)

	p, err := s.Submit(context.Background(), ethLong(), OriginAdvisory, "")
	require.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), risk.CheckTotalLeverage)
	assert.Equal(t, StatusRejected, p.Status)
	assert.Empty(t, s.View().Positions)
	assert.Equal(t, 0, h.ex.Calls(sim.OpPlaceOrder))
	assert.Equal(t, 0, h.ex.Calls(sim.OpLeverage))
	assert.Equal(t, 1, countContaining(h.alerts.Drain(), "entry denied"))
}

func TestCrossExposureCountsOtherStrategies(t *testing.T) {
	h := newHarness(t, defaultLimits())
	desk := NewDesk(h.ex, h.risk)
	scalp := h.strategy(t, PresetScalp)
	momentum := h.strategy(t, PresetMomentum)
	require.NoError(t, desk.Register(scalp))
	require.NoError(t, desk.Register(momentum))
	ctx := context.Background()

	big := ethLong()
	big.SizePct = 1
	big.Leverage = 8
	_, err := scalp.Submit(ctx, big, OriginAdvisory, "")
	require.NoError(t, err)

	_, err = momentum.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), risk.CheckCrossExposure)
	assert.Empty(t, momentum.View().Positions)

	require.NoError(t, scalp.Close(ctx, onlyPosition(t, scalp).ID, ExitManual))
	_, err = momentum.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	assert.Len(t, momentum.View().Positions, 1)
}

func TestDirectiveGatesEntry(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()

	h.state = regime.InitialState()
	h.state.Directives[PresetScalp] = regime.Directive{Active: false}
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	assert.ErrorIs(t, err, ErrDenied)

	h.state = regime.InitialState()
	h.state.Directives[PresetScalp] = regime.Directive{Active: true, Bias: regime.BiasShort}
	_, err = s.Submit(ctx, ethLong(), OriginAdvisory, "")
	assert.ErrorIs(t, err, ErrDenied)

	h.state = regime.InitialState()
	h.state.Directives[PresetScalp] = regime.Directive{Active: true, Bias: regime.BiasLong, MaxLeverage: 2}
	_, err = s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	assert.Equal(t, 2, onlyPosition(t, s).Leverage)
}

func TestPausedStrategyDeniesEntries(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()

	s.Pause(ctx, "maintenance")
	assert.False(t, s.Running())
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	assert.ErrorIs(t, err, ErrDenied)

	s.Resume(ctx)
	_, err = s.Submit(ctx, ethLong(), OriginAdvisory, "")
	assert.NoError(t, err)
}

func TestTriggerFailureKeepsPosition(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	h.ex.FailNext(sim.OpTrigger, 2)

	_, err := s.Submit(context.Background(), ethLong(), OriginAdvisory, "")
	require.NoError(t, err)

	pos := onlyPosition(t, s)
	assert.Empty(t, pos.StopOrderID)
	assert.Empty(t, pos.TargetOrderID)
	assert.Equal(t, 2, countContaining(h.alerts.Drain(), "WARNING"))
}

func TestCloseOfStalePositionSendsNoOrder(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	pos := onlyPosition(t, s)

	require.NoError(t, h.ex.SetMarkPrice("ETH", 3150))
	h.ex.ForceFlat("ETH")
	orders := h.ex.Calls(sim.OpPlaceOrder)

	require.NoError(t, s.Close(ctx, pos.ID, ExitManual))
	assert.Equal(t, orders, h.ex.Calls(sim.OpPlaceOrder))
	assert.Empty(t, s.View().Positions)

	lessons := h.lessons(t)
	require.Len(t, lessons, 1)
	assert.Equal(t, ExitExchange, lessons[0].ExitReason)
	assert.Greater(t, lessons[0].PnL, 0.0)
	assert.Equal(t, 1, s.View().Stats.Wins)
}

func TestPartialCloseUsesSmallerVenueSize(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	pos := onlyPosition(t, s)

	h.ex.SetPositionSize("ETH", 2)
	require.NoError(t, s.PartialClose(ctx, pos.ID, 0.5))

	after := onlyPosition(t, s)
	assert.InDelta(t, 1, after.Size, 1e-9)
	venue, err := h.ex.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, venue, 1)
	assert.InDelta(t, 1, venue[0].Size, 1e-9)
	assert.Empty(t, h.lessons(t), "partial close is not an outcome")
}

func TestMoveStopReplacesTrigger(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	before := onlyPosition(t, s)

	require.NoError(t, s.MoveStop(ctx, before.ID, 3000))
	after := onlyPosition(t, s)
	assert.InDelta(t, 3000, after.StopLoss, 1e-9)
	assert.NotEqual(t, before.StopOrderID, after.StopOrderID)

	var stops []float64
	for _, tr := range h.ex.Triggers("ETH") {
		if tr.Kind == exchange.TriggerStopLoss {
			stops = append(stops, tr.TriggerPrice)
		}
	}
	assert.Equal(t, []float64{3000}, stops)

	assert.Error(t, s.MoveStop(ctx, before.ID, 3200), "stop beyond target")
}

func TestManageRoutesAdvisoryActions(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)

	require.NoError(t, s.Manage(ctx, advisory.ManagePosition{Symbol: "eth", Action: advisory.ActionHold, Reason: "x"}))
	require.NoError(t, s.Manage(ctx, advisory.ManagePosition{Symbol: "ETH", Action: advisory.ActionClose, Reason: "x"}))
	assert.Empty(t, s.View().Positions)
	assert.ErrorIs(t, s.Manage(ctx, advisory.ManagePosition{Symbol: "ETH", Action: advisory.ActionClose}), ErrPositionNotFound)
}

func TestForceCloseAfterMaxHold(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)

	h.advance(time.Hour)
	s.Tick(ctx)
	require.Len(t, s.View().Positions, 1)

	h.advance(90 * time.Minute)
	s.Tick(ctx)
	assert.Empty(t, s.View().Positions)
	lessons := h.lessons(t)
	require.Len(t, lessons, 1)
	assert.Equal(t, ExitMaxHold, lessons[0].ExitReason)
}

func TestForceCloseRetriesThenAlertsOnce(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	h.alerts.Drain()

	h.advance(3 * time.Hour)
	h.ex.FailNext(sim.OpPlaceOrder, 100)
	for i := 0; i < 5; i++ {
		s.Tick(ctx)
	}

	pos := onlyPosition(t, s)
	assert.Equal(t, MaxCloseAttempts, pos.CloseAttempts)
	assert.True(t, pos.Flagged)
	assert.NotEmpty(t, pos.LastCloseError)
	assert.Equal(t, 1+MaxCloseAttempts, h.ex.Calls(sim.OpPlaceOrder))
	assert.Equal(t, 1, countContaining(h.alerts.Drain(), "ACTION REQUIRED"))

	var saved []Position
	_, err = h.store.Load(ctx, PresetScalp, keyPositions, &saved)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Flagged)
}

func TestForceCloseRecognisesTriggerFill(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)

	h.advance(3 * time.Hour)
	h.ex.FailNext(sim.OpPlaceOrder, 1)
	s.Tick(ctx)
	assert.Equal(t, 1, onlyPosition(t, s).CloseAttempts)

	require.NoError(t, h.ex.SetMarkPrice("ETH", 2900))
	h.ex.ForceFlat("ETH")
	s.Tick(ctx)
	assert.Empty(t, s.View().Positions)
	lessons := h.lessons(t)
	require.Len(t, lessons, 1)
	assert.InDelta(t, 2940, lessons[0].Exit, 1e-9, "stop price inferred from the mid")
	assert.Zero(t, countContaining(h.alerts.Drain(), "ACTION REQUIRED"))
}

func closeAt(t *testing.T, h *harness, s *Strategy, price float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ex.SetMarkPrice("ETH", 3000))
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	pos := s.View().Positions[len(s.View().Positions)-1]
	require.NoError(t, h.ex.SetMarkPrice("ETH", price))
	require.NoError(t, s.Close(ctx, pos.ID, ExitManual))
}

func TestLossLadderReducesThenPausesThenResumes(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		closeAt(t, h, s, 2970)
	}
	v := s.View()
	assert.Equal(t, 3, v.Stats.ConsecutiveLosses)
	assert.InDelta(t, 0.5, v.Control.SizeMultiplier, 1e-9)
	assert.Equal(t, StateRunning, v.Control.State)
	assert.Equal(t, 3, h.limiter.ConsecutiveLosses())

	closeAt(t, h, s, 2970)
	v = s.View()
	assert.Equal(t, StatePaused, v.Control.State)
	assert.Equal(t, h.now.Add(2*time.Hour), v.Control.PausedUntil)
	assert.Equal(t, 1, countContaining(h.alerts.Drain(), "paused after"))

	h.advance(2 * time.Hour)
	s.Tick(ctx)
	v = s.View()
	assert.Equal(t, StateRunning, v.Control.State)
	assert.InDelta(t, 0.5, v.Control.SizeMultiplier, 1e-9)

	require.NoError(t, h.ex.SetMarkPrice("ETH", 3000))
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	assert.InDelta(t, 1.85, onlyPosition(t, s).Size, 0.02, "half size after the ladder")

	require.NoError(t, h.ex.SetMarkPrice("ETH", 3100))
	require.NoError(t, s.Close(ctx, onlyPosition(t, s).ID, ExitManual))
	v = s.View()
	assert.Zero(t, v.Stats.ConsecutiveLosses)
	assert.InDelta(t, 1, v.Control.SizeMultiplier, 1e-9)
	assert.Zero(t, h.limiter.ConsecutiveLosses())
}

func TestDailyPnLResetsAtUTCMidnight(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	closeAt(t, h, s, 2970)
	require.Less(t, s.View().Stats.DailyPnL, 0.0)

	s.Tick(context.Background())
	assert.Less(t, s.View().Stats.DailyPnL, 0.0, "same day roll is a no-op")

	h.advance(15 * time.Hour)
	s.Tick(context.Background())
	assert.Zero(t, s.View().Stats.DailyPnL)
	assert.Less(t, s.View().Stats.RealizedPnL, 0.0)
}

func TestProposalExpirySweep(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetDiscretionary)
	ctx := context.Background()
	p, err := s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)

	h.advance(29 * time.Minute)
	s.Tick(ctx)
	require.Len(t, s.View().Proposals, 1)

	h.advance(time.Minute)
	s.Tick(ctx)
	assert.Empty(t, s.View().Proposals)
	_, err = s.Approve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func TestRestoreIsVerbatim(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetDiscretionary)
	ctx := context.Background()
	p, err := s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)
	_, err = s.Approve(ctx, p.ID)
	require.NoError(t, err)
	_, err = s.Submit(ctx, ethLong(), OriginManual, "")
	require.NoError(t, err)
	s.Pause(ctx, "operator")

	restored := h.strategy(t, PresetDiscretionary)
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, s.View().Positions, restored.View().Positions)
	assert.Equal(t, s.View().Proposals, restored.View().Proposals)
	assert.Equal(t, s.View().Stats, restored.View().Stats)
	assert.Equal(t, StatePaused, restored.View().Control.State)
	assert.Equal(t, "operator", restored.View().Control.Reason)
}

func TestSubmitRejectsForeignSymbol(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetEquityCross)
	_, err := s.Submit(context.Background(), ethLong(), OriginManual, "")
	assert.ErrorIs(t, err, ErrInvalidProposal)
}

// lostAck fills entry orders on the paper exchange but reports a timeout,
// like a venue reply lost in transit.
type lostAck struct {
	*sim.Provider
	fill bool
}

func (l lostAck) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderResult, error) {
	if l.fill {
		if _, err := l.Provider.PlaceOrder(ctx, spec); err != nil {
			return exchange.OrderResult{}, err
		}
	}
	return exchange.OrderResult{}, context.DeadlineExceeded
}

func TestEntryTimeoutAfterFillAdoptsVenuePosition(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategyOn(t, PresetScalp, lostAck{Provider: h.ex, fill: true})
	ctx := context.Background()

	p, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, p.Status)

	venue, err := h.ex.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, venue, 1)

	pos := onlyPosition(t, s)
	assert.InDelta(t, venue[0].AbsSize(), pos.Size, 1e-9)
	assert.NotEmpty(t, pos.StopOrderID)
	assert.NotEmpty(t, pos.TargetOrderID)
	assert.Len(t, h.ex.Triggers("ETH"), 2)
	assert.Equal(t, 1, countContaining(h.alerts.Drain(), "adopted as position"))

	var saved []Position
	_, err = h.store.Load(ctx, PresetScalp, keyPositions, &saved)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestEntryTimeoutWithoutFillRejects(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategyOn(t, PresetScalp, lostAck{Provider: h.ex})

	p, err := s.Submit(context.Background(), ethLong(), OriginAdvisory, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusRejected, p.Status)
	assert.Empty(t, s.View().Positions)
	assert.Empty(t, h.ex.Triggers("ETH"))
}

func TestMoveStopOnStalePositionPlacesNoTrigger(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	pos := onlyPosition(t, s)

	h.ex.ForceFlat("ETH")
	triggers := h.ex.Calls(sim.OpTrigger)

	assert.ErrorIs(t, s.MoveStop(ctx, pos.ID, 2990), ErrStalePosition)
	assert.Equal(t, triggers, h.ex.Calls(sim.OpTrigger))
	assert.Empty(t, s.View().Positions)
	require.Len(t, h.lessons(t), 1)
	assert.Equal(t, ExitExchange, h.lessons(t)[0].ExitReason)
}

func TestBreakevenCloseIsNotALoss(t *testing.T) {
	h := newHarness(t, defaultLimits())
	s := h.strategy(t, PresetScalp)
	ctx := context.Background()
	closeAt(t, h, s, 2970)
	require.Equal(t, 1, s.View().Stats.ConsecutiveLosses)

	require.NoError(t, h.ex.SetMarkPrice("ETH", 3000))
	_, err := s.Submit(ctx, ethLong(), OriginAdvisory, "")
	require.NoError(t, err)
	pos := onlyPosition(t, s)
	h.ex.ForceFlat("ETH")
	h.ex.FailNext(sim.OpMids, 1)

	require.NoError(t, s.Close(ctx, pos.ID, ExitManual))
	assert.Empty(t, s.View().Positions)

	lessons := h.lessons(t)
	require.Len(t, lessons, 2)
	assert.Zero(t, lessons[0].PnL, "exit falls back to entry")

	v := s.View()
	assert.Equal(t, 2, v.Stats.Trades)
	assert.Equal(t, 1, v.Stats.Losses)
	assert.Zero(t, v.Stats.Wins)
	assert.Equal(t, 1, v.Stats.ConsecutiveLosses)
	assert.Equal(t, 1, h.limiter.ConsecutiveLosses())
	assert.InDelta(t, 1, v.Control.SizeMultiplier, 1e-9)
}
