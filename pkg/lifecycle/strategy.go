// Package lifecycle turns trade proposals into managed positions. One
// Strategy runs per policy; the Desk aggregates them for the command surface
// and the portfolio-wide stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/advisory"
	"perpcore/pkg/cooldown"
	"perpcore/pkg/exchange"
	"perpcore/pkg/notify"
	"perpcore/pkg/regime"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
)

const (
	// MaxCloseAttempts bounds forced-close retries per position.
	MaxCloseAttempts = 3

	defaultCallTimeout = 10 * time.Second

	keyPositions = "positions"
	keyStats     = "stats"
	keyControl   = "control"
	keyProposals = "proposals"
)

var (
	ErrPositionNotFound = errors.New("lifecycle: position not found")
	ErrStalePosition    = errors.New("lifecycle: position already closed on exchange")
	ErrDenied           = errors.New("lifecycle: entry denied")
	ErrInvalidStop      = errors.New("lifecycle: invalid stop")
)

// RunState is the strategy's scheduling state.
type RunState string

const (
	StateRunning RunState = "running"
	StatePaused  RunState = "paused"
)

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	OpenPositions(strategy string, n int)
	ForceCloseFailed(strategy string)
	TradeClosed(strategy string, pnl float64)
}

// Control is the persisted pause state and loss-ladder size multiplier.
type Control struct {
	State          RunState  `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	PausedUntil    time.Time `json:"paused_until,omitempty"`
	SizeMultiplier float64   `json:"size_multiplier"`
}

// View is a consistent read-only copy of a strategy, published after every
// mutation.
type View struct {
	Name      string          `json:"name"`
	Policy    Policy          `json:"policy"`
	Control   Control         `json:"control"`
	Stats     Stats           `json:"stats"`
	Positions []Position      `json:"positions"`
	Proposals []TradeProposal `json:"proposals"`
}

// Strategy owns one policy's proposals and positions. Mutations are
// serialised by mu; the pause state has its own lock so risk checks can
// pause a strategy mid-execution.
type Strategy struct {
	policy      Policy
	ex          exchange.Client
	risk        *risk.Manager
	limiter     *cooldown.Limiter
	states      store.StateStore
	logs        store.LogStore
	alerts      notify.Sink
	market      func() *regime.MarketState
	exposures   func() []risk.Exposure
	observer    Observer
	clock       func() time.Time
	callTimeout time.Duration

	mu        sync.Mutex
	positions map[string]*Position
	proposals map[string]*TradeProposal
	stats     Stats

	ctlMu   sync.Mutex
	control Control

	view atomic.Pointer[View]
}

// Option customises a Strategy.
type Option func(*Strategy)

// WithStore persists state and appends proposal and lesson logs.
func WithStore(s store.Store) Option {
	return func(st *Strategy) {
		st.states = s
		st.logs = s
	}
}

// WithLimiter feeds trade outcomes to an advisory cooldown limiter.
func WithLimiter(l *cooldown.Limiter) Option { return func(s *Strategy) { s.limiter = l } }

// WithAlerts sets the operator alert sink.
func WithAlerts(sink notify.Sink) Option {
	return func(s *Strategy) {
		if sink != nil {
			s.alerts = sink
		}
	}
}

// WithMarketState reads directives from the regime brain.
func WithMarketState(fn func() *regime.MarketState) Option {
	return func(s *Strategy) { s.market = fn }
}

// WithExposures supplies the open positions of every strategy for the
// cross-exposure and total-leverage checks.
func WithExposures(fn func() []risk.Exposure) Option {
	return func(s *Strategy) { s.exposures = fn }
}

// WithObserver reports lifecycle events.
func WithObserver(o Observer) Option { return func(s *Strategy) { s.observer = o } }

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Strategy) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCallTimeout bounds every exchange call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// NewStrategy builds a strategy from a normalised policy.
func NewStrategy(policy Policy, ex exchange.Client, riskMgr *risk.Manager, opts ...Option) (*Strategy, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	if ex == nil {
		return nil, errors.New("lifecycle: exchange client is required")
	}
	if riskMgr == nil {
		return nil, errors.New("lifecycle: risk manager is required")
	}
	s := &Strategy{
		policy:      policy,
		ex:          ex,
		risk:        riskMgr,
		alerts:      notify.Noop{},
		market:      regime.InitialState,
		clock:       time.Now,
		callTimeout: defaultCallTimeout,
		positions:   make(map[string]*Position),
		proposals:   make(map[string]*TradeProposal),
		control:     Control{State: StateRunning, SizeMultiplier: 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

// Name returns the policy name.
func (s *Strategy) Name() string { return s.policy.Name }

// Policy returns the policy.
func (s *Strategy) Policy() Policy { return s.policy }

// View returns the last published view.
func (s *Strategy) View() *View { return s.view.Load() }

// Running reports whether new entries are accepted.
func (s *Strategy) Running() bool {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	return s.control.State == StateRunning
}

// Restore loads persisted positions, proposals, stats and control state.
func (s *Strategy) Restore(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var positions []Position
	if _, err := s.states.Load(ctx, s.policy.Name, keyPositions, &positions); err != nil {
		return fmt.Errorf("lifecycle: restore %s positions: %w", s.policy.Name, err)
	}
	var proposals []TradeProposal
	if _, err := s.states.Load(ctx, s.policy.Name, keyProposals, &proposals); err != nil {
		return fmt.Errorf("lifecycle: restore %s proposals: %w", s.policy.Name, err)
	}
	var stats Stats
	if _, err := s.states.Load(ctx, s.policy.Name, keyStats, &stats); err != nil {
		return fmt.Errorf("lifecycle: restore %s stats: %w", s.policy.Name, err)
	}
	var ctl Control
	found, err := s.states.Load(ctx, s.policy.Name, keyControl, &ctl)
	if err != nil {
		return fmt.Errorf("lifecycle: restore %s control: %w", s.policy.Name, err)
	}

	s.positions = make(map[string]*Position, len(positions))
	for i := range positions {
		p := positions[i]
		s.positions[p.ID] = &p
	}
	s.proposals = make(map[string]*TradeProposal, len(proposals))
	for i := range proposals {
		p := proposals[i]
		if !p.Status.Terminal() {
			s.proposals[p.ID] = &p
		}
	}
	s.stats = stats
	if found {
		if ctl.SizeMultiplier <= 0 {
			ctl.SizeMultiplier = 1
		}
		s.ctlMu.Lock()
		s.control = ctl
		s.ctlMu.Unlock()
	}
	s.publishLocked()
	logx.WithContext(ctx).Infof("lifecycle: %s restored %d position(s), %d proposal(s)", s.policy.Name, len(s.positions), len(s.proposals))
	return nil
}

// Pause stops new entries until Resume. Open positions are still managed.
func (s *Strategy) Pause(ctx context.Context, reason string) {
	s.pauseUntil(ctx, reason, time.Time{})
}

// Resume re-enables entries. The loss-ladder size multiplier is kept.
func (s *Strategy) Resume(ctx context.Context) {
	s.ctlMu.Lock()
	s.control.State = StateRunning
	s.control.Reason = ""
	s.control.PausedUntil = time.Time{}
	ctl := s.control
	s.ctlMu.Unlock()
	s.saveControl(ctx, ctl)
	s.refreshView()
	logx.WithContext(ctx).Infof("lifecycle: %s resumed at size x%.2f", s.policy.Name, ctl.SizeMultiplier)
}

func (s *Strategy) pauseUntil(ctx context.Context, reason string, until time.Time) {
	s.ctlMu.Lock()
	s.control.State = StatePaused
	s.control.Reason = reason
	s.control.PausedUntil = until
	ctl := s.control
	s.ctlMu.Unlock()
	s.saveControl(ctx, ctl)
	s.refreshView()
	logx.WithContext(ctx).Infof("lifecycle: %s paused: %s", s.policy.Name, reason)
}

// Submit records an advisory or manual trade idea. Auto-executing policies
// execute it immediately; the rest wait for Approve.
func (s *Strategy) Submit(ctx context.Context, trade advisory.ProposeTrade, origin, decisionID string) (TradeProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	p, err := NewProposal(s.policy.Name, origin, trade, now, s.policy.ProposalTTL)
	if err != nil {
		return TradeProposal{}, err
	}
	if !s.policy.Accepts(p.Symbol) {
		return TradeProposal{}, fmt.Errorf("%w: %s does not trade %s", ErrInvalidProposal, s.policy.Name, p.Symbol)
	}
	p.DecisionID = decisionID
	s.proposals[p.ID] = &p
	s.appendLog(ctx, store.KindProposal, p.Symbol, p)

	if s.policy.AutoExecute {
		if err := p.transition(StatusApproved, "auto", now); err != nil {
			return p, err
		}
		err := s.executeLocked(ctx, &p)
		return p, err
	}
	s.persistLocked(ctx)
	s.publishLocked()
	s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] proposal %s awaiting approval: %s %s entry %.4f stop %.4f target %.4f size %.0f%% (%s)",
		s.policy.Name, p.ID, p.Side, p.Symbol, p.Entry, p.StopLoss, p.TakeProfit, p.SizePct*100, p.Rationale))
	return p, nil
}

// Approve executes a pending proposal.
func (s *Strategy) Approve(ctx context.Context, id string) (TradeProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return TradeProposal{}, ErrProposalNotFound
	}
	if err := p.transition(StatusApproved, "approved", s.clock()); err != nil {
		return *p, err
	}
	err := s.executeLocked(ctx, p)
	return *p, err
}

// Modify applies changes to a pending proposal and executes it.
func (s *Strategy) Modify(ctx context.Context, id string, changes Changes) (TradeProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return TradeProposal{}, ErrProposalNotFound
	}
	if p.Status != StatusPending {
		return *p, fmt.Errorf("%w: %s", ErrNotPending, p.Status)
	}
	if err := p.apply(changes); err != nil {
		return *p, err
	}
	if err := p.transition(StatusModified, "modified", s.clock()); err != nil {
		return *p, err
	}
	err := s.executeLocked(ctx, p)
	return *p, err
}

// Reject discards a pending proposal.
func (s *Strategy) Reject(ctx context.Context, id, reason string) (TradeProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return TradeProposal{}, ErrProposalNotFound
	}
	if err := p.transition(StatusRejected, reason, s.clock()); err != nil {
		return *p, err
	}
	s.retireLocked(ctx, p)
	return *p, nil
}

// executeLocked sizes, gates and places an approved proposal. Any failure
// rejects the proposal; denials leave the exchange untouched.
func (s *Strategy) executeLocked(ctx context.Context, p *TradeProposal) error {
	pos, err := s.openLocked(ctx, p)
	if err != nil {
		_ = p.transition(StatusRejected, err.Error(), s.clock())
		s.retireLocked(ctx, p)
		logx.WithContext(ctx).Infof("lifecycle: %s proposal %s rejected: %v", s.policy.Name, p.ID, err)
		return err
	}
	_ = p.transition(StatusExecuted, pos.ID, s.clock())
	s.positions[pos.ID] = pos
	s.retireLocked(ctx, p)
	s.observeOpen()
	logx.WithContext(ctx).Infof("lifecycle: %s opened %s %s %.6f @ %.4f x%d (position %s)",
		s.policy.Name, pos.Side, pos.Symbol, pos.Size, pos.Entry, pos.Leverage, pos.ID)
	return nil
}

func (s *Strategy) openLocked(ctx context.Context, p *TradeProposal) (*Position, error) {
	name := s.policy.Name
	if !s.Running() {
		return nil, fmt.Errorf("%w: strategy %s is paused", ErrDenied, name)
	}
	if len(s.positions) >= s.policy.MaxPositions {
		return nil, fmt.Errorf("%w: %s already holds %d position(s)", ErrDenied, name, len(s.positions))
	}
	directive := s.market().Directive(name)
	if !directive.Active {
		return nil, fmt.Errorf("%w: %s is inactive under the current regime", ErrDenied, name)
	}
	if directive.Bias != regime.BiasNeutral && directive.Bias != "" && directive.Bias != string(p.Side) {
		return nil, fmt.Errorf("%w: directive bias %s opposes %s", ErrDenied, directive.Bias, p.Side)
	}
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = s.policy.DefaultLeverage
	}
	leverage = min(leverage, s.policy.MaxLeverage)
	if directive.MaxLeverage > 0 {
		leverage = min(leverage, directive.MaxLeverage)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	balances, err := s.ex.GetBalances(callCtx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: balances: %w", err)
	}
	decimals, err := s.ex.GetSzDecimals(callCtx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: size decimals for %s: %w", p.Symbol, err)
	}

	balance := balances.AccountValue
	s.stats.Capital = balance * s.policy.AllocationPct / 100
	sizing := Size(SizeInput{
		Allocated:      s.stats.Capital,
		ProposedSize:   p.SizePct,
		WinRate:        s.stats.WinRate(s.policy.PriorWinRate, s.policy.MinTrades),
		RiskReward:     p.RiskReward(),
		KellyMult:      s.policy.KellyMultiplier,
		Floor:          s.policy.SizeFloor,
		SizeMultiplier: s.sizeMultiplier(),
		Leverage:       leverage,
		Entry:          p.Entry,
		SzDecimals:     decimals,
	})
	if sizing.Quantity <= 0 {
		return nil, fmt.Errorf("%w: size rounds to zero (capital %.2f, fraction %.4f)", ErrDenied, sizing.CapitalAtRisk, sizing.Fraction)
	}
	if err := s.gate(ctx, p.Symbol, sizing, balance); err != nil {
		return nil, err
	}

	if err := s.ex.UpdateLeverage(callCtx, p.Symbol, sizing.Leverage, true); err != nil {
		return nil, fmt.Errorf("lifecycle: set leverage %s x%d: %w", p.Symbol, sizing.Leverage, err)
	}
	venue, err := s.ex.GetPositions(callCtx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: positions before %s entry: %w", p.Symbol, err)
	}
	before := sideSize(venue, p.Symbol, p.Long())
	res, err := s.ex.PlaceOrder(callCtx, exchange.OrderSpec{
		Symbol:   p.Symbol,
		IsBuy:    p.Long(),
		Size:     sizing.Quantity,
		ClientID: p.ID,
	})
	if err == nil && !res.Filled {
		err = fmt.Errorf("not filled: %s", res.Error)
	}
	if err != nil {
		return s.adoptUnconfirmedLocked(ctx, p, sizing.Leverage, before, err)
	}

	pos := &Position{
		ID:         uuid.NewString(),
		Strategy:   name,
		ProposalID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Entry:      p.Entry,
		Size:       sizing.Quantity,
		Leverage:   sizing.Leverage,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Rationale:  p.Rationale,
		OpenedAt:   s.clock(),
	}
	if res.AvgPrice > 0 {
		pos.Entry = res.AvgPrice
	}
	if res.FilledSize > 0 {
		pos.Size = res.FilledSize
	}
	s.attachTriggers(ctx, pos)
	return pos, nil
}

// adoptUnconfirmedLocked handles an entry order whose result was an error.
// The venue is re-read: if the side grew past before, the fill is adopted at
// the venue size and protected; otherwise orderErr is returned.
func (s *Strategy) adoptUnconfirmedLocked(ctx context.Context, p *TradeProposal, leverage int, before float64, orderErr error) (*Position, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	venue, err := s.ex.GetPositions(callCtx)
	if err != nil {
		logx.WithContext(ctx).Errorf("lifecycle: %s verify %s entry after %v: %v", s.policy.Name, p.Symbol, orderErr, err)
		s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] ACTION REQUIRED %s entry order failed (%v) and the exchange could not be checked: %v",
			s.policy.Name, p.Symbol, orderErr, err))
		return nil, fmt.Errorf("lifecycle: place %s order: %w", p.Symbol, orderErr)
	}
	filled := sideSize(venue, p.Symbol, p.Long()) - before
	if filled <= 0 {
		return nil, fmt.Errorf("lifecycle: place %s order: %w", p.Symbol, orderErr)
	}

	pos := &Position{
		ID:         uuid.NewString(),
		Strategy:   s.policy.Name,
		ProposalID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Entry:      p.Entry,
		Size:       filled,
		Leverage:   leverage,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Rationale:  p.Rationale,
		OpenedAt:   s.clock(),
	}
	if px := venueEntry(venue, p.Symbol); px > 0 && before == 0 {
		pos.Entry = px
	}
	s.attachTriggers(context.WithoutCancel(ctx), pos)
	logx.WithContext(ctx).Errorf("lifecycle: %s %s order returned %v but %.6f filled on the exchange, adopting as %s",
		s.policy.Name, p.Symbol, orderErr, filled, pos.ID)
	s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] %s %s order reported %v but filled %.6f on the exchange; adopted as position %s",
		s.policy.Name, p.Side, p.Symbol, orderErr, filled, pos.ID))
	return pos, nil
}

// gate runs every portfolio check for a new entry.
func (s *Strategy) gate(ctx context.Context, symbol string, sizing Sizing, balance float64) error {
	stats := risk.StrategyStats{
		Running:       s.Running(),
		DrawdownPct:   s.stats.DrawdownPct(),
		DailyLossPct:  s.stats.DailyLossPct(),
		OpenPositions: len(s.positions),
	}
	var others []risk.Exposure
	if s.exposures != nil {
		others = s.exposures()
	} else {
		others = s.ownExposures()
	}
	verdicts := []risk.Verdict{
		s.risk.CheckSignal(ctx, risk.Signal{Strategy: s.policy.Name, Symbol: symbol, Notional: sizing.Notional}, stats),
		s.risk.CheckGlobalDrawdown().Verdict,
		s.risk.CheckPositionSize(sizing.Notional, sizing.Leverage, balance),
		s.risk.CheckCrossExposure(others, symbol, sizing.Notional, balance),
		s.risk.CheckTotalLeverage(others, sizing.Notional, balance),
	}
	for _, v := range verdicts {
		if !v.Approved {
			s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] %s entry denied by %s: %s", s.policy.Name, symbol, v.Check, v.Reason))
			return fmt.Errorf("%w: %s: %s", ErrDenied, v.Check, v.Reason)
		}
	}
	return nil
}

// attachTriggers places the protective stop and target. Failures keep the
// position with empty order ids and raise a warning.
func (s *Strategy) attachTriggers(ctx context.Context, pos *Position) {
	pos.StopOrderID = s.placeTrigger(ctx, pos, pos.StopLoss, exchange.TriggerStopLoss)
	pos.TargetOrderID = s.placeTrigger(ctx, pos, pos.TakeProfit, exchange.TriggerTakeProfit)
}

func (s *Strategy) placeTrigger(ctx context.Context, pos *Position, price float64, kind exchange.TriggerKind) string {
	if price <= 0 {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	res, err := s.ex.PlaceTriggerOrder(callCtx, exchange.TriggerSpec{
		Symbol:       pos.Symbol,
		IsBuy:        !pos.Long(),
		Size:         pos.Size,
		TriggerPrice: price,
		Kind:         kind,
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("lifecycle: %s %s trigger for %s: %v", s.policy.Name, kind, pos.Symbol, err)
		s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] WARNING %s %s position %s has no %s order: %v",
			s.policy.Name, pos.Side, pos.Symbol, pos.ID, kind, err))
		return ""
	}
	return res.OrderID
}

func (s *Strategy) cancelTrigger(ctx context.Context, symbol, orderID string) {
	if orderID == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.ex.CancelOrder(callCtx, symbol, orderID); err != nil {
		logx.WithContext(ctx).Errorf("lifecycle: %s cancel %s order %s: %v", s.policy.Name, symbol, orderID, err)
	}
}

// retireLocked removes terminal proposals from the live set and persists.
func (s *Strategy) retireLocked(ctx context.Context, p *TradeProposal) {
	if p.Status.Terminal() {
		delete(s.proposals, p.ID)
		s.appendLog(ctx, store.KindProposal, p.Symbol, p)
	}
	s.persistLocked(ctx)
	s.publishLocked()
}

func (s *Strategy) sizeMultiplier() float64 {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	if s.control.SizeMultiplier <= 0 {
		return 1
	}
	return s.control.SizeMultiplier
}

func (s *Strategy) ownExposures() []risk.Exposure {
	out := make([]risk.Exposure, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, risk.Exposure{Strategy: s.policy.Name, Symbol: p.Symbol, Notional: p.Notional()})
	}
	return out
}

// persistLocked saves positions, live proposals and stats.
func (s *Strategy) persistLocked(ctx context.Context) {
	if s.states == nil {
		return
	}
	v := s.snapshotLocked()
	s.save(ctx, keyPositions, v.Positions)
	s.save(ctx, keyProposals, v.Proposals)
	s.save(ctx, keyStats, v.Stats)
}

func (s *Strategy) saveControl(ctx context.Context, ctl Control) {
	if s.states != nil {
		s.save(ctx, keyControl, ctl)
	}
}

func (s *Strategy) save(ctx context.Context, key string, v any) {
	if err := s.states.Save(ctx, s.policy.Name, key, v); err != nil {
		logPersistenceError(ctx, s.policy.Name+"/"+key, err)
	}
}

func (s *Strategy) appendLog(ctx context.Context, kind store.Kind, symbol string, payload any) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Append(ctx, kind, symbol, payload); err != nil {
		logPersistenceError(ctx, "append "+string(kind), err)
	}
}

func logPersistenceError(ctx context.Context, op string, err error) {
	logx.WithContext(ctx).Errorf("lifecycle: persist %s: %v", op, err)
}

func (s *Strategy) snapshotLocked() View {
	v := View{
		Name:      s.policy.Name,
		Policy:    s.policy,
		Stats:     s.stats,
		Positions: make([]Position, 0, len(s.positions)),
		Proposals: make([]TradeProposal, 0, len(s.proposals)),
	}
	for _, p := range s.positions {
		v.Positions = append(v.Positions, *p)
	}
	for _, p := range s.proposals {
		v.Proposals = append(v.Proposals, *p)
	}
	sort.Slice(v.Positions, func(i, j int) bool {
		if !v.Positions[i].OpenedAt.Equal(v.Positions[j].OpenedAt) {
			return v.Positions[i].OpenedAt.Before(v.Positions[j].OpenedAt)
		}
		return v.Positions[i].ID < v.Positions[j].ID
	})
	sort.Slice(v.Proposals, func(i, j int) bool {
		if !v.Proposals[i].CreatedAt.Equal(v.Proposals[j].CreatedAt) {
			return v.Proposals[i].CreatedAt.Before(v.Proposals[j].CreatedAt)
		}
		return v.Proposals[i].ID < v.Proposals[j].ID
	})
	s.ctlMu.Lock()
	v.Control = s.control
	s.ctlMu.Unlock()
	return v
}

func (s *Strategy) publishLocked() {
	v := s.snapshotLocked()
	s.view.Store(&v)
}

// refreshView republishes the control part without taking mu.
func (s *Strategy) refreshView() {
	for {
		prev := s.view.Load()
		if prev == nil {
			return
		}
		next := *prev
		s.ctlMu.Lock()
		next.Control = s.control
		s.ctlMu.Unlock()
		if s.view.CompareAndSwap(prev, &next) {
			return
		}
	}
}

func (s *Strategy) observeOpen() {
	if s.observer != nil {
		s.observer.OpenPositions(s.policy.Name, len(s.positions))
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }
