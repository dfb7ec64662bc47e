package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/advisory"
	"perpcore/pkg/exchange"
	"perpcore/pkg/market"
	"perpcore/pkg/notify"
	"perpcore/pkg/regime"
	"perpcore/pkg/risk"
	"perpcore/pkg/scorer"
)

// ErrUnknownStrategy is returned for an unregistered strategy name.
var ErrUnknownStrategy = errors.New("lifecycle: unknown strategy")

// Scanner produces an on-demand snapshot and score for one symbol.
type Scanner interface {
	Scan(ctx context.Context, symbol string) (market.Snapshot, scorer.TriggerScore, error)
}

// ScanResult answers a manual scan request.
type ScanResult struct {
	Snapshot market.Snapshot     `json:"snapshot"`
	Score    scorer.TriggerScore `json:"score"`
}

// Summary is the position summary for the command surface.
type Summary struct {
	At         time.Time            `json:"at"`
	Peak       float64              `json:"peak"`
	Current    float64              `json:"current"`
	Drawdown   risk.DrawdownVerdict `json:"drawdown"`
	Stopped    bool                 `json:"stopped"`
	Strategies []View               `json:"strategies"`
}

// Desk routes proposals and operator commands to strategies and enforces
// the portfolio-wide stop.
type Desk struct {
	ex      exchange.Client
	risk    *risk.Manager
	alerts  notify.Sink
	scanner Scanner
	clock   func() time.Time

	mu         sync.RWMutex
	strategies []*Strategy
	byName     map[string]*Strategy
	stopped    bool
}

// DeskOption customises a Desk.
type DeskOption func(*Desk)

// WithDeskAlerts sets the alert sink for the global stop.
func WithDeskAlerts(sink notify.Sink) DeskOption {
	return func(d *Desk) {
		if sink != nil {
			d.alerts = sink
		}
	}
}

// WithScanner enables ManualScan.
func WithScanner(sc Scanner) DeskOption { return func(d *Desk) { d.scanner = sc } }

// WithDeskClock overrides time.Now.
func WithDeskClock(clock func() time.Time) DeskOption {
	return func(d *Desk) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDesk creates an empty desk and registers itself as the risk manager's
// pauser.
func NewDesk(ex exchange.Client, riskMgr *risk.Manager, opts ...DeskOption) *Desk {
	d := &Desk{
		ex:     ex,
		risk:   riskMgr,
		alerts: notify.Noop{},
		clock:  time.Now,
		byName: make(map[string]*Strategy),
	}
	for _, opt := range opts {
		opt(d)
	}
	if riskMgr != nil {
		riskMgr.SetPauser(d)
	}
	return d
}

// Register adds a strategy. Its exposure source becomes the whole desk.
// Registration order is the routing priority for urgent proposals.
func (d *Desk) Register(s *Strategy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byName[s.Name()]; dup {
		return fmt.Errorf("lifecycle: strategy %s already registered", s.Name())
	}
	s.exposures = d.Exposures
	d.strategies = append(d.strategies, s)
	d.byName[s.Name()] = s
	return nil
}

// Strategy looks up a strategy by name.
func (d *Desk) Strategy(name string) (*Strategy, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byName[name]
	return s, ok
}

// Strategies returns the registered strategies in priority order.
func (d *Desk) Strategies() []*Strategy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Strategy(nil), d.strategies...)
}

// Restore restores every strategy.
func (d *Desk) Restore(ctx context.Context) error {
	var errs []error
	for _, s := range d.Strategies() {
		if err := s.Restore(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pause implements risk.Pauser.
func (d *Desk) Pause(ctx context.Context, strategy, reason string) {
	s, ok := d.Strategy(strategy)
	if !ok {
		logx.WithContext(ctx).Errorf("lifecycle: pause unknown strategy %s", strategy)
		return
	}
	s.Pause(ctx, reason)
	d.alerts.SendAlert(ctx, fmt.Sprintf("[%s] paused: %s", strategy, reason))
}

// PauseAll pauses every strategy.
func (d *Desk) PauseAll(ctx context.Context, reason string) {
	for _, s := range d.Strategies() {
		s.Pause(ctx, reason)
	}
}

// Resume resumes one strategy, or all of them and clears the global stop
// when name is empty.
func (d *Desk) Resume(ctx context.Context, name string) error {
	if name == "" {
		d.mu.Lock()
		d.stopped = false
		d.mu.Unlock()
		for _, s := range d.Strategies() {
			s.Resume(ctx)
		}
		return nil
	}
	s, ok := d.Strategy(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	s.Resume(ctx)
	return nil
}

// Deliver is the regime brain's proposal sink. The proposal goes to the
// first running strategy that trades the symbol and whose directive allows
// it.
func (d *Desk) Deliver(ctx context.Context, p regime.Proposal) {
	s := d.route(p)
	if s == nil {
		logx.WithContext(ctx).Infof("lifecycle: no strategy accepts %s %s proposal", p.Trade.Side, p.Trade.Symbol)
		return
	}
	if _, err := s.Submit(ctx, p.Trade, OriginAdvisory, p.DecisionID); err != nil {
		logx.WithContext(ctx).Infof("lifecycle: %s proposal for %s: %v", s.Name(), p.Trade.Symbol, err)
	}
}

func (d *Desk) route(p regime.Proposal) *Strategy {
	symbol := exchange.Canonical(p.Trade.Symbol)
	for _, s := range d.Strategies() {
		if !s.Running() || !s.Policy().Accepts(symbol) {
			continue
		}
		dir := s.market().Directive(s.Name())
		if !dir.Active || !dir.Focuses(symbol) {
			continue
		}
		if dir.Bias != regime.BiasNeutral && dir.Bias != "" && dir.Bias != string(p.Trade.Side) {
			continue
		}
		return s
	}
	return nil
}

// Propose submits a manual trade idea to a named strategy.
func (d *Desk) Propose(ctx context.Context, strategy string, trade advisory.ProposeTrade) (TradeProposal, error) {
	s, ok := d.Strategy(strategy)
	if !ok {
		return TradeProposal{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
	return s.Submit(ctx, trade, OriginManual, "")
}

// Approve executes a pending proposal by id.
func (d *Desk) Approve(ctx context.Context, id string) (TradeProposal, error) {
	s, err := d.owner(id)
	if err != nil {
		return TradeProposal{}, err
	}
	return s.Approve(ctx, id)
}

// Modify edits and executes a pending proposal by id.
func (d *Desk) Modify(ctx context.Context, id string, changes Changes) (TradeProposal, error) {
	s, err := d.owner(id)
	if err != nil {
		return TradeProposal{}, err
	}
	return s.Modify(ctx, id, changes)
}

// Reject discards a pending proposal by id.
func (d *Desk) Reject(ctx context.Context, id, reason string) (TradeProposal, error) {
	s, err := d.owner(id)
	if err != nil {
		return TradeProposal{}, err
	}
	if reason == "" {
		reason = "rejected by operator"
	}
	return s.Reject(ctx, id, reason)
}

func (d *Desk) owner(proposalID string) (*Strategy, error) {
	for _, s := range d.Strategies() {
		for _, p := range s.View().Proposals {
			if p.ID == proposalID {
				return s, nil
			}
		}
	}
	return nil, ErrProposalNotFound
}

// Manage routes an advisory position action to the strategy holding the
// symbol.
func (d *Desk) Manage(ctx context.Context, m advisory.ManagePosition) error {
	symbol := exchange.Canonical(m.Symbol)
	for _, s := range d.Strategies() {
		if _, ok := s.positionFor(symbol); ok {
			return s.Manage(ctx, m)
		}
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
}

// ClosePosition fully closes a position by id.
func (d *Desk) ClosePosition(ctx context.Context, id, reason string) error {
	s, err := d.holder(id)
	if err != nil {
		return err
	}
	return s.Close(ctx, id, reason)
}

// MoveStop relocates the stop of a position by id.
func (d *Desk) MoveStop(ctx context.Context, id string, stop float64) error {
	s, err := d.holder(id)
	if err != nil {
		return err
	}
	return s.MoveStop(ctx, id, stop)
}

func (d *Desk) holder(positionID string) (*Strategy, error) {
	for _, s := range d.Strategies() {
		for _, p := range s.View().Positions {
			if p.ID == positionID {
				return s, nil
			}
		}
	}
	return nil, ErrPositionNotFound
}

// PositionSummary reports every strategy and the portfolio drawdown.
func (d *Desk) PositionSummary() Summary {
	out := Summary{At: d.clock()}
	if d.risk != nil {
		out.Peak = d.risk.PeakValue()
		out.Current = d.risk.CurrentValue()
		out.Drawdown = d.risk.CheckGlobalDrawdown()
	}
	d.mu.RLock()
	out.Stopped = d.stopped
	d.mu.RUnlock()
	for _, s := range d.Strategies() {
		out.Strategies = append(out.Strategies, *s.View())
	}
	return out
}

// ManualScan builds and scores one symbol on demand.
func (d *Desk) ManualScan(ctx context.Context, symbol string) (ScanResult, error) {
	if d.scanner == nil {
		return ScanResult{}, errors.New("lifecycle: manual scan is not configured")
	}
	snap, score, err := d.scanner.Scan(ctx, exchange.Canonical(symbol))
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Snapshot: snap, Score: score}, nil
}

// Flatten pauses every strategy and closes all positions.
func (d *Desk) Flatten(ctx context.Context, reason string) error {
	d.PauseAll(ctx, reason)
	var errs []error
	for _, s := range d.Strategies() {
		if err := s.CloseAll(ctx, ExitGlobalStop); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Exposures lists the open notional of every strategy.
func (d *Desk) Exposures() []risk.Exposure {
	var out []risk.Exposure
	for _, s := range d.Strategies() {
		for _, p := range s.View().Positions {
			out = append(out, risk.Exposure{Strategy: p.Strategy, Symbol: p.Symbol, Notional: p.Notional()})
		}
	}
	return out
}

// PositionViews renders every open position for the advisory prompts.
func (d *Desk) PositionViews() []advisory.PositionView {
	now := d.clock()
	var out []advisory.PositionView
	for _, s := range d.Strategies() {
		for _, p := range s.View().Positions {
			out = append(out, p.View(0, now))
		}
	}
	return out
}

// Tick refreshes the portfolio value, applies the global stop and runs
// every strategy's housekeeping.
func (d *Desk) Tick(ctx context.Context) {
	d.checkPortfolio(ctx)
	for _, s := range d.Strategies() {
		s.Tick(ctx)
	}
}

func (d *Desk) checkPortfolio(ctx context.Context) {
	if d.risk == nil || d.ex == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	balances, err := d.ex.GetBalances(callCtx)
	cancel()
	if err != nil {
		logx.WithContext(ctx).Errorf("lifecycle: portfolio balances: %v", err)
		return
	}
	d.risk.UpdatePortfolioValue(ctx, balances.AccountValue)
	verdict := d.risk.CheckGlobalDrawdown()
	if verdict.Level != risk.LevelCritical {
		if verdict.Level == risk.LevelWarning {
			logx.WithContext(ctx).Infof("lifecycle: %s", verdict.Reason)
		}
		return
	}
	d.mu.Lock()
	already := d.stopped
	d.stopped = true
	d.mu.Unlock()
	if already {
		return
	}
	d.PauseAll(ctx, verdict.Reason)
	d.alerts.SendAlert(ctx, fmt.Sprintf("GLOBAL STOP: %s; every strategy paused", verdict.Reason))
}

// Run ticks until ctx is done.
func (d *Desk) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
