// Package risk holds the portfolio-level guards shared by every strategy:
// drawdown, daily loss, cross-strategy exposure and aggregate leverage.
package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/exchange"
	"perpcore/pkg/store"
)

const (
	// WarningDrawdownPct is the global drawdown that raises a warning while
	// still approving.
	WarningDrawdownPct = 15.0
	// CrossExposureFraction caps aggregate notional on one symbol as a
	// fraction of balance.
	CrossExposureFraction = 0.40

	stateOwner = "risk"
	stateKey   = "portfolio"
)

// Check names used in verdicts and metrics.
const (
	CheckSignal         = "signal"
	CheckGlobalDrawdown = "global_drawdown"
	CheckCrossExposure  = "cross_exposure"
	CheckTotalLeverage  = "total_leverage"
	CheckPositionSize   = "position_size"
)

// Limits is the risk configuration.
type Limits struct {
	MaxGlobalDrawdownPct   float64
	MaxStrategyDrawdownPct float64
	MaxDailyLossPct        float64
	MaxPositionSizePct     float64
	MaxOpenPositions       int
	MaxLeverage            float64
}

// Level grades the global drawdown.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Verdict is an approve/deny answer with a human-readable reason.
type Verdict struct {
	Approved bool   `json:"approved"`
	Check    string `json:"check"`
	Reason   string `json:"reason,omitempty"`
}

// DrawdownVerdict adds the graded level to a Verdict.
type DrawdownVerdict struct {
	Verdict
	Level       Level   `json:"level"`
	DrawdownPct float64 `json:"drawdown_pct"`
}

// Signal is a candidate entry submitted by a strategy.
type Signal struct {
	Strategy string
	Symbol   string
	Notional float64
}

// StrategyStats is the runtime view of the strategy that owns a signal.
type StrategyStats struct {
	Running       bool
	DrawdownPct   float64
	DailyLossPct  float64
	OpenPositions int
}

// Exposure is one open position's notional, attributed to a strategy.
type Exposure struct {
	Strategy string  `json:"strategy"`
	Symbol   string  `json:"symbol"`
	Notional float64 `json:"notional"`
}

// Pauser pauses a strategy by name.
type Pauser interface {
	Pause(ctx context.Context, strategy, reason string)
}

// Observer receives denials and drawdown readings.
type Observer interface {
	RiskDenied(check string)
	Drawdown(pct float64)
}

// Manager evaluates risk checks. Peak and current portfolio values are the
// only state and are persisted on every peak increase.
type Manager struct {
	limits   Limits
	store    store.StateStore
	pauser   Pauser
	observer Observer

	mu      sync.RWMutex
	peak    float64
	current float64
}

// Option customises a Manager.
type Option func(*Manager)

// WithStore persists the high-water mark.
func WithStore(s store.StateStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithPauser wires the strategy pause side effect of CheckSignal.
func WithPauser(p Pauser) Option {
	return func(m *Manager) { m.pauser = p }
}

// WithObserver reports denials, typically to metrics.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager constructs a Manager.
func NewManager(limits Limits, opts ...Option) *Manager {
	m := &Manager{limits: limits}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits { return m.limits }

// SetPauser replaces the pause target after construction.
func (m *Manager) SetPauser(p Pauser) {
	m.mu.Lock()
	m.pauser = p
	m.mu.Unlock()
}

type portfolioState struct {
	Peak    float64 `json:"peak"`
	Current float64 `json:"current"`
}

// Restore loads the persisted peak and current values.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	var st portfolioState
	ok, err := m.store.Load(ctx, stateOwner, stateKey, &st)
	if err != nil {
		return fmt.Errorf("risk: restore: %w", err)
	}
	if ok {
		m.mu.Lock()
		m.peak, m.current = st.Peak, st.Current
		m.mu.Unlock()
	}
	return nil
}

// UpdatePortfolioValue records the latest portfolio value. The peak only
// ever moves up and is persisted each time it does.
func (m *Manager) UpdatePortfolioValue(ctx context.Context, value float64) {
	if value < 0 {
		return
	}
	m.mu.Lock()
	m.current = value
	raised := value > m.peak
	if raised {
		m.peak = value
	}
	st := portfolioState{Peak: m.peak, Current: m.current}
	m.mu.Unlock()

	if raised && m.store != nil {
		if err := m.store.Save(ctx, stateOwner, stateKey, st); err != nil {
			logx.WithContext(ctx).Errorf("risk: persist peak %.2f: %v", st.Peak, err)
		}
	}
	if m.observer != nil {
		m.observer.Drawdown(drawdownPct(st.Peak, st.Current))
	}
}

// PeakValue returns the high-water mark.
func (m *Manager) PeakValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peak
}

// CurrentValue returns the last recorded portfolio value.
func (m *Manager) CurrentValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CheckSignal gates a strategy's signal on its own health. Drawdown and
// daily-loss breaches pause the strategy.
func (m *Manager) CheckSignal(ctx context.Context, sig Signal, stats StrategyStats) Verdict {
	if !stats.Running {
		return m.deny(CheckSignal, fmt.Sprintf("strategy %s is not running", sig.Strategy))
	}
	if m.limits.MaxStrategyDrawdownPct > 0 && stats.DrawdownPct >= m.limits.MaxStrategyDrawdownPct {
		reason := fmt.Sprintf("strategy %s drawdown %.2f%% >= %.2f%%", sig.Strategy, stats.DrawdownPct, m.limits.MaxStrategyDrawdownPct)
		m.pause(ctx, sig.Strategy, reason)
		return m.deny(CheckSignal, reason)
	}
	if m.limits.MaxDailyLossPct > 0 && stats.DailyLossPct >= m.limits.MaxDailyLossPct {
		reason := fmt.Sprintf("strategy %s daily loss %.2f%% >= %.2f%%", sig.Strategy, stats.DailyLossPct, m.limits.MaxDailyLossPct)
		m.pause(ctx, sig.Strategy, reason)
		return m.deny(CheckSignal, reason)
	}
	if m.limits.MaxOpenPositions > 0 && stats.OpenPositions >= m.limits.MaxOpenPositions {
		return m.deny(CheckSignal, fmt.Sprintf("strategy %s has %d open positions (max %d)", sig.Strategy, stats.OpenPositions, m.limits.MaxOpenPositions))
	}
	return Verdict{Approved: true, Check: CheckSignal}
}

// CheckGlobalDrawdown grades drawdown from the high-water mark.
func (m *Manager) CheckGlobalDrawdown() DrawdownVerdict {
	m.mu.RLock()
	dd := drawdownPct(m.peak, m.current)
	m.mu.RUnlock()

	out := DrawdownVerdict{Level: LevelNormal, DrawdownPct: dd}
	switch {
	case m.limits.MaxGlobalDrawdownPct > 0 && dd >= m.limits.MaxGlobalDrawdownPct:
		out.Level = LevelCritical
		out.Verdict = m.deny(CheckGlobalDrawdown,
			fmt.Sprintf("global drawdown %.2f%% >= %.2f%%", dd, m.limits.MaxGlobalDrawdownPct))
		return out
	case dd >= WarningDrawdownPct:
		out.Level = LevelWarning
		out.Verdict = Verdict{Approved: true, Check: CheckGlobalDrawdown,
			Reason: fmt.Sprintf("global drawdown %.2f%% above warning threshold", dd)}
		return out
	}
	out.Verdict = Verdict{Approved: true, Check: CheckGlobalDrawdown}
	return out
}

// CheckCrossExposure caps aggregate notional on symbol across every strategy
// at CrossExposureFraction of balance.
func (m *Manager) CheckCrossExposure(positions []Exposure, symbol string, notional, balance float64) Verdict {
	if balance <= 0 {
		return m.deny(CheckCrossExposure, "balance unavailable")
	}
	want := exchange.Canonical(symbol)
	existing := 0.0
	for _, p := range positions {
		if exchange.Canonical(p.Symbol) == want {
			existing += abs(p.Notional)
		}
	}
	limit := balance * CrossExposureFraction
	if total := existing + abs(notional); total > limit {
		return m.deny(CheckCrossExposure,
			fmt.Sprintf("%s exposure %.2f would exceed %.0f%% of balance (%.2f)", want, total, CrossExposureFraction*100, limit))
	}
	return Verdict{Approved: true, Check: CheckCrossExposure}
}

// CheckTotalLeverage caps aggregate notional at MaxLeverage times balance.
func (m *Manager) CheckTotalLeverage(positions []Exposure, notional, balance float64) Verdict {
	if balance <= 0 {
		return m.deny(CheckTotalLeverage, "balance unavailable")
	}
	total := abs(notional)
	for _, p := range positions {
		total += abs(p.Notional)
	}
	if m.limits.MaxLeverage > 0 {
		if limit := m.limits.MaxLeverage * balance; total > limit {
			return m.deny(CheckTotalLeverage,
				fmt.Sprintf("aggregate notional %.2f would exceed %.1fx balance (%.2f)", total, m.limits.MaxLeverage, limit))
		}
	}
	return Verdict{Approved: true, Check: CheckTotalLeverage}
}

// CheckPositionSize caps a single entry at MaxPositionSizePct of balance,
// measured as margin (notional / leverage).
func (m *Manager) CheckPositionSize(notional float64, leverage int, balance float64) Verdict {
	if m.limits.MaxPositionSizePct <= 0 {
		return Verdict{Approved: true, Check: CheckPositionSize}
	}
	if balance <= 0 {
		return m.deny(CheckPositionSize, "balance unavailable")
	}
	if leverage < 1 {
		leverage = 1
	}
	margin := abs(notional) / float64(leverage)
	if pct := margin / balance * 100; pct > m.limits.MaxPositionSizePct {
		return m.deny(CheckPositionSize,
			fmt.Sprintf("position margin %.2f%% of balance exceeds %.2f%%", pct, m.limits.MaxPositionSizePct))
	}
	return Verdict{Approved: true, Check: CheckPositionSize}
}

func (m *Manager) deny(check, reason string) Verdict {
	if m.observer != nil {
		m.observer.RiskDenied(check)
	}
	return Verdict{Check: check, Reason: reason}
}

func (m *Manager) pause(ctx context.Context, strategy, reason string) {
	m.mu.RLock()
	p := m.pauser
	m.mu.RUnlock()
	if p == nil {
		logx.WithContext(ctx).Infof("risk: %s should pause (%s) but no pauser is wired", strategy, reason)
		return
	}
	p.Pause(ctx, strategy, reason)
}

func drawdownPct(peak, current float64) float64 {
	if peak <= 0 || current >= peak {
		return 0
	}
	return (peak - current) * 100 / peak
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
