// Package cooldown rate-limits advisory calls per symbol, globally and per
// UTC day, and backs off after a run of losing trades.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/store"
)

const stateKey = "cooldown"

// Config holds the limiter thresholds. Zero values disable the matching rule.
type Config struct {
	SymbolCooldown       time.Duration
	GlobalCooldown       time.Duration
	MaxDailyCalls        int
	MaxConsecutiveLosses int
	LossCooldown         time.Duration
}

// State is the persisted limiter state.
type State struct {
	SymbolLastCall    map[string]time.Time `json:"symbol_last_call"`
	GlobalLastCall    time.Time            `json:"global_last_call"`
	DailyCalls        int                  `json:"daily_calls"`
	ResetAt           time.Time            `json:"reset_at"`
	ConsecutiveLosses int                  `json:"consecutive_losses"`
	LastLossAt        time.Time            `json:"last_loss_at"`
}

// Decision is the CanCallAdvisor verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter owns one State. It is safe for concurrent use.
type Limiter struct {
	cfg   Config
	owner string
	store store.StateStore
	clock func() time.Time

	mu    sync.Mutex
	state State
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithStore persists state under owner on every mutation.
func WithStore(s store.StateStore, owner string) Option {
	return func(l *Limiter) {
		l.store = s
		if owner != "" {
			l.owner = owner
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New constructs a Limiter with empty state.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:   cfg,
		owner: "advisor",
		clock: time.Now,
		state: State{SymbolLastCall: make(map[string]time.Time)},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore loads persisted state, if any. Missing state is not an error.
func (l *Limiter) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	var st State
	ok, err := l.store.Load(ctx, l.owner, stateKey, &st)
	if err != nil {
		return fmt.Errorf("cooldown: restore: %w", err)
	}
	if !ok {
		return nil
	}
	if st.SymbolLastCall == nil {
		st.SymbolLastCall = make(map[string]time.Time)
	}
	l.mu.Lock()
	l.state = st
	l.mu.Unlock()
	return nil
}

// CanCallAdvisor reports whether an advisory call for symbol may run now.
func (l *Limiter) CanCallAdvisor(ctx context.Context, symbol string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if l.rollDayLocked(now) {
		l.persistLocked(ctx)
	}

	if last, ok := l.state.SymbolLastCall[symbol]; ok && l.cfg.SymbolCooldown > 0 {
		if wait := l.cfg.SymbolCooldown - now.Sub(last); wait > 0 {
			return Decision{Reason: fmt.Sprintf("symbol %s cooling down for %s", symbol, wait.Round(time.Second))}
		}
	}
	if !l.state.GlobalLastCall.IsZero() && l.cfg.GlobalCooldown > 0 {
		if wait := l.cfg.GlobalCooldown - now.Sub(l.state.GlobalLastCall); wait > 0 {
			return Decision{Reason: fmt.Sprintf("global cooldown for %s", wait.Round(time.Second))}
		}
	}
	if l.cfg.MaxDailyCalls > 0 && l.state.DailyCalls >= l.cfg.MaxDailyCalls {
		return Decision{Reason: fmt.Sprintf("daily call cap %d reached", l.cfg.MaxDailyCalls)}
	}
	if l.lossStreakLocked() && l.cfg.LossCooldown > 0 {
		if wait := l.cfg.LossCooldown - now.Sub(l.state.LastLossAt); wait > 0 {
			return Decision{Reason: fmt.Sprintf("%d consecutive losses, paused for %s",
				l.state.ConsecutiveLosses, wait.Round(time.Second))}
		}
	}
	return Decision{Allowed: true}
}

// RecordCall stamps the symbol and global timestamps and counts the call
// against today's budget.
func (l *Limiter) RecordCall(ctx context.Context, symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	l.rollDayLocked(now)
	if symbol != "" {
		l.state.SymbolLastCall[symbol] = now
	}
	l.state.GlobalLastCall = now
	l.state.DailyCalls++
	l.persistLocked(ctx)
}

// RecordOutcome updates the consecutive-loss streak.
func (l *Limiter) RecordOutcome(ctx context.Context, won bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if won {
		l.state.ConsecutiveLosses = 0
	} else {
		l.state.ConsecutiveLosses++
		l.state.LastLossAt = l.clock()
	}
	l.persistLocked(ctx)
}

// LossStreakExceeded reports whether consecutive losses reached the
// configured threshold. Owners decide how to escalate.
func (l *Limiter) LossStreakExceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lossStreakLocked()
}

// ConsecutiveLosses returns the current losing streak.
func (l *Limiter) ConsecutiveLosses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ConsecutiveLosses
}

// DailyCalls returns today's call count.
func (l *Limiter) DailyCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(l.clock())
	return l.state.DailyCalls
}

// Snapshot returns a deep copy of the current state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.state
	out.SymbolLastCall = make(map[string]time.Time, len(l.state.SymbolLastCall))
	for k, v := range l.state.SymbolLastCall {
		out.SymbolLastCall[k] = v
	}
	return out
}

func (l *Limiter) lossStreakLocked() bool {
	return l.cfg.MaxConsecutiveLosses > 0 && l.state.ConsecutiveLosses >= l.cfg.MaxConsecutiveLosses
}

// rollDayLocked zeroes the daily counter once now reaches ResetAt and moves
// ResetAt to the following UTC midnight. Repeated calls within one day are
// no-ops.
func (l *Limiter) rollDayLocked(now time.Time) bool {
	if !l.state.ResetAt.IsZero() && now.Before(l.state.ResetAt) {
		return false
	}
	l.state.DailyCalls = 0
	l.state.ResetAt = NextUTCMidnight(now)
	return true
}

func (l *Limiter) persistLocked(ctx context.Context) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, l.owner, stateKey, l.state); err != nil {
		logx.WithContext(ctx).Errorf("cooldown: persist state for %s: %v", l.owner, err)
	}
}

// NextUTCMidnight returns the first UTC midnight strictly after t.
func NextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
