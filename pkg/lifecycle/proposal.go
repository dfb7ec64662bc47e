package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"perpcore/pkg/advisory"
	"perpcore/pkg/exchange"
)

var (
	ErrProposalNotFound = errors.New("lifecycle: proposal not found")
	ErrNotPending       = errors.New("lifecycle: proposal is not pending")
	ErrInvalidProposal  = errors.New("lifecycle: invalid proposal")
)

// Status is a proposal's position in its one-way lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusModified Status = "modified"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusExecuted Status = "executed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired || s == StatusExecuted
}

// Origin records who created a proposal.
const (
	OriginAdvisory = "advisory"
	OriginManual   = "manual"
)

// TradeProposal is a candidate entry awaiting execution.
type TradeProposal struct {
	ID         string        `json:"id"`
	Strategy   string        `json:"strategy"`
	Origin     string        `json:"origin"`
	DecisionID string        `json:"decision_id,omitempty"`
	Symbol     string        `json:"symbol"`
	Side       advisory.Side `json:"side"`
	Entry      float64       `json:"entry"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	SizePct    float64       `json:"size_pct"`
	Leverage   int           `json:"leverage"`
	Confidence string        `json:"confidence"`
	Rationale  string        `json:"rationale"`
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Long reports whether the proposal buys.
func (p TradeProposal) Long() bool { return p.Side == advisory.SideLong }

// RiskReward is reward over risk measured from entry.
func (p TradeProposal) RiskReward() float64 {
	risk := math.Abs(p.Entry - p.StopLoss)
	if risk == 0 {
		return 0
	}
	return math.Abs(p.TakeProfit-p.Entry) / risk
}

// Changes are operator edits applied by Modify. Nil fields are kept.
type Changes struct {
	Entry      *float64 `json:"entry,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	SizePct    *float64 `json:"size_pct,omitempty"`
	Leverage   *int     `json:"leverage,omitempty"`
}

// NewProposal converts an advisory trade idea into a pending proposal.
func NewProposal(strategy, origin string, trade advisory.ProposeTrade, now time.Time, ttl time.Duration) (TradeProposal, error) {
	p := TradeProposal{
		ID:         uuid.NewString(),
		Strategy:   strategy,
		Origin:     origin,
		Symbol:     exchange.Canonical(trade.Symbol),
		Side:       trade.Side,
		Entry:      trade.Entry,
		StopLoss:   trade.StopLoss,
		TakeProfit: trade.TakeProfit,
		SizePct:    trade.SizePct,
		Leverage:   trade.Leverage,
		Confidence: trade.Confidence,
		Rationale:  trade.Rationale,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ttl > 0 {
		p.ExpiresAt = now.Add(ttl)
	}
	if err := p.validate(); err != nil {
		return TradeProposal{}, err
	}
	return p, nil
}

func (p TradeProposal) validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidProposal)
	}
	if p.Side != advisory.SideLong && p.Side != advisory.SideShort {
		return fmt.Errorf("%w: side %q", ErrInvalidProposal, p.Side)
	}
	if p.Entry <= 0 || p.StopLoss <= 0 || p.TakeProfit <= 0 {
		return fmt.Errorf("%w: prices must be positive", ErrInvalidProposal)
	}
	if p.Long() && !(p.StopLoss < p.Entry && p.Entry < p.TakeProfit) {
		return fmt.Errorf("%w: long needs stop < entry < target", ErrInvalidProposal)
	}
	if !p.Long() && !(p.TakeProfit < p.Entry && p.Entry < p.StopLoss) {
		return fmt.Errorf("%w: short needs target < entry < stop", ErrInvalidProposal)
	}
	if p.SizePct <= 0 || p.SizePct > 1 {
		return fmt.Errorf("%w: size_pct %.4f outside (0,1]", ErrInvalidProposal, p.SizePct)
	}
	if p.Leverage < 0 {
		return fmt.Errorf("%w: negative leverage", ErrInvalidProposal)
	}
	return nil
}

// transition moves a pending proposal to next. Only pending proposals move,
// except approved/modified which may become executed or rejected.
func (p *TradeProposal) transition(next Status, reason string, now time.Time) error {
	switch p.Status {
	case StatusPending:
	case StatusApproved, StatusModified:
		if next != StatusExecuted && next != StatusRejected {
			return fmt.Errorf("%w: %s -> %s", ErrNotPending, p.Status, next)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrNotPending, p.Status, next)
	}
	p.Status = next
	p.Reason = reason
	p.UpdatedAt = now
	return nil
}

func (p *TradeProposal) apply(c Changes) error {
	next := *p
	if c.Entry != nil {
		next.Entry = *c.Entry
	}
	if c.StopLoss != nil {
		next.StopLoss = *c.StopLoss
	}
	if c.TakeProfit != nil {
		next.TakeProfit = *c.TakeProfit
	}
	if c.SizePct != nil {
		next.SizePct = *c.SizePct
	}
	if c.Leverage != nil {
		next.Leverage = *c.Leverage
	}
	if err := next.validate(); err != nil {
		return err
	}
	*p = next
	return nil
}

func (p TradeProposal) expired(now time.Time) bool {
	return p.Status == StatusPending && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
