package lifecycle

import (
	"sort"
	"time"

	"perpcore/pkg/advisory"
)

// Position is one open trade owned by a strategy.
type Position struct {
	ID            string        `json:"id"`
	Strategy      string        `json:"strategy"`
	ProposalID    string        `json:"proposal_id"`
	Symbol        string        `json:"symbol"`
	Side          advisory.Side `json:"side"`
	Entry         float64       `json:"entry"`
	Size          float64       `json:"size"`
	Leverage      int           `json:"leverage"`
	StopLoss      float64       `json:"stop_loss"`
	TakeProfit    float64       `json:"take_profit"`
	StopOrderID   string        `json:"stop_order_id,omitempty"`
	TargetOrderID string        `json:"target_order_id,omitempty"`
	Rationale     string        `json:"rationale,omitempty"`
	OpenedAt      time.Time     `json:"opened_at"`

	// CloseAttempts counts failed forced closes; Flagged is set once they
	// are exhausted and the operator has been alerted.
	CloseAttempts  int    `json:"close_attempts,omitempty"`
	Flagged        bool   `json:"flagged,omitempty"`
	LastCloseError string `json:"last_close_error,omitempty"`
}

func (p Position) Long() bool { return p.Side == advisory.SideLong }

// Notional at entry.
func (p Position) Notional() float64 { return p.Size * p.Entry }

// PnL for closing qty at exit.
func (p Position) PnL(exit, qty float64) float64 {
	if p.Long() {
		return (exit - p.Entry) * qty
	}
	return (p.Entry - exit) * qty
}

// PnLPct is the return on margin for a move to exit.
func (p Position) PnLPct(exit float64) float64 {
	if p.Entry <= 0 {
		return 0
	}
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	move := (exit - p.Entry) / p.Entry
	if !p.Long() {
		move = -move
	}
	return move * float64(lev) * 100
}

// View renders the position for prompts.
func (p Position) View(mark float64, now time.Time) advisory.PositionView {
	v := advisory.PositionView{
		Strategy:   p.Strategy,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Entry:      p.Entry,
		Size:       p.Size,
		Leverage:   p.Leverage,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		HeldFor:    now.Sub(p.OpenedAt).Round(time.Minute),
	}
	if mark > 0 {
		v.PnLPct = p.PnLPct(mark)
	}
	return v
}

// Stats is a strategy's running performance record.
type Stats struct {
	Trades            int       `json:"trades"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	RealizedPnL       float64   `json:"realized_pnl"`
	PeakPnL           float64   `json:"peak_pnl"`
	DailyPnL          float64   `json:"daily_pnl"`
	Day               string    `json:"day"`
	Capital           float64   `json:"capital"`
	LastTradeAt       time.Time `json:"last_trade_at,omitempty"`
}

// WinRate falls back to prior until minTrades closed trades exist.
func (s Stats) WinRate(prior float64, minTrades int) float64 {
	if s.Trades == 0 || s.Trades < minTrades {
		return prior
	}
	return float64(s.Wins) / float64(s.Trades)
}

// DrawdownPct is the realized drawdown from the PnL high-water mark as a
// share of allocated capital.
func (s Stats) DrawdownPct() float64 {
	if s.Capital <= 0 || s.RealizedPnL >= s.PeakPnL {
		return 0
	}
	return (s.PeakPnL - s.RealizedPnL) * 100 / s.Capital
}

// DailyLossPct is today's realized loss as a share of allocated capital.
func (s Stats) DailyLossPct() float64 {
	if s.Capital <= 0 || s.DailyPnL >= 0 {
		return 0
	}
	return -s.DailyPnL * 100 / s.Capital
}

func (s *Stats) realize(pnl float64) {
	s.RealizedPnL += pnl
	s.DailyPnL += pnl
	if s.RealizedPnL > s.PeakPnL {
		s.PeakPnL = s.RealizedPnL
	}
}

// rollDay zeroes daily PnL when day changes. Repeated calls within one day
// are no-ops.
func (s *Stats) rollDay(day string) bool {
	if s.Day == day {
		return false
	}
	s.Day = day
	s.DailyPnL = 0
	return true
}

func sortPositions(ps []*Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].OpenedAt.Before(ps[j].OpenedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
