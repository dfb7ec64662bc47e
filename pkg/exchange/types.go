package exchange

import (
	"math"
	"strings"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Position is the venue's view of an open perp position.
// Size is signed: positive long, negative short.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	Leverage      int     `json:"leverage"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AbsSize returns the unsigned position size.
func (p Position) AbsSize() float64 { return math.Abs(p.Size) }

// Notional returns |size| × mark (entry when mark is unknown).
func (p Position) Notional() float64 {
	px := p.MarkPrice
	if px <= 0 {
		px = p.EntryPrice
	}
	return math.Abs(p.Size) * px
}

// OrderSpec describes a primary order. A zero LimitPrice requests an
// aggressive IOC fill around the current mid.
type OrderSpec struct {
	Symbol     string  `json:"symbol"`
	IsBuy      bool    `json:"is_buy"`
	Size       float64 `json:"size"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	ReduceOnly bool    `json:"reduce_only"`
	ClientID   string  `json:"client_id,omitempty"`
}

// OrderResult reports the outcome of PlaceOrder.
type OrderResult struct {
	OrderID    string  `json:"order_id,omitempty"`
	Filled     bool    `json:"filled"`
	FilledSize float64 `json:"filled_size,omitempty"`
	AvgPrice   float64 `json:"avg_price,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// TriggerKind distinguishes protective trigger orders.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "sl"
	TriggerTakeProfit TriggerKind = "tp"
)

// TriggerSpec describes a reduce-only trigger order.
type TriggerSpec struct {
	Symbol       string      `json:"symbol"`
	IsBuy        bool        `json:"is_buy"`
	Size         float64     `json:"size"`
	TriggerPrice float64     `json:"trigger_price"`
	Kind         TriggerKind `json:"kind"`
}

// TriggerResult reports the venue id of a resting trigger order.
type TriggerResult struct {
	OrderID string `json:"order_id,omitempty"`
}

// Balances summarises perp margin and spot holdings.
type Balances struct {
	AccountValue float64            `json:"account_value"`
	MarginUsed   float64            `json:"margin_used"`
	Withdrawable float64            `json:"withdrawable"`
	Spot         map[string]float64 `json:"spot,omitempty"`
}

// Canonical normalises a symbol to the venue coin name ("eth-perp" -> "ETH").
func Canonical(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "-PERP")
	return s
}
