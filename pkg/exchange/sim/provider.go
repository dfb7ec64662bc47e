package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"perpcore/pkg/exchange"
)

const (
	defaultInitialEquity = 100000.0
	defaultFallbackPrice = 100.0
	defaultSzDecimals    = 4
	defaultSlippage      = 0.002
)

// Operation names accepted by FailNext.
const (
	OpPlaceOrder    = "place_order"
	OpTrigger       = "trigger"
	OpPositions     = "positions"
	OpCancel        = "cancel"
	OpLeverage      = "leverage"
	OpMids          = "mids"
	OpCandles       = "candles"
	OpFunding       = "funding"
	OpBalances      = "balances"
	OpSzDecimals    = "sz_decimals"
	OpCancelTrigger = "cancel_trigger"
)

// ErrInjected is returned by operations armed through FailNext.
var ErrInjected = errors.New("sim: injected failure")

// Provider is a paper-trading exchange that keeps positions, trigger orders
// and equity in memory. Orders fill synchronously at the mark price.
type Provider struct {
	mu sync.Mutex

	slippage float64
	nextOid  int64

	markPx     map[string]float64
	funding    map[string]float64
	candles    map[string][]exchange.Candle
	szDecimals map[string]int
	leverage   map[string]int
	positions  map[string]*positionState
	triggers   map[string][]triggerState

	failures map[string]int
	calls    map[string]int

	cash float64
}

type positionState struct {
	Symbol string
	Qty    float64 // positive long, negative short
	Entry  float64
}

type triggerState struct {
	Oid  string
	Spec exchange.TriggerSpec
}

// Option customises the simulator.
type Option func(*Provider)

// WithInitialEquity sets the starting cash balance.
func WithInitialEquity(v float64) Option {
	return func(p *Provider) {
		if v > 0 {
			p.cash = v
		}
	}
}

// WithSlippage sets the fraction applied to market fills.
func WithSlippage(v float64) Option {
	return func(p *Provider) {
		if v >= 0 {
			p.slippage = v
		}
	}
}

// New constructs a simulator with default equity.
func New(opts ...Option) *Provider {
	p := &Provider{
		slippage:   defaultSlippage,
		nextOid:    1,
		markPx:     make(map[string]float64),
		funding:    make(map[string]float64),
		candles:    make(map[string][]exchange.Candle),
		szDecimals: make(map[string]int),
		leverage:   make(map[string]int),
		positions:  make(map[string]*positionState),
		triggers:   make(map[string][]triggerState),
		failures:   make(map[string]int),
		calls:      make(map[string]int),
		cash:       defaultInitialEquity,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func init() {
	exchange.RegisterProvider("sim", func(name string, cfg *exchange.ProviderConfig) (exchange.Client, error) {
		opts := []Option{}
		if cfg.InitialEquity > 0 {
			opts = append(opts, WithInitialEquity(cfg.InitialEquity))
		}
		if cfg.Slippage > 0 {
			opts = append(opts, WithSlippage(cfg.Slippage))
		}
		return New(opts...), nil
	})
}

// SetMarkPrice updates the reference price used for fills and PnL.
func (p *Provider) SetMarkPrice(symbol string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sim: mark price must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markPx[exchange.Canonical(symbol)] = price
	return nil
}

// SetCandles replaces the candle history served for symbol.
func (p *Provider) SetCandles(symbol string, candles []exchange.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[exchange.Canonical(symbol)] = append([]exchange.Candle(nil), candles...)
}

// SetFunding sets the hourly funding rate for symbol.
func (p *Provider) SetFunding(symbol string, rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funding[exchange.Canonical(symbol)] = rate
}

// SetSzDecimals overrides the size precision for symbol.
func (p *Provider) SetSzDecimals(symbol string, decimals int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.szDecimals[exchange.Canonical(symbol)] = decimals
}

// FailNext arms op to fail for the next n invocations.
func (p *Provider) FailNext(op string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = n
}

// Calls returns how many times op was invoked, failed calls included.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// ForceFlat closes symbol out-of-band, as if a resting trigger had filled.
func (p *Provider) ForceFlat(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := exchange.Canonical(symbol)
	if state := p.positions[c]; state != nil {
		price := p.resolveMarkPriceLocked(c)
		p.cash += state.Qty * (price - state.Entry)
		delete(p.positions, c)
	}
	delete(p.triggers, c)
}

// SetPositionSize overwrites the venue size for symbol without touching cash.
func (p *Provider) SetPositionSize(symbol string, qty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := exchange.Canonical(symbol)
	if qty == 0 {
		delete(p.positions, c)
		return
	}
	state := p.positions[c]
	if state == nil {
		state = &positionState{Symbol: c, Entry: p.resolveMarkPriceLocked(c)}
		p.positions[c] = state
	}
	state.Qty = qty
}

// Triggers returns the resting trigger orders for symbol.
func (p *Provider) Triggers(symbol string) []exchange.TriggerSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]exchange.TriggerSpec, 0)
	for _, t := range p.triggers[exchange.Canonical(symbol)] {
		out = append(out, t.Spec)
	}
	return out
}

func (p *Provider) enterLocked(op string) error {
	p.calls[op]++
	if n := p.failures[op]; n > 0 {
		p.failures[op] = n - 1
		return fmt.Errorf("%w: %s", ErrInjected, op)
	}
	return nil
}

func (p *Provider) GetAllMidPrices(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpMids); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(p.markPx))
	for k, v := range p.markPx {
		out[k] = v
	}
	return out, nil
}

func (p *Provider) GetCandleSnapshot(ctx context.Context, symbol, interval string, start, end time.Time) ([]exchange.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpCandles); err != nil {
		return nil, err
	}
	out := make([]exchange.Candle, 0)
	for _, c := range p.candles[exchange.Canonical(symbol)] {
		if !start.IsZero() && c.OpenTime.Before(start) {
			continue
		}
		if !end.IsZero() && c.OpenTime.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Provider) GetFundingRates(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpFunding); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(p.funding))
	for k, v := range p.funding {
		out[k] = v
	}
	return out, nil
}

// GetPositions returns open positions with mark-to-market values, sorted by symbol.
func (p *Provider) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpPositions); err != nil {
		return nil, err
	}
	positions, _, _ := p.buildAccountSnapshotLocked()
	return positions, nil
}

// PlaceOrder fills synchronously. A zero limit price fills at mark with slippage.
func (p *Provider) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpPlaceOrder); err != nil {
		return exchange.OrderResult{}, err
	}
	if spec.Size <= 0 {
		return exchange.OrderResult{Error: "size must be positive"}, fmt.Errorf("sim: order size must be positive")
	}
	c := exchange.Canonical(spec.Symbol)
	price := spec.LimitPrice
	if price <= 0 {
		price = p.resolveMarkPriceLocked(c)
		if spec.IsBuy {
			price *= 1 + p.slippage
		} else {
			price *= math.Max(0, 1-p.slippage)
		}
	}

	realized, filled, err := p.applyOrderLocked(c, price, spec.Size, spec.IsBuy, spec.ReduceOnly)
	if err != nil {
		return exchange.OrderResult{Error: err.Error()}, err
	}
	p.cash += realized
	oid := p.nextOidLocked()
	if filled == 0 {
		return exchange.OrderResult{OrderID: oid, Error: "nothing to reduce"}, nil
	}
	if _, open := p.positions[c]; !open {
		delete(p.triggers, c)
	}
	return exchange.OrderResult{OrderID: oid, Filled: true, FilledSize: filled, AvgPrice: price}, nil
}

func (p *Provider) PlaceTriggerOrder(ctx context.Context, spec exchange.TriggerSpec) (exchange.TriggerResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpTrigger); err != nil {
		return exchange.TriggerResult{}, err
	}
	if spec.TriggerPrice <= 0 || spec.Size <= 0 {
		return exchange.TriggerResult{}, fmt.Errorf("sim: trigger price and size must be positive")
	}
	c := exchange.Canonical(spec.Symbol)
	oid := p.nextOidLocked()
	p.triggers[c] = append(p.triggers[c], triggerState{Oid: oid, Spec: spec})
	return exchange.TriggerResult{OrderID: oid}, nil
}

func (p *Provider) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpCancel); err != nil {
		return err
	}
	c := exchange.Canonical(symbol)
	kept := p.triggers[c][:0]
	for _, t := range p.triggers[c] {
		if t.Oid != orderID {
			kept = append(kept, t)
		}
	}
	p.triggers[c] = kept
	return nil
}

func (p *Provider) CancelTriggerOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpCancelTrigger); err != nil {
		return err
	}
	delete(p.triggers, exchange.Canonical(symbol))
	return nil
}

func (p *Provider) UpdateLeverage(ctx context.Context, symbol string, leverage int, cross bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpLeverage); err != nil {
		return err
	}
	if leverage <= 0 {
		return fmt.Errorf("sim: leverage must be positive")
	}
	p.leverage[exchange.Canonical(symbol)] = leverage
	return nil
}

func (p *Provider) GetSzDecimals(ctx context.Context, symbol string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpSzDecimals); err != nil {
		return 0, err
	}
	if d, ok := p.szDecimals[exchange.Canonical(symbol)]; ok {
		return d, nil
	}
	return defaultSzDecimals, nil
}

// GetBalances reports equity as cash plus unrealised PnL.
func (p *Provider) GetBalances(ctx context.Context) (exchange.Balances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(OpBalances); err != nil {
		return exchange.Balances{}, err
	}
	_, unrealized, margin := p.buildAccountSnapshotLocked()
	equity := p.cash + unrealized
	return exchange.Balances{
		AccountValue: equity,
		MarginUsed:   margin,
		Withdrawable: math.Max(0, equity-margin),
	}, nil
}

func (p *Provider) nextOidLocked() string {
	oid := strconv.FormatInt(p.nextOid, 10)
	p.nextOid++
	return oid
}

func (p *Provider) applyOrderLocked(symbol string, price, size float64, isBuy, reduceOnly bool) (float64, float64, error) {
	if price <= 0 {
		return 0, 0, fmt.Errorf("sim: price must be positive")
	}
	state := p.positions[symbol]
	if reduceOnly {
		if state == nil || state.Qty == 0 {
			return 0, 0, nil
		}
	} else if state == nil {
		state = &positionState{Symbol: symbol}
		p.positions[symbol] = state
	}

	execSize := size
	delta := execSize
	if !isBuy {
		delta = -execSize
	}
	if reduceOnly {
		if state.Qty*delta > 0 {
			return 0, 0, fmt.Errorf("sim: reduce-only order would increase position")
		}
		execSize = math.Min(execSize, math.Abs(state.Qty))
		delta = execSize
		if !isBuy {
			delta = -execSize
		}
	}

	oldQty := state.Qty
	newQty := oldQty + delta

	realized := 0.0
	if oldQty != 0 && oldQty*delta < 0 {
		closeQty := math.Min(math.Abs(oldQty), math.Abs(delta))
		dir := 1.0
		if oldQty < 0 {
			dir = -1.0
		}
		realized = closeQty * (price - state.Entry) * dir
	}

	switch {
	case oldQty == 0:
		state.Entry = price
	case oldQty*delta > 0:
		state.Entry = ((oldQty * state.Entry) + (delta * price)) / newQty
	case oldQty*newQty < 0:
		state.Entry = price
	}

	state.Qty = newQty
	if math.Abs(state.Qty) < 1e-10 {
		delete(p.positions, symbol)
	}
	return realized, math.Abs(delta), nil
}

func (p *Provider) resolveMarkPriceLocked(symbol string) float64 {
	if price, ok := p.markPx[symbol]; ok && price > 0 {
		return price
	}
	if state, ok := p.positions[symbol]; ok && state.Entry > 0 {
		return state.Entry
	}
	return defaultFallbackPrice
}

func (p *Provider) buildAccountSnapshotLocked() ([]exchange.Position, float64, float64) {
	positions := make([]exchange.Position, 0, len(p.positions))
	totalUnreal := 0.0
	totalMargin := 0.0
	for symbol, state := range p.positions {
		mark := p.resolveMarkPriceLocked(symbol)
		lev := p.leverage[symbol]
		if lev <= 0 {
			lev = 1
		}
		unreal := state.Qty * (mark - state.Entry)
		totalUnreal += unreal
		totalMargin += math.Abs(state.Qty*mark) / float64(lev)
		positions = append(positions, exchange.Position{
			Symbol:        symbol,
			Size:          state.Qty,
			EntryPrice:    state.Entry,
			MarkPrice:     mark,
			Leverage:      lev,
			UnrealizedPnL: unreal,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, totalUnreal, totalMargin
}
