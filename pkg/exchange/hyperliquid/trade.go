package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"perpcore/pkg/exchange"
)

const (
	priceSigFigs    = 5
	maxPerpDecimals = 6
	triggerSlippage = 0.1
)

// PlaceOrder submits an IOC limit order. A zero LimitPrice is priced off the
// current mid with the configured slippage.
func (c *Client) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderResult, error) {
	if spec.Size <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("hyperliquid: size must be positive")
	}
	info, err := c.asset(ctx, spec.Symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	px := spec.LimitPrice
	if px <= 0 {
		mids, err := c.GetAllMidPrices(ctx)
		if err != nil {
			return exchange.OrderResult{}, err
		}
		mid := mids[exchange.Canonical(spec.Symbol)]
		if mid <= 0 {
			return exchange.OrderResult{}, fmt.Errorf("hyperliquid: missing mid price for %s", spec.Symbol)
		}
		if spec.IsBuy {
			px = mid * (1 + c.slippage)
		} else {
			px = mid * (1 - c.slippage)
		}
	}
	size := exchange.RoundSize(spec.Size, info.SzDecimals)
	if size <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("hyperliquid: size %.8f rounds to zero at %d decimals", spec.Size, info.SzDecimals)
	}
	order := orderPayload{
		Asset:      info.Index,
		IsBuy:      spec.IsBuy,
		LimitPx:    formatPrice(px, info.SzDecimals),
		Sz:         formatSize(size, info.SzDecimals),
		ReduceOnly: spec.ReduceOnly,
		OrderType:  orderTypePayload{Limit: &limitOrderPayload{TIF: "Ioc"}},
		Cloid:      spec.ClientID,
	}
	status, err := c.submitOrder(ctx, order)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	switch {
	case status.Error != "":
		return exchange.OrderResult{Error: status.Error}, nil
	case status.Filled != nil:
		return exchange.OrderResult{
			OrderID:    strconv.FormatInt(status.Filled.Oid, 10),
			Filled:     true,
			FilledSize: parseFloat(status.Filled.TotalSz),
			AvgPrice:   parseFloat(status.Filled.AvgPx),
		}, nil
	case status.Resting != nil:
		return exchange.OrderResult{OrderID: strconv.FormatInt(status.Resting.Oid, 10)}, nil
	}
	return exchange.OrderResult{Error: "empty order status"}, nil
}

// PlaceTriggerOrder places a reduce-only market trigger (stop loss or take profit).
func (c *Client) PlaceTriggerOrder(ctx context.Context, spec exchange.TriggerSpec) (exchange.TriggerResult, error) {
	if spec.TriggerPrice <= 0 || spec.Size <= 0 {
		return exchange.TriggerResult{}, fmt.Errorf("hyperliquid: trigger price and size must be positive")
	}
	info, err := c.asset(ctx, spec.Symbol)
	if err != nil {
		return exchange.TriggerResult{}, err
	}
	limit := spec.TriggerPrice * (1 - triggerSlippage)
	if spec.IsBuy {
		limit = spec.TriggerPrice * (1 + triggerSlippage)
	}
	order := orderPayload{
		Asset:      info.Index,
		IsBuy:      spec.IsBuy,
		LimitPx:    formatPrice(limit, info.SzDecimals),
		Sz:         formatSize(exchange.RoundSize(spec.Size, info.SzDecimals), info.SzDecimals),
		ReduceOnly: true,
		OrderType: orderTypePayload{Trigger: &triggerOrderPayload{
			IsMarket:  true,
			TriggerPx: formatPrice(spec.TriggerPrice, info.SzDecimals),
			Tpsl:      string(spec.Kind),
		}},
	}
	status, err := c.submitOrder(ctx, order)
	if err != nil {
		return exchange.TriggerResult{}, err
	}
	if status.Error != "" {
		return exchange.TriggerResult{}, fmt.Errorf("hyperliquid: trigger rejected: %s", status.Error)
	}
	if status.Resting != nil {
		return exchange.TriggerResult{OrderID: strconv.FormatInt(status.Resting.Oid, 10)}, nil
	}
	return exchange.TriggerResult{}, nil
}

// CancelOrder cancels one resting order by venue id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	oid, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("hyperliquid: invalid order id %q", orderID)
	}
	info, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	action := Action{Type: ActionTypeCancel, Cancels: []cancelPayload{{Asset: info.Index, Oid: oid}}}
	return c.doExchangeRequest(ctx, action, nil)
}

// CancelTriggerOrders cancels every resting trigger order on symbol.
func (c *Client) CancelTriggerOrders(ctx context.Context, symbol string) error {
	info, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	var open []openOrder
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "frontendOpenOrders", User: c.infoAddress()}, &open); err != nil {
		return err
	}
	coin := exchange.Canonical(symbol)
	cancels := make([]cancelPayload, 0)
	for _, o := range open {
		if o.IsTrigger && exchange.Canonical(o.Coin) == coin {
			cancels = append(cancels, cancelPayload{Asset: info.Index, Oid: o.Oid})
		}
	}
	if len(cancels) == 0 {
		return nil
	}
	return c.doExchangeRequest(ctx, Action{Type: ActionTypeCancel, Cancels: cancels}, nil)
}

// UpdateLeverage sets leverage for symbol, capped at the venue maximum.
func (c *Client) UpdateLeverage(ctx context.Context, symbol string, leverage int, cross bool) error {
	if leverage <= 0 {
		return fmt.Errorf("hyperliquid: leverage must be positive")
	}
	info, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	if info.MaxLeverage > 0 && leverage > info.MaxLeverage {
		leverage = info.MaxLeverage
	}
	asset := info.Index
	action := Action{
		Type:     ActionTypeUpdateLeverage,
		Asset:    &asset,
		IsCross:  &cross,
		Leverage: leverage,
	}
	return c.doExchangeRequest(ctx, action, nil)
}

func (c *Client) submitOrder(ctx context.Context, order orderPayload) (orderStatus, error) {
	action := Action{Type: ActionTypeOrder, Orders: []orderPayload{order}, Grouping: "na"}
	var resp orderResponse
	if err := c.doExchangeRequest(ctx, action, &resp); err != nil {
		return orderStatus{}, err
	}
	if len(resp.Data.Statuses) == 0 {
		return orderStatus{}, fmt.Errorf("hyperliquid: order response without statuses")
	}
	return resp.Data.Statuses[0], nil
}

// formatPrice rounds to five significant figures and at most
// 6-szDecimals decimal places.
func formatPrice(px float64, szDecimals int) string {
	if px <= 0 {
		return "0"
	}
	magnitude := int(math.Floor(math.Log10(px))) + 1
	places := priceSigFigs - magnitude
	if maxPlaces := maxPerpDecimals - szDecimals; places > maxPlaces {
		places = maxPlaces
	}
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(px).Round(int32(places)).String()
}

func formatSize(size float64, szDecimals int) string {
	return decimal.NewFromFloat(size).Truncate(int32(szDecimals)).String()
}
