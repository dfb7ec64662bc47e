package hyperliquid

import (
	"context"
	"fmt"
	"time"

	"perpcore/pkg/exchange"
)

// GetAllMidPrices returns mid prices keyed by coin.
func (c *Client) GetAllMidPrices(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "allMids"}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for coin, px := range raw {
		if v := parseFloat(px); v > 0 {
			out[exchange.Canonical(coin)] = v
		}
	}
	return out, nil
}

// GetCandleSnapshot returns candles for [start, end]; a zero end means now.
func (c *Client) GetCandleSnapshot(ctx context.Context, symbol, interval string, start, end time.Time) ([]exchange.Candle, error) {
	if end.IsZero() {
		end = c.clock()
	}
	req := InfoRequest{
		Type: "candleSnapshot",
		Req: &candleRequest{
			Coin:      exchange.Canonical(symbol),
			Interval:  interval,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}
	var raw []candleWire
	if err := c.doInfoRequest(ctx, req, &raw); err != nil {
		return nil, err
	}
	out := make([]exchange.Candle, 0, len(raw))
	for _, k := range raw {
		out = append(out, exchange.Candle{
			OpenTime: time.UnixMilli(k.OpenMs).UTC(),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return out, nil
}

// GetFundingRates returns the current hourly funding rate per coin.
func (c *Client) GetFundingRates(ctx context.Context) (map[string]float64, error) {
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return nil, err
	}
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	out := make(map[string]float64, len(c.assets))
	for coin, info := range c.assets {
		out[coin] = info.Funding
	}
	return out, nil
}

// GetOpenInterest returns open interest (in coin units) per coin.
func (c *Client) GetOpenInterest(ctx context.Context) (map[string]float64, error) {
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return nil, err
	}
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	out := make(map[string]float64, len(c.assets))
	for coin, info := range c.assets {
		out[coin] = info.OpenInterest
	}
	return out, nil
}

// GetPositions returns open perp positions for the info address.
func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		size := parseFloat(p.Szi)
		if size == 0 {
			continue
		}
		pos := exchange.Position{
			Symbol:        exchange.Canonical(p.Coin),
			Size:          size,
			Leverage:      p.Leverage.Value,
			UnrealizedPnL: parseFloat(p.UnrealizedPnl),
		}
		if p.EntryPx != nil {
			pos.EntryPrice = parseFloat(*p.EntryPx)
		}
		if value := parseFloat(p.PositionValue); value > 0 {
			pos.MarkPrice = value / pos.AbsSize()
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetBalances combines perp margin summary with spot holdings.
func (c *Client) GetBalances(ctx context.Context) (exchange.Balances, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return exchange.Balances{}, err
	}
	bal := exchange.Balances{
		AccountValue: parseFloat(state.MarginSummary.AccountValue),
		MarginUsed:   parseFloat(state.MarginSummary.TotalMarginUsed),
		Withdrawable: parseFloat(state.Withdrawable),
		Spot:         map[string]float64{},
	}
	var spot spotState
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "spotClearinghouseState", User: c.infoAddress()}, &spot); err != nil {
		return bal, nil
	}
	for _, b := range spot.Balances {
		if v := parseFloat(b.Total); v != 0 {
			bal.Spot[b.Coin] = v
		}
	}
	return bal, nil
}

// GetSzDecimals returns the size precision for symbol.
func (c *Client) GetSzDecimals(ctx context.Context, symbol string) (int, error) {
	info, err := c.asset(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return info.SzDecimals, nil
}

func (c *Client) clearinghouse(ctx context.Context) (*clearinghouseState, error) {
	addr := c.infoAddress()
	if addr == "" {
		return nil, fmt.Errorf("hyperliquid: client address unavailable")
	}
	var state clearinghouseState
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "clearinghouseState", User: addr}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) asset(ctx context.Context, symbol string) (assetInfo, error) {
	key := exchange.Canonical(symbol)
	if key == "" {
		return assetInfo{}, fmt.Errorf("hyperliquid: empty coin symbol")
	}
	c.assetMu.RLock()
	info, ok := c.assets[key]
	fresh := c.clock().Sub(c.assetLastRef) < c.assetTTL
	c.assetMu.RUnlock()
	if ok && fresh {
		return info, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		if ok {
			return info, nil
		}
		return assetInfo{}, err
	}
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	if info, ok := c.assets[key]; ok {
		return info, nil
	}
	return assetInfo{}, fmt.Errorf("hyperliquid: asset %s not found", symbol)
}

func (c *Client) refreshAssetDirectory(ctx context.Context) error {
	var resp metaAndAssetCtxs
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return err
	}
	if len(resp.Universe) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs response contained no assets")
	}
	assets := make(map[string]assetInfo, len(resp.Universe))
	for idx, entry := range resp.Universe {
		key := exchange.Canonical(entry.Name)
		if key == "" || entry.IsDelisted {
			continue
		}
		info := assetInfo{Index: idx, SzDecimals: entry.SzDecimals, MaxLeverage: entry.MaxLeverage}
		if idx < len(resp.AssetCtxs) {
			info.Funding = parseFloat(resp.AssetCtxs[idx].Funding)
			info.OpenInterest = parseFloat(resp.AssetCtxs[idx].OpenInterest)
			info.MidPx = parseFloat(resp.AssetCtxs[idx].MidPx)
			if info.MidPx == 0 {
				info.MidPx = parseFloat(resp.AssetCtxs[idx].MarkPx)
			}
		}
		assets[key] = info
	}
	c.assetMu.Lock()
	c.assets = assets
	c.assetLastRef = c.clock()
	c.assetMu.Unlock()
	return nil
}
