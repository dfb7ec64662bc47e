package exchange

import (
	"context"
	"time"
)

// Client is the trading venue surface consumed by the decision core.
// Implementations must honour the context deadline on every call.
type Client interface {
	// Market data.
	GetAllMidPrices(ctx context.Context) (map[string]float64, error)
	GetCandleSnapshot(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
	GetFundingRates(ctx context.Context) (map[string]float64, error)

	// Positions and orders.
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, spec OrderSpec) (OrderResult, error)
	PlaceTriggerOrder(ctx context.Context, spec TriggerSpec) (TriggerResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelTriggerOrders(ctx context.Context, symbol string) error
	UpdateLeverage(ctx context.Context, symbol string, leverage int, cross bool) error

	// Metadata and account.
	GetSzDecimals(ctx context.Context, symbol string) (int, error)
	GetBalances(ctx context.Context) (Balances, error)
}
