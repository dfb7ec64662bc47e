package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/exchange"
)

const testPrivateKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f"

const metaFixture = `[
  {"universe":[
    {"name":"BTC","szDecimals":5,"maxLeverage":40},
    {"name":"ETH","szDecimals":4,"maxLeverage":25},
    {"name":"OLD","szDecimals":2,"maxLeverage":3,"isDelisted":true}
  ]},
  [
    {"funding":"0.0000125","midPx":"64000.0","markPx":"64001.0"},
    {"funding":"-0.00002","midPx":"3100.0","markPx":"3100.5"},
    {"funding":"0","midPx":"1.0","markPx":"1.0"}
  ]
]`

// fakeVenue serves info requests from fixtures and records exchange actions.
type fakeVenue struct {
	mu      sync.Mutex
	info    map[string]string
	actions []ExchangeRequest
	reply   string
}

func newFakeVenue(t *testing.T) (*fakeVenue, *httptest.Server) {
	t.Helper()
	v := &fakeVenue{info: map[string]string{"metaAndAssetCtxs": metaFixture}}
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req InfoRequest
		_ = json.Unmarshal(body, &req)
		v.mu.Lock()
		payload, ok := v.info[req.Type]
		v.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(payload))
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		var req ExchangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		v.mu.Lock()
		v.actions = append(v.actions, req)
		reply := v.reply
		v.mu.Unlock()
		if reply == "" {
			reply = `{"status":"ok","response":{"type":"default"}}`
		}
		_, _ = w.Write([]byte(reply))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return v, srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(testPrivateKey, true, WithEndpoints(srv.URL+"/info", srv.URL+"/exchange"))
	require.NoError(t, err)
	return client
}

func TestSignActionDeterministic(t *testing.T) {
	asset := 1
	action := Action{Type: ActionTypeOrder, Grouping: "na", Orders: []orderPayload{{
		Asset: asset, IsBuy: true, LimitPx: "3200.5", Sz: "1.5",
		OrderType: orderTypePayload{Limit: &limitOrderPayload{TIF: "Ioc"}},
	}}}
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	nonce := int64(1700000005000)
	req, err := signAction(action, signer, nonce, "", true)
	require.NoError(t, err)
	assert.Equal(t, nonce, req.Nonce)

	digest, err := actionDigest(action, nonce, "", true)
	require.NoError(t, err)
	require.Len(t, digest, 32)
	sig, err := crypto.Sign(digest, signer.privateKey)
	require.NoError(t, err)
	assert.Equal(t, "0x"+common.Bytes2Hex(sig[:32]), req.Signature.R)
	assert.Equal(t, "0x"+common.Bytes2Hex(sig[32:64]), req.Signature.S)
	assert.Equal(t, int(sig[64])+27, req.Signature.V)

	testnet, err := actionDigest(action, nonce, "", false)
	require.NoError(t, err)
	assert.NotEqual(t, digest, testnet, "mainnet and testnet digests must differ")
}

func TestActionDigestRejectsBadInput(t *testing.T) {
	_, err := actionDigest(Action{Type: ActionTypeOrder}, 0, "", true)
	assert.Error(t, err)
	_, err = actionDigest(Action{Type: ActionTypeOrder}, 1, "not-an-address", true)
	assert.Error(t, err)
}

func TestGetSzDecimalsAndFunding(t *testing.T) {
	_, srv := newFakeVenue(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	d, err := client.GetSzDecimals(ctx, "eth-perp")
	require.NoError(t, err)
	assert.Equal(t, 4, d)

	_, err = client.GetSzDecimals(ctx, "OLD")
	assert.Error(t, err, "delisted assets are not tradable")

	funding, err := client.GetFundingRates(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -0.00002, funding["ETH"], 1e-12)
}

func TestGetPositionsAndBalances(t *testing.T) {
	venue, srv := newFakeVenue(t)
	venue.info["clearinghouseState"] = `{
		"assetPositions":[
			{"position":{"coin":"ETH","szi":"-2.5","entryPx":"3000","positionValue":"7750","unrealizedPnl":"-250","leverage":{"type":"cross","value":5}}},
			{"position":{"coin":"BTC","szi":"0","entryPx":null,"positionValue":"0","unrealizedPnl":"0","leverage":{"type":"cross","value":1}}}
		],
		"marginSummary":{"accountValue":"10000.5","totalMarginUsed":"1550"},
		"withdrawable":"8450.5"
	}`
	venue.info["spotClearinghouseState"] = `{"balances":[{"coin":"USDC","total":"125.5","hold":"0"}]}`
	client := newTestClient(t, srv)
	ctx := context.Background()

	positions, err := client.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1, "flat positions are skipped")
	assert.Equal(t, "ETH", positions[0].Symbol)
	assert.InDelta(t, -2.5, positions[0].Size, 1e-12)
	assert.InDelta(t, 3100, positions[0].MarkPrice, 1e-9)
	assert.Equal(t, 5, positions[0].Leverage)

	bal, err := client.GetBalances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000.5, bal.AccountValue, 1e-9)
	assert.InDelta(t, 125.5, bal.Spot["USDC"], 1e-9)
}

func TestGetCandleSnapshot(t *testing.T) {
	venue, srv := newFakeVenue(t)
	venue.info["candleSnapshot"] = `[
		{"t":1700000000000,"T":1700003599999,"s":"BTC","i":"1h","o":"100","c":"101","h":"102","l":"99","v":"12.5","n":10}
	]`
	client := newTestClient(t, srv)

	candles, err := client.GetCandleSnapshot(context.Background(), "BTC", "1h", time.UnixMilli(1699990000000), time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
}

func TestPlaceOrderMarketPricing(t *testing.T) {
	venue, srv := newFakeVenue(t)
	venue.info["allMids"] = `{"ETH":"3100.0"}`
	venue.reply = `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.5","avgPx":"3101.2","oid":77}}]}}}`
	client := newTestClient(t, srv)

	res, err := client.PlaceOrder(context.Background(), exchange.OrderSpec{Symbol: "ETH", IsBuy: true, Size: 0.50009})
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.Equal(t, "77", res.OrderID)
	assert.InDelta(t, 3101.2, res.AvgPrice, 1e-9)

	require.Len(t, venue.actions, 1)
	order := venue.actions[0].Action.Orders[0]
	assert.Equal(t, 1, order.Asset, "ETH is index 1 in the universe")
	assert.Equal(t, "0.5", order.Sz, "size truncates to szDecimals")
	assert.Equal(t, "3131", order.LimitPx, "mid plus 1% slippage at five significant figures")
	require.NotNil(t, order.OrderType.Limit)
	assert.Equal(t, "Ioc", order.OrderType.Limit.TIF)
}

func TestPlaceOrderReportsVenueError(t *testing.T) {
	venue, srv := newFakeVenue(t)
	venue.reply = `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Insufficient margin"}]}}}`
	client := newTestClient(t, srv)

	res, err := client.PlaceOrder(context.Background(), exchange.OrderSpec{Symbol: "BTC", IsBuy: false, Size: 0.01, LimitPrice: 64000})
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Equal(t, "Insufficient margin", res.Error)
}

func TestPlaceTriggerOrderAndCancel(t *testing.T) {
	venue, srv := newFakeVenue(t)
	venue.reply = `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":991}}]}}}`
	client := newTestClient(t, srv)
	ctx := context.Background()

	res, err := client.PlaceTriggerOrder(ctx, exchange.TriggerSpec{Symbol: "BTC", IsBuy: false, Size: 0.01, TriggerPrice: 60000, Kind: exchange.TriggerStopLoss})
	require.NoError(t, err)
	assert.Equal(t, "991", res.OrderID)
	trig := venue.actions[0].Action.Orders[0]
	assert.True(t, trig.ReduceOnly)
	require.NotNil(t, trig.OrderType.Trigger)
	assert.Equal(t, "sl", trig.OrderType.Trigger.Tpsl)
	assert.Equal(t, "60000", trig.OrderType.Trigger.TriggerPx)

	venue.reply = `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`
	venue.info["frontendOpenOrders"] = `[
		{"coin":"BTC","oid":991,"isTrigger":true},
		{"coin":"BTC","oid":992,"isTrigger":false},
		{"coin":"ETH","oid":993,"isTrigger":true}
	]`
	require.NoError(t, client.CancelTriggerOrders(ctx, "BTC"))
	cancel := venue.actions[len(venue.actions)-1].Action
	assert.Equal(t, ActionTypeCancel, cancel.Type)
	require.Len(t, cancel.Cancels, 1)
	assert.Equal(t, int64(991), cancel.Cancels[0].Oid)
}

func TestUpdateLeverageCapsAtVenueMax(t *testing.T) {
	venue, srv := newFakeVenue(t)
	client := newTestClient(t, srv)

	require.NoError(t, client.UpdateLeverage(context.Background(), "ETH", 50, true))
	action := venue.actions[0].Action
	assert.Equal(t, ActionTypeUpdateLeverage, action.Type)
	assert.Equal(t, 25, action.Leverage)
	require.NotNil(t, action.IsCross)
	assert.True(t, *action.IsCross)
}

func TestExchangeErrorStatus(t *testing.T) {
	venue, srv := newFakeVenue(t)
	venue.reply = `{"status":"err","response":"User or API Wallet does not exist."}`
	client := newTestClient(t, srv)

	err := client.UpdateLeverage(context.Background(), "BTC", 3, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "64001", formatPrice(64000.6, 5))
	assert.Equal(t, "3131", formatPrice(3131.0, 4))
	assert.Equal(t, "1.2346", formatPrice(1.234567, 2))
	assert.Equal(t, "0.012346", formatPrice(0.0123456, 0))
}
