package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ActionType enumerates the exchange actions this client signs.
type ActionType string

const (
	ActionTypeOrder          ActionType = "order"
	ActionTypeCancel         ActionType = "cancel"
	ActionTypeUpdateLeverage ActionType = "updateLeverage"
)

// Action is the msgpack-hashed payload sent to /exchange. Field order
// matters for the hash and matches the venue's reference encoder.
type Action struct {
	Type     ActionType      `json:"type" msgpack:"type"`
	Orders   []orderPayload  `json:"orders,omitempty" msgpack:"orders,omitempty"`
	Cancels  []cancelPayload `json:"cancels,omitempty" msgpack:"cancels,omitempty"`
	Grouping string          `json:"grouping,omitempty" msgpack:"grouping,omitempty"`
	Asset    *int            `json:"asset,omitempty" msgpack:"asset,omitempty"`
	IsCross  *bool           `json:"isCross,omitempty" msgpack:"isCross,omitempty"`
	Leverage int             `json:"leverage,omitempty" msgpack:"leverage,omitempty"`
}

type orderPayload struct {
	Asset      int              `json:"a" msgpack:"a"`
	IsBuy      bool             `json:"b" msgpack:"b"`
	LimitPx    string           `json:"p" msgpack:"p"`
	Sz         string           `json:"s" msgpack:"s"`
	ReduceOnly bool             `json:"r" msgpack:"r"`
	OrderType  orderTypePayload `json:"t" msgpack:"t"`
	Cloid      string           `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderTypePayload struct {
	Limit   *limitOrderPayload   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *triggerOrderPayload `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type limitOrderPayload struct {
	TIF string `json:"tif" msgpack:"tif"`
}

type triggerOrderPayload struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      string `json:"tpsl" msgpack:"tpsl"`
}

type cancelPayload struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

// ExchangeRequest is the signed envelope for exchange actions.
type ExchangeRequest struct {
	Action       Action    `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress string    `json:"vaultAddress,omitempty"`
}

// Signature is an ECDSA signature split into r, s, v.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// InfoRequest targets read-only endpoints that do not require signatures.
type InfoRequest struct {
	Type string         `json:"type"`
	User string         `json:"user,omitempty"`
	Req  *candleRequest `json:"req,omitempty"`
}

type candleRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type candleWire struct {
	OpenMs int64  `json:"t"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Close  string `json:"c"`
	Volume string `json:"v"`
}

type universeEntry struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

type assetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	MidPx        string `json:"midPx"`
	MarkPx       string `json:"markPx"`
}

// metaAndAssetCtxs arrives as a two-element array: [{universe}, [ctx...]].
type metaAndAssetCtxs struct {
	Universe  []universeEntry
	AssetCtxs []assetCtx
}

func (m *metaAndAssetCtxs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metaAndAssetCtxs: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("metaAndAssetCtxs: empty payload")
	}
	var meta struct {
		Universe []universeEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return fmt.Errorf("metaAndAssetCtxs universe: %w", err)
	}
	m.Universe = meta.Universe
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
			return fmt.Errorf("metaAndAssetCtxs ctxs: %w", err)
		}
	}
	return nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin          string  `json:"coin"`
			Szi           string  `json:"szi"`
			EntryPx       *string `json:"entryPx"`
			PositionValue string  `json:"positionValue"`
			UnrealizedPnl string  `json:"unrealizedPnl"`
			Leverage      struct {
				Type  string `json:"type"`
				Value int    `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
}

type spotState struct {
	Balances []struct {
		Coin  string `json:"coin"`
		Total string `json:"total"`
	} `json:"balances"`
}

type openOrder struct {
	Coin      string `json:"coin"`
	Oid       int64  `json:"oid"`
	IsTrigger bool   `json:"isTrigger"`
}

// exchangeResponse carries either a typed payload (status ok) or a bare
// error string (status err) in Response.
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func (r exchangeResponse) errorText() string {
	var text string
	if err := json.Unmarshal(r.Response, &text); err == nil && text != "" {
		return text
	}
	if len(r.Response) > 0 {
		return string(r.Response)
	}
	return "status " + r.Status
}

type orderResponse struct {
	Type string `json:"type"`
	Data struct {
		Statuses []orderStatus `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
