package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/exchange"
)

const (
	mainnetInfoURL     = "https://api.hyperliquid.xyz/info"
	mainnetExchangeURL = "https://api.hyperliquid.xyz/exchange"
	testnetInfoURL     = "https://api.hyperliquid-testnet.xyz/info"
	testnetExchangeURL = "https://api.hyperliquid-testnet.xyz/exchange"

	defaultHTTPTimeout  = 10 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	defaultSlippage     = 0.01
	defaultAssetTTL     = 10 * time.Minute
	maxRetryAttempts    = 3
)

// Client implements exchange.Client against the Hyperliquid info and
// exchange endpoints. Exchange actions are EIP-712 signed.
type Client struct {
	infoURL     string
	exchangeURL string
	httpClient  *http.Client
	signer      Signer
	address     string
	mainAddress string
	vault       string
	isTestnet   bool
	clock       func() time.Time
	slippage    float64

	assetMu      sync.RWMutex
	assets       map[string]assetInfo
	assetTTL     time.Duration
	assetLastRef time.Time
}

type assetInfo struct {
	Index        int
	SzDecimals   int
	MaxLeverage  int
	Funding      float64
	OpenInterest float64
	MidPx        float64
}

// ClientOption customises the Hyperliquid client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithVaultAddress signs actions on behalf of a vault.
func WithVaultAddress(addr string) ClientOption {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.vault = common.HexToAddress(addr).Hex()
		}
	}
}

// WithMainAddress sets the account queried by info requests when the signer
// is an API wallet acting for that account.
func WithMainAddress(addr string) ClientOption {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.mainAddress = common.HexToAddress(addr).Hex()
		}
	}
}

// WithClock overrides the nonce time source.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSlippage sets the fraction used to price aggressive IOC orders.
func WithSlippage(slippage float64) ClientOption {
	return func(c *Client) {
		if slippage > 0 {
			c.slippage = slippage
		}
	}
}

// WithEndpoints points the client at custom info/exchange URLs.
func WithEndpoints(infoURL, exchangeURL string) ClientOption {
	return func(c *Client) {
		if infoURL != "" {
			c.infoURL = infoURL
		}
		if exchangeURL != "" {
			c.exchangeURL = exchangeURL
		}
	}
}

// NewClient constructs a Hyperliquid client using the provided private key.
func NewClient(privateKeyHex string, isTestnet bool, opts ...ClientOption) (*Client, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("hyperliquid: private key is required")
	}
	signer, err := NewPrivateKeySigner(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: create signer: %w", err)
	}
	client := &Client{
		infoURL:     mainnetInfoURL,
		exchangeURL: mainnetExchangeURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		signer:      signer,
		address:     signer.GetAddress(),
		isTestnet:   isTestnet,
		clock:       time.Now,
		slippage:    defaultSlippage,
		assets:      make(map[string]assetInfo),
		assetTTL:    defaultAssetTTL,
	}
	if isTestnet {
		client.infoURL = testnetInfoURL
		client.exchangeURL = testnetExchangeURL
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func init() {
	exchange.RegisterProvider("hyperliquid", func(name string, cfg *exchange.ProviderConfig) (exchange.Client, error) {
		opts := []ClientOption{}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.VaultAddress != "" {
			opts = append(opts, WithVaultAddress(cfg.VaultAddress))
		}
		if cfg.MainAddress != "" {
			opts = append(opts, WithMainAddress(cfg.MainAddress))
		}
		if cfg.Slippage > 0 {
			opts = append(opts, WithSlippage(cfg.Slippage))
		}
		return NewClient(cfg.PrivateKey, cfg.Testnet, opts...)
	})
}

var _ exchange.Client = (*Client)(nil)

func (c *Client) infoAddress() string {
	if c.mainAddress != "" {
		return c.mainAddress
	}
	return c.address
}

// doInfoRequest queries the public info endpoint, retrying transport and
// non-2xx failures with exponential backoff.
func (c *Client) doInfoRequest(ctx context.Context, req InfoRequest, result interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode info request: %w", err)
	}
	backoff := defaultRetryBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("hyperliquid: build info request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("hyperliquid: read info response: %w", readErr)
			case resp.StatusCode < http.StatusOK || resp.StatusCode >= 300:
				lastErr = fmt.Errorf("hyperliquid: info %s http status %d: %s", req.Type, resp.StatusCode, string(body))
			case result == nil:
				return nil
			default:
				if err := json.Unmarshal(body, result); err != nil {
					return fmt.Errorf("hyperliquid: decode %s response: %w", req.Type, err)
				}
				return nil
			}
		}
		logx.WithContext(ctx).Slowf("hyperliquid: info %s attempt %d failed: %v", req.Type, attempt+1, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

// doExchangeRequest signs and submits an exchange action. It is never
// retried: the caller reconciles against venue state instead.
func (c *Client) doExchangeRequest(ctx context.Context, action Action, result interface{}) error {
	exchangeReq, err := signAction(action, c.signer, c.clock().UnixMilli(), c.vault, !c.isTestnet)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(exchangeReq)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode exchange request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.exchangeURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("hyperliquid: build exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hyperliquid: read exchange response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= 300 {
		return fmt.Errorf("hyperliquid: exchange http status %d: %s", resp.StatusCode, string(body))
	}
	var envelope exchangeResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("hyperliquid: decode exchange response: %w", err)
	}
	if envelope.Status != "ok" {
		return fmt.Errorf("hyperliquid: %s rejected: %s", action.Type, envelope.errorText())
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Response, result); err != nil {
			return fmt.Errorf("hyperliquid: decode %s payload: %w", action.Type, err)
		}
	}
	return nil
}
