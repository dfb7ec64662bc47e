package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/exchange"
)

// Well known test key; never funded.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestWalletLines(t *testing.T) {
	lines := walletLines(&exchange.ProviderConfig{Type: "hyperliquid", PrivateKey: testKey, Testnet: true})
	require.Len(t, lines, 2)
	assert.Equal(t, "api wallet: 0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266 (testnet)", lines[0])
	assert.Equal(t, "main account: same as api wallet", lines[1])

	lines = walletLines(&exchange.ProviderConfig{Type: "hyperliquid", PrivateKey: testKey, MainAddress: "0xABC"})
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "(mainnet)")
	assert.Equal(t, "main account: 0xabc", lines[1])

	lines = walletLines(&exchange.ProviderConfig{Type: "hyperliquid", PrivateKey: "zz"})
	assert.Contains(t, lines[0], "private key unusable")

	lines = walletLines(&exchange.ProviderConfig{Type: "sim"})
	assert.Equal(t, []string{"provider type sim has no signing wallet"}, lines)
}

func TestAccountLines(t *testing.T) {
	lines := accountLines(exchange.Balances{AccountValue: 1000}, nil)
	assert.Equal(t, "positions: none", lines[len(lines)-1])

	lines = accountLines(exchange.Balances{AccountValue: 1000}, []exchange.Position{
		{Symbol: "ETH", Size: -0.5, EntryPrice: 3000, MarkPrice: 2900, UnrealizedPnL: 50, Leverage: 3},
	})
	assert.Equal(t, "positions: 1", lines[3])
	assert.Equal(t, "  ETH short 0.5000 @ 3000.00 mark 2900.00 upnl 50.00 x3", lines[4])
}
