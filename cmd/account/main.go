// Command account prints the signing wallet, balances and open positions of
// the configured default exchange.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/internal/config"
	"perpcore/internal/svc"
	"perpcore/pkg/exchange"
	"perpcore/pkg/exchange/hyperliquid"
)

var configFile = flag.String("f", "etc/perpcore.yaml", "the config file")

func main() {
	flag.Parse()

	c := config.MustLoad(*configFile)
	logx.DisableStat()

	if err := run(context.Background(), *c); err != nil {
		fmt.Fprintf(os.Stderr, "account: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c config.Config) error {
	if p := defaultProvider(c); p != nil {
		for _, line := range walletLines(p) {
			fmt.Println(line)
		}
	} else {
		fmt.Println("no exchange section configured, reporting the paper exchange")
	}

	client, err := svc.NewExchange(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	bal, err := client.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	positions, err := client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	for _, line := range accountLines(bal, positions) {
		fmt.Println(line)
	}
	return nil
}

func defaultProvider(c config.Config) *exchange.ProviderConfig {
	if !c.Exchange.Loaded() {
		return nil
	}
	return c.Exchange.Value.Providers[c.Exchange.Value.Default]
}

// walletLines describes the signer and, in API wallet mode, the account it
// trades for. The API wallet must be registered with the main account.
func walletLines(p *exchange.ProviderConfig) []string {
	if p.Type != "hyperliquid" {
		return []string{fmt.Sprintf("provider type %s has no signing wallet", p.Type)}
	}
	signer, err := hyperliquid.NewPrivateKeySigner(p.PrivateKey)
	if err != nil {
		return []string{fmt.Sprintf("private key unusable: %v", err)}
	}
	net := "mainnet"
	if p.Testnet {
		net = "testnet"
	}
	lines := []string{fmt.Sprintf("api wallet: %s (%s)", signer.GetAddress(), net)}
	mainAddr := strings.ToLower(strings.TrimSpace(p.MainAddress))
	switch {
	case mainAddr == "" || mainAddr == signer.GetAddress():
		lines = append(lines, "main account: same as api wallet")
	default:
		lines = append(lines,
			fmt.Sprintf("main account: %s", mainAddr),
			"api wallet mode: the api wallet must be approved by the main account")
	}
	return lines
}

func accountLines(bal exchange.Balances, positions []exchange.Position) []string {
	lines := []string{
		fmt.Sprintf("account value: %.2f", bal.AccountValue),
		fmt.Sprintf("margin used:   %.2f", bal.MarginUsed),
		fmt.Sprintf("withdrawable:  %.2f", bal.Withdrawable),
	}
	if len(positions) == 0 {
		return append(lines, "positions: none")
	}
	lines = append(lines, fmt.Sprintf("positions: %d", len(positions)))
	for _, p := range positions {
		side := "long"
		if p.Size < 0 {
			side = "short"
		}
		lines = append(lines, fmt.Sprintf("  %s %s %.4f @ %.2f mark %.2f upnl %.2f x%d",
			p.Symbol, side, p.AbsSize(), p.EntryPrice, p.MarkPrice, p.UnrealizedPnL, p.Leverage))
	}
	return lines
}
