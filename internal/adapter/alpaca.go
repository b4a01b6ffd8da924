package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"github.com/ezbot/feedd/internal/feed"
)

func init() {
	RegisterBuilder("alpaca_account", newAlpacaAccount)
}

// =============================================================================
// Alpaca Account Adapter
// =============================================================================

const defaultAlpacaURL = "https://paper-api.alpaca.markets"

// accountAPI is the slice of the Alpaca trading client the adapter
// needs. *alpaca.Client satisfies it; tests substitute a fake.
type accountAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
}

// alpacaAccount polls the Alpaca trading API for account equity and
// open positions. Day P&L is equity minus last close equity, the same
// derivation the Alpaca dashboard shows.
//
// Params: api_key, api_secret, interval (default 60s), base_url
// (default paper trading).
type alpacaAccount struct {
	*poller
	client accountAPI
}

func newAlpacaAccount(desc feed.Descriptor) (Adapter, error) {
	key, err := requireParam(desc, "api_key")
	if err != nil {
		return nil, err
	}
	secret, err := requireParam(desc, "api_secret")
	if err != nil {
		return nil, err
	}
	interval, err := durationParam(desc, "interval", time.Minute)
	if err != nil {
		return nil, err
	}

	a := &alpacaAccount{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    key,
			APISecret: secret,
			BaseURL:   paramOr(desc, "base_url", defaultAlpacaURL),
		}),
	}
	a.poller = newPoller(desc.Name, interval, 1, a.collectOnce)
	return a, nil
}

func (a *alpacaAccount) collectOnce(ctx context.Context, sink feed.Sink) error {
	acct, err := a.client.GetAccount()
	if err != nil {
		return fmt.Errorf("alpaca: account: %w", err)
	}
	positions, err := a.client.GetPositions()
	if err != nil {
		return fmt.Errorf("alpaca: positions: %w", err)
	}

	equity := acct.Equity.InexactFloat64()
	sink.Write(feed.Record{
		Timestamp: time.Now().UTC(),
		Symbol:    acct.AccountNumber,
		Class:     feed.ClassAccount,
		Fields: map[string]any{
			"equity":             equity,
			"cash":               acct.Cash.InexactFloat64(),
			"buying_power":       acct.BuyingPower.InexactFloat64(),
			"portfolio_value":    acct.PortfolioValue.InexactFloat64(),
			"day_pnl":            equity - acct.LastEquity.InexactFloat64(),
			"positions":          len(positions),
			"pattern_day_trader": acct.PatternDayTrader,
		},
	})
	return nil
}
