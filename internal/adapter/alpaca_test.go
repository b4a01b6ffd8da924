package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/ezbot/feedd/internal/feed"
)

type fakeAccountAPI struct {
	acct      *alpaca.Account
	positions []alpaca.Position
	err       error
}

func (f *fakeAccountAPI) GetAccount() (*alpaca.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.acct, nil
}

func (f *fakeAccountAPI) GetPositions() ([]alpaca.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func newTestAlpaca(t *testing.T, api accountAPI) *alpacaAccount {
	t.Helper()
	built, err := Build(feed.Descriptor{
		Name:     "alpaca_test",
		Class:    feed.ClassAccount,
		Priority: feed.PriorityHigh,
		Adapter:  "alpaca_account",
		Params: map[string]string{
			"api_key":    "k",
			"api_secret": "s",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	a := built.(*alpacaAccount)
	a.client = api
	return a
}

func TestAlpacaAccountCollect(t *testing.T) {
	api := &fakeAccountAPI{
		acct: &alpaca.Account{
			AccountNumber:    "PA3TEST",
			Equity:           decimal.NewFromFloat(105000),
			LastEquity:       decimal.NewFromFloat(100000),
			Cash:             decimal.NewFromFloat(25000),
			BuyingPower:      decimal.NewFromFloat(50000),
			PortfolioValue:   decimal.NewFromFloat(105000),
			PatternDayTrader: true,
		},
		positions: make([]alpaca.Position, 4),
	}
	a := newTestAlpaca(t, api)

	sink := &captureSink{}
	if err := a.collectOnce(t.Context(), sink); err != nil {
		t.Fatal(err)
	}

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	checkValid(t, rec)

	if rec.Symbol != "PA3TEST" {
		t.Errorf("symbol = %s", rec.Symbol)
	}
	if e, _ := rec.Field("equity"); e != 105000.0 {
		t.Errorf("equity = %v", e)
	}
	if pnl, _ := rec.Field("day_pnl"); pnl != 5000.0 {
		t.Errorf("day_pnl = %v", pnl)
	}
	if n, _ := rec.Field("positions"); n != 4 {
		t.Errorf("positions = %v", n)
	}
	if pdt, _ := rec.Field("pattern_day_trader"); pdt != true {
		t.Errorf("pattern_day_trader = %v", pdt)
	}
}

func TestAlpacaAccountVendorError(t *testing.T) {
	a := newTestAlpaca(t, &fakeAccountAPI{err: errors.New("401 unauthorized")})
	if err := a.collectOnce(t.Context(), &captureSink{}); err == nil {
		t.Fatal("collect succeeded with failing vendor")
	}
}

func TestAlpacaAccountRequiresCredentials(t *testing.T) {
	for _, missing := range []string{"api_key", "api_secret"} {
		params := map[string]string{"api_key": "k", "api_secret": "s"}
		delete(params, missing)
		_, err := Build(feed.Descriptor{
			Name:     "alpaca_nocreds",
			Class:    feed.ClassAccount,
			Priority: feed.PriorityHigh,
			Adapter:  "alpaca_account",
			Params:   params,
		})
		if err == nil {
			t.Errorf("Build succeeded without %s", missing)
		}
	}
}

func TestAlpacaDefaultInterval(t *testing.T) {
	a := newTestAlpaca(t, &fakeAccountAPI{acct: &alpaca.Account{}})
	if a.interval != time.Minute {
		t.Fatalf("interval = %v, want 1m", a.interval)
	}
}
