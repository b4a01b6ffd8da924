package adapter

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ezbot/feedd/internal/feed"
)

func init() {
	RegisterBuilder("polygon_options", newPolygonOptions)
}

// =============================================================================
// Polygon Options Adapter
// =============================================================================

// polygonOptions polls the Polygon options-chain snapshot for each
// configured underlying and walks the next_url cursor until the chain
// is exhausted or maxChainPages is hit. Contracts land in the options
// table with greeks when the vendor supplies them.
//
// Params: api_key, underlyings (comma-separated), interval (default
// 30s), page_limit (contracts per page, default 250), base_url,
// rate_limit (default 5).
type polygonOptions struct {
	*poller
	client      *polygonClient
	underlyings []string
	pageLimit   int
}

// maxChainPages bounds the cursor walk per underlying per cycle.
const maxChainPages = 10

func newPolygonOptions(desc feed.Descriptor) (Adapter, error) {
	key, err := requireParam(desc, "api_key")
	if err != nil {
		return nil, err
	}
	underlyings, err := symbolsParam(desc, "underlyings")
	if err != nil {
		return nil, err
	}
	interval, err := durationParam(desc, "interval", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pageLimit, err := intParam(desc, "page_limit", 250)
	if err != nil {
		return nil, err
	}
	rps, err := floatParam(desc, "rate_limit", 5)
	if err != nil {
		return nil, err
	}

	a := &polygonOptions{
		client:      newPolygonClient(paramOr(desc, "base_url", defaultPolygonURL), key),
		underlyings: underlyings,
		pageLimit:   pageLimit,
	}
	a.poller = newPoller(desc.Name, interval, rps, a.collectOnce)
	return a, nil
}

type polygonChainResp struct {
	Results []struct {
		Details struct {
			Ticker       string  `json:"ticker"`
			Strike       float64 `json:"strike_price"`
			Expiration   string  `json:"expiration_date"`
			ContractType string  `json:"contract_type"`
		} `json:"details"`
		Day struct {
			Close  float64 `json:"close"`
			Volume float64 `json:"volume"`
		} `json:"day"`
		Greeks struct {
			Delta float64 `json:"delta"`
			Gamma float64 `json:"gamma"`
			Theta float64 `json:"theta"`
			Vega  float64 `json:"vega"`
		} `json:"greeks"`
		ImpliedVol   float64 `json:"implied_volatility"`
		OpenInterest float64 `json:"open_interest"`
	} `json:"results"`
	NextURL string `json:"next_url"`
}

func (a *polygonOptions) collectOnce(ctx context.Context, sink feed.Sink) error {
	for _, underlying := range a.underlyings {
		if err := a.collectChain(ctx, sink, underlying); err != nil {
			return err
		}
	}
	return nil
}

func (a *polygonOptions) collectChain(ctx context.Context, sink feed.Sink, underlying string) error {
	path := "/v3/snapshot/options/" + underlying
	query := url.Values{"limit": {strconv.Itoa(a.pageLimit)}}

	for page := 0; path != "" && page < maxChainPages; page++ {
		if page > 0 && a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var chain polygonChainResp
		if err := a.client.getJSON(ctx, path, query, &chain); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, c := range chain.Results {
			expiry, err := time.Parse("2006-01-02", c.Details.Expiration)
			if err != nil {
				continue
			}
			rec := feed.Record{
				Timestamp: now,
				Symbol:    strings.ToUpper(c.Details.Ticker),
				Class:     feed.ClassOption,
				Fields: map[string]any{
					"underlying":    underlying,
					"strike":        c.Details.Strike,
					"expiry":        expiry.UTC(),
					"contract_type": strings.ToLower(c.Details.ContractType),
				},
			}
			if c.Day.Close > 0 {
				rec.Fields["price"] = c.Day.Close
				rec.Fields["size"] = int64(c.Day.Volume)
			}
			if c.OpenInterest > 0 {
				rec.Fields["open_interest"] = int64(c.OpenInterest)
			}
			if c.ImpliedVol > 0 {
				rec.Fields["implied_vol"] = c.ImpliedVol
				rec.Fields["delta"] = c.Greeks.Delta
				rec.Fields["gamma"] = c.Greeks.Gamma
				rec.Fields["theta"] = c.Greeks.Theta
				rec.Fields["vega"] = c.Greeks.Vega
			}
			sink.Write(rec)
		}

		// next_url is a fully-qualified cursor; limit is baked in.
		path = stripKey(chain.NextURL)
		query = nil
	}
	return nil
}
