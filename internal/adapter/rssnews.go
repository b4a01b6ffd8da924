package adapter

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

func init() {
	RegisterBuilder("rss_news", newRSSNews)
}

// =============================================================================
// RSS News Adapter
// =============================================================================

const defaultNewsQueryURL = "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en"

// rssNews polls an RSS search endpoint per watched symbol and emits
// fresh articles into the news table. Articles are deduplicated by
// headline within a bounded seen-set so restarts re-emit at most one
// poll window of history.
//
// Params: symbols, interval (default 2m), query_url (printf template
// with one %s for the escaped query), lookback (default 1h).
type rssNews struct {
	*poller
	http     *http.Client
	queryURL string
	symbols  []string
	lookback time.Duration

	mu   sync.Mutex
	seen map[string]struct{}
}

// maxSeen bounds the dedup set; oldest entries are dropped wholesale.
const maxSeen = 4096

func newRSSNews(desc feed.Descriptor) (Adapter, error) {
	symbols, err := symbolsParam(desc, "symbols")
	if err != nil {
		return nil, err
	}
	interval, err := durationParam(desc, "interval", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	lookback, err := durationParam(desc, "lookback", time.Hour)
	if err != nil {
		return nil, err
	}
	queryURL := paramOr(desc, "query_url", defaultNewsQueryURL)
	if !strings.Contains(queryURL, "%s") {
		return nil, errors.Wrapf(errors.ErrInvalidManifest, "feed %s: query_url must contain a %%s query placeholder", desc.Name)
	}

	a := &rssNews{
		http:     &http.Client{Timeout: 10 * time.Second},
		queryURL: queryURL,
		symbols:  symbols,
		lookback: lookback,
		seen:     make(map[string]struct{}),
	}
	a.poller = newPoller(desc.Name, interval, 1, a.collectOnce)
	return a, nil
}

type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

func (a *rssNews) collectOnce(ctx context.Context, sink feed.Sink) error {
	cutoff := time.Now().Add(-a.lookback)
	for i, sym := range a.symbols {
		if i > 0 && a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		items, err := a.fetch(ctx, sym)
		if err != nil {
			return err
		}
		for _, item := range items {
			rec, ok := a.articleRecord(sym, item, cutoff)
			if !ok {
				continue
			}
			sink.Write(rec)
		}
	}
	return nil
}

func (a *rssNews) fetch(ctx context.Context, symbol string) ([]rssItem, error) {
	u := fmt.Sprintf(a.queryURL, url.QueryEscape(symbol+" stock"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: fetching %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss: fetching %s: status %d", symbol, resp.StatusCode)
	}

	var doc rssDoc
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("rss: decoding %s: %w", symbol, err)
	}
	return doc.Channel.Items, nil
}

// articleRecord filters, dedups, and normalizes one RSS item.
func (a *rssNews) articleRecord(symbol string, item rssItem, cutoff time.Time) (feed.Record, bool) {
	t, err := time.Parse(time.RFC1123Z, item.PubDate)
	if err != nil {
		t, err = time.Parse(time.RFC1123, item.PubDate)
		if err != nil {
			return feed.Record{}, false
		}
	}
	if t.Before(cutoff) {
		return feed.Record{}, false
	}

	headline := html.UnescapeString(item.Title)
	publisher := ""
	if idx := strings.LastIndex(headline, " - "); idx > 0 {
		publisher = strings.TrimSpace(headline[idx+3:])
		headline = strings.TrimSpace(headline[:idx])
	}
	if headline == "" {
		return feed.Record{}, false
	}

	key := symbol + "|" + headline
	a.mu.Lock()
	if _, dup := a.seen[key]; dup {
		a.mu.Unlock()
		return feed.Record{}, false
	}
	if len(a.seen) >= maxSeen {
		a.seen = make(map[string]struct{})
	}
	a.seen[key] = struct{}{}
	a.mu.Unlock()

	rec := feed.Record{
		Timestamp: t.UTC(),
		Symbol:    symbol,
		Class:     feed.ClassNews,
		Fields: map[string]any{
			"headline": headline,
		},
	}
	if publisher != "" {
		rec.Fields["publisher"] = publisher
	}
	if item.Link != "" {
		rec.Fields["url"] = item.Link
	}
	if summary := strings.TrimSpace(html.UnescapeString(item.Desc)); summary != "" {
		rec.Fields["summary"] = summary
	}
	return rec, true
}
