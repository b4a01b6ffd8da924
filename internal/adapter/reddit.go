package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ezbot/feedd/internal/feed"
)

func init() {
	RegisterBuilder("reddit_social", newRedditSocial)
}

// =============================================================================
// Reddit Social Adapter
// =============================================================================

const defaultRedditURL = "https://www.reddit.com"

// redditSocial polls subreddit listings through Reddit's public JSON
// endpoints and counts ticker mentions against a watch list. Each
// cycle emits one social_sentiment row per mentioned symbol with the
// mention count, mean post score, and mention rank.
//
// Params: subreddits, symbols, interval (default 60s), post_limit
// (default 100), base_url, user_agent.
type redditSocial struct {
	*poller
	http       *http.Client
	base       string
	subreddits []string
	symbols    []string
	patterns   map[string]*regexp.Regexp
	postLimit  int
	userAgent  string
}

func newRedditSocial(desc feed.Descriptor) (Adapter, error) {
	subreddits, err := listParam(desc, "subreddits")
	if err != nil {
		return nil, err
	}
	symbols, err := symbolsParam(desc, "symbols")
	if err != nil {
		return nil, err
	}
	interval, err := durationParam(desc, "interval", time.Minute)
	if err != nil {
		return nil, err
	}
	postLimit, err := intParam(desc, "post_limit", 100)
	if err != nil {
		return nil, err
	}

	// $TSLA or the bare ticker as its own word.
	patterns := make(map[string]*regexp.Regexp, len(symbols))
	for _, sym := range symbols {
		patterns[sym] = regexp.MustCompile(`(?i)(\$` + regexp.QuoteMeta(sym) + `\b|\b` + regexp.QuoteMeta(sym) + `\b)`)
	}

	a := &redditSocial{
		http:       &http.Client{Timeout: 10 * time.Second},
		base:       strings.TrimRight(paramOr(desc, "base_url", defaultRedditURL), "/"),
		subreddits: subreddits,
		symbols:    symbols,
		patterns:   patterns,
		postLimit:  postLimit,
		userAgent:  paramOr(desc, "user_agent", "feedd/1.0"),
	}
	a.poller = newPoller(desc.Name, interval, 1, a.collectOnce)
	return a, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Score       float64 `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type mentionTally struct {
	mentions int64
	score    float64
}

func (a *redditSocial) collectOnce(ctx context.Context, sink feed.Sink) error {
	tallies := make(map[string]*mentionTally)
	for i, sub := range a.subreddits {
		if i > 0 && a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		posts, err := a.fetch(ctx, sub)
		if err != nil {
			return err
		}
		a.tally(posts, tallies)
	}

	now := time.Now().UTC()
	for rank, sym := range rankSymbols(tallies) {
		t := tallies[sym]
		sink.Write(feed.Record{
			Timestamp: now,
			Symbol:    sym,
			Class:     feed.ClassSocial,
			Fields: map[string]any{
				"platform": "reddit",
				"mentions": t.mentions,
				"score":    t.score / float64(t.mentions),
				"rank":     rank + 1,
			},
		})
	}
	return nil
}

func (a *redditSocial) fetch(ctx context.Context, subreddit string) ([]redditPost, error) {
	u := fmt.Sprintf("%s/r/%s/new.json?limit=%d", a.base, subreddit, a.postLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reddit: fetching r/%s: %w", subreddit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit: fetching r/%s: status %d", subreddit, resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("reddit: decoding r/%s: %w", subreddit, err)
	}
	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

func (a *redditSocial) tally(posts []redditPost, tallies map[string]*mentionTally) {
	for _, post := range posts {
		text := post.Title + " " + post.SelfText
		for _, sym := range a.symbols {
			if !a.patterns[sym].MatchString(text) {
				continue
			}
			t := tallies[sym]
			if t == nil {
				t = &mentionTally{}
				tallies[sym] = t
			}
			t.mentions++
			t.score += post.Score
		}
	}
}

// rankSymbols orders mentioned symbols by mention count descending,
// name ascending on ties.
func rankSymbols(tallies map[string]*mentionTally) []string {
	syms := make([]string, 0, len(tallies))
	for sym := range tallies {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool {
		a, b := tallies[syms[i]], tallies[syms[j]]
		if a.mentions != b.mentions {
			return a.mentions > b.mentions
		}
		return syms[i] < syms[j]
	})
	return syms
}
