package adapter

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ezbot/feedd/internal/feed"
)

func TestRedditSocialCollect(t *testing.T) {
	listings := map[string]string{
		"/r/wallstreetbets/new.json": `{"data":{"children":[
			{"data":{"title":"$GME to the moon","selftext":"","score":420,"num_comments":99}},
			{"data":{"title":"GME gamma squeeze incoming","selftext":"also watching TSLA","score":180,"num_comments":12}},
			{"data":{"title":"boring macro thread","selftext":"","score":5,"num_comments":3}}
		]}}`,
		"/r/stocks/new.json": `{"data":{"children":[
			{"data":{"title":"Is TSLA overvalued?","selftext":"","score":50,"num_comments":40}}
		]}}`,
	}
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		body, ok := listings[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	built, err := Build(feed.Descriptor{
		Name:     "reddit_test",
		Class:    feed.ClassSocial,
		Priority: feed.PriorityLow,
		Adapter:  "reddit_social",
		Params: map[string]string{
			"subreddits": "wallstreetbets,stocks",
			"symbols":    "GME,TSLA,AMC",
			"base_url":   srv.URL,
			"user_agent": "feedd-test/1.0",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	a := built.(*redditSocial)

	sink := &captureSink{}
	if err := a.collectOnce(t.Context(), sink); err != nil {
		t.Fatal(err)
	}
	if userAgent != "feedd-test/1.0" {
		t.Errorf("user agent = %q", userAgent)
	}

	recs := sink.records()
	// AMC is never mentioned; no row for it.
	if len(recs) != 2 {
		t.Fatalf("sentiment rows = %d, want 2", len(recs))
	}
	rows := make(map[string]feed.Record)
	for _, rec := range recs {
		checkValid(t, rec)
		rows[rec.Symbol] = rec
	}

	gme := rows["GME"]
	if m, _ := gme.Field("mentions"); m != int64(2) {
		t.Errorf("GME mentions = %v", m)
	}
	if s, _ := gme.Field("score"); s != 300.0 { // (420+180)/2
		t.Errorf("GME mean score = %v", s)
	}
	if r, _ := gme.Field("rank"); r != 1 {
		t.Errorf("GME rank = %v", r)
	}

	tsla := rows["TSLA"]
	if m, _ := tsla.Field("mentions"); m != int64(2) {
		t.Errorf("TSLA mentions = %v", m)
	}
	// Tied on mentions; GME wins rank 1 alphabetically.
	if r, _ := tsla.Field("rank"); r != 2 {
		t.Errorf("TSLA rank = %v", r)
	}
}

func TestRedditSocialVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	built, err := Build(feed.Descriptor{
		Name:     "reddit_limited",
		Class:    feed.ClassSocial,
		Priority: feed.PriorityLow,
		Adapter:  "reddit_social",
		Params: map[string]string{
			"subreddits": "stocks",
			"symbols":    "GME",
			"base_url":   srv.URL,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	a := built.(*redditSocial)
	if err := a.collectOnce(t.Context(), &captureSink{}); err == nil {
		t.Fatal("collect succeeded against 429")
	}
}
