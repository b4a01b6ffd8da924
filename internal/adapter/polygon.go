package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// Polygon REST Client
// =============================================================================

const defaultPolygonURL = "https://api.polygon.io"

// polygonClient is a minimal REST client for the Polygon.io API. The
// API key travels in the query string; it must never appear in logs,
// so errors report the path only.
type polygonClient struct {
	http *http.Client
	base string
	key  string
}

func newPolygonClient(base, key string) *polygonClient {
	return &polygonClient{
		http: &http.Client{Timeout: 10 * time.Second},
		base: strings.TrimRight(base, "/"),
		key:  key,
	}
}

// getJSON fetches base+path with the given query and decodes the JSON
// body into out. path may also be a fully-qualified next_url cursor.
func (c *polygonClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	full := path
	if !strings.HasPrefix(full, "http") {
		full = c.base + path
	}
	u, err := url.Parse(full)
	if err != nil {
		return fmt.Errorf("polygon: bad url %s: %w", path, err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	q.Set("apiKey", c.key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("polygon: %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polygon: %s: status %d", u.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("polygon: %s: decoding: %w", u.Path, err)
	}
	return nil
}

// stripKey removes the apiKey query parameter from a next_url cursor
// so it can be stored or logged; getJSON re-adds the key per request.
func stripKey(next string) string {
	u, err := url.Parse(next)
	if err != nil {
		return next
	}
	q := u.Query()
	q.Del("apiKey")
	u.RawQuery = q.Encode()
	return u.String()
}
