// Package filrep provides a client for the Filecoin reputation index API.
package filrep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-cli/internal/resilience"
)

// ErrNotFound means the index has no entry for the miner.
var ErrNotFound = eris.New("filrep: miner not found")

// Client looks miners up in the reputation index.
type Client interface {
	Miner(ctx context.Context, id string) (*Miner, error)
}

// Miner is one entry of the reputation index. Numeric fields arrive as
// strings or numbers and are parsed when the response is decoded.
type Miner struct {
	Address      string       `json:"address"`
	Score        Number       `json:"score"`
	Rank         Number       `json:"rank"`
	Reachability string       `json:"reachability"`
	StorageDeals StorageDeals `json:"storageDeals"`
}

// StorageDeals summarizes a miner's deal history.
type StorageDeals struct {
	Total       Number `json:"total"`
	SuccessRate Number `json:"successRate"`
}

type minersResponse struct {
	Miners []Miner `json:"miners"`
}

// Number is a JSON number that may be quoted. Missing, empty and null
// values stay absent.
type Number struct {
	v  float64
	ok bool
}

// NewNumber returns a present Number.
func NewNumber(f float64) Number { return Number{v: f, ok: true} }

// UnmarshalJSON accepts 1.5, "1.5", "" and null.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrapf(err, "filrep: invalid number %s", b)
	}
	*n = NewNumber(f)
	return nil
}

// MarshalJSON writes null when absent.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.ok {
		return []byte("null"), nil
	}
	return json.Marshal(n.v)
}

// Valid reports whether a value was present.
func (n Number) Valid() bool { return n.ok }

// Float returns the value, or nil when absent.
func (n Number) Float() *float64 {
	if !n.ok {
		return nil
	}
	f := n.v
	return &f
}

// Int returns the value truncated to an integer, or nil when absent.
func (n Number) Int() *int64 {
	if !n.ok {
		return nil
	}
	i := int64(n.v)
	return &i
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit throttles requests to rps with the given burst. A
// non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the API at baseURL, e.g.
// https://api.filrep.io/api/v1.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Miner(ctx context.Context, id string) (*Miner, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "filrep: rate limit")
		}
	}

	reqURL := fmt.Sprintf("%s/miners?search=%s", c.baseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "filrep: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "filrep: request")
		}
		return nil, &resilience.EndpointError{Endpoint: c.baseURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &resilience.EndpointError{Endpoint: c.baseURL, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "read body")}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "filrep: %s", id)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.EndpointError{
			Endpoint:   c.baseURL,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status: %s", truncate(body)),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("filrep: miner %s: status %d: %s", id, resp.StatusCode, truncate(body))
	}

	var out minersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &resilience.EndpointError{Endpoint: c.baseURL, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "decode response")}
	}
	for i := range out.Miners {
		if out.Miners[i].Address == id {
			return &out.Miners[i], nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "filrep: %s", id)
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
