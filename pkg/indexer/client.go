// Package indexer queries an IPNI network indexer for provider records.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-cli/internal/resilience"
)

// ErrNotFound means the indexer has never received an advertisement from
// the provider.
var ErrNotFound = eris.New("indexer: provider not found")

// Client looks up provider records.
type Client interface {
	Provider(ctx context.Context, peerID string) (*Provider, error)
}

// AddrInfo is a libp2p peer and its multiaddrs.
type AddrInfo struct {
	ID    string   `json:"ID"`
	Addrs []string `json:"Addrs"`
}

// Provider is the indexer's record of one content provider.
type Provider struct {
	AddrInfo              AddrInfo          `json:"AddrInfo"`
	LastAdvertisement     map[string]string `json:"LastAdvertisement"`
	LastAdvertisementTime *time.Time        `json:"LastAdvertisementTime"`
	Publisher             *AddrInfo         `json:"Publisher"`
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

// NewClient creates a client for the indexer at baseURL, e.g. https://cid.contact.
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

func (c *httpClient) Provider(ctx context.Context, peerID string) (*Provider, error) {
	if peerID == "" {
		return nil, eris.New("indexer: empty peer id")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "indexer: rate limit")
		}
	}

	reqURL := fmt.Sprintf("%s/providers/%s", c.baseURL, url.PathEscape(peerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "indexer: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "indexer: request")
		}
		return nil, &resilience.EndpointError{Endpoint: c.baseURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &resilience.EndpointError{Endpoint: c.baseURL, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "read body")}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "indexer: %s", peerID)
	case resilience.IsTransientHTTPStatus(resp.StatusCode) || resp.StatusCode >= 500:
		return nil, &resilience.EndpointError{
			Endpoint:   c.baseURL,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("indexer: provider %s: status %d", peerID, resp.StatusCode)
	}

	var p Provider
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &resilience.EndpointError{Endpoint: c.baseURL, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "decode response")}
	}
	return &p, nil
}
