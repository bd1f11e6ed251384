// Package brave provides a client for the Brave Web Search API.
package brave

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/resilience"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1"

// Client defines the Brave Search operations.
type Client interface {
	WebSearch(ctx context.Context, query string, count int) (*WebSearchResponse, error)
}

// WebSearchResponse is the response from /web/search.
type WebSearchResponse struct {
	Web WebResults `json:"web"`
}

// WebResults holds the organic web results.
type WebResults struct {
	Results []WebResult `json:"results"`
}

// WebResult is one organic result.
type WebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryPolicy
}

// NewClient creates a Brave Search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		retry:   resilience.DefaultRetryPolicy().WithLogging("brave", "web_search"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) WebSearch(ctx context.Context, query string, count int) (*WebSearchResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	if count > 0 {
		if count > 20 {
			count = 20
		}
		q.Set("count", strconv.Itoa(count))
	}
	reqURL := c.baseURL + "/web/search?" + q.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "brave: create request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "brave: read response")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.HTTPStatusError("brave", resp.StatusCode, string(b))
		}
		return b, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "brave: web search")
	}

	var result WebSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "brave: unmarshal response")
	}
	return &result, nil
}
