// Package serper provides a client for the Serper Google SERP API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/resilience"
)

const defaultBaseURL = "https://google.serper.dev"

// Client defines the Serper operations.
type Client interface {
	// Search runs a Google web search.
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	// Places runs a Google Maps places search.
	Places(ctx context.Context, req SearchRequest) (*PlacesResponse, error)
}

// SearchRequest is the request body for /search and /places.
type SearchRequest struct {
	Query    string `json:"q"`
	Num      int    `json:"num,omitempty"`
	Country  string `json:"gl,omitempty"`
	Language string `json:"hl,omitempty"`
}

// SearchResponse is the response from /search.
type SearchResponse struct {
	Organic []OrganicResult `json:"organic"`
}

// OrganicResult is a single organic hit.
type OrganicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// PlacesResponse is the response from /places.
type PlacesResponse struct {
	Places []Place `json:"places"`
}

// Place is a single places hit.
type Place struct {
	Title       string  `json:"title"`
	Address     string  `json:"address"`
	PhoneNumber string  `json:"phoneNumber"`
	Website     string  `json:"website"`
	Category    string  `json:"category"`
	CID         string  `json:"cid"`
	Rating      float64 `json:"rating"`
	Position    int     `json:"position"`
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

// NewClient creates a Serper client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		retry: resilience.DefaultRetryPolicy().WithLogging("serper", "search"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, eris.Wrap(err, "serper: search")
	}
	return &out, nil
}

func (c *httpClient) Places(ctx context.Context, req SearchRequest) (*PlacesResponse, error) {
	var out PlacesResponse
	if err := c.post(ctx, "/places", req, &out); err != nil {
		return nil, eris.Wrap(err, "serper: places")
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	respBody, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read response")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.HTTPStatusError("serper", resp.StatusCode, string(b))
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
