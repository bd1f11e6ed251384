package firecrawl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/resilience"
)

func fastRetry() Option {
	return WithRetryPolicy(resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func TestScrape_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ScrapeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://acme.com/contact", req.URL)
		assert.Equal(t, []string{"markdown"}, req.Formats)
		assert.True(t, req.OnlyMainContent)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"markdown":"# Contact\n\nCall us.","metadata":{"title":"Contact","sourceURL":"https://acme.com/contact","statusCode":200}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	resp, err := client.Scrape(context.Background(), ScrapeRequest{URL: "https://acme.com/contact", OnlyMainContent: true})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "# Contact\n\nCall us.", resp.Data.Markdown)
	assert.Equal(t, "Contact", resp.Data.Metadata.Title)
	assert.Equal(t, "https://acme.com/contact", resp.Data.Metadata.SourceURL)
	assert.Equal(t, 200, resp.Data.Metadata.StatusCode)
}

func TestScrape_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"markdown":"ok"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	resp, err := client.Scrape(context.Background(), ScrapeRequest{URL: "https://acme.com"})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Data.Markdown)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScrape_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"insufficient credits"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	_, err := client.Scrape(context.Background(), ScrapeRequest{URL: "https://acme.com"})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "insufficient credits")
	assert.Equal(t, int32(1), calls.Load())
}

func TestScrape_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	_, err := client.Scrape(context.Background(), ScrapeRequest{URL: "https://acme.com"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestWithBaseURL_EmptyKeepsDefault(t *testing.T) {
	c := NewClient("k", WithBaseURL("")).(*httpClient)
	assert.Equal(t, defaultBaseURL, c.baseURL)
}
