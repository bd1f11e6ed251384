package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/resilience"
	"github.com/sells-group/hydra/pkg/firecrawl"
)

// FirecrawlAdapter renders pages through Firecrawl. It sits last in the
// chain, after the local fetcher and the Jina reader.
type FirecrawlAdapter struct {
	client  firecrawl.Client
	breaker *resilience.Breaker
}

// NewFirecrawlAdapter wraps a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{
		client:  client,
		breaker: resilience.NewBreaker("firecrawl", resilience.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}),
	}
}

func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports is false while the breaker is open.
func (f *FirecrawlAdapter) Supports(_ string) bool {
	return f.breaker.State() != resilience.BreakerOpen
}

func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.Call(ctx, f.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:             targetURL,
			Formats:         []string{"markdown"},
			OnlyMainContent: true,
		})
		if err != nil {
			return nil, err
		}
		if !resp.Success || resp.Data.Markdown == "" {
			return nil, eris.Errorf("firecrawl: no content for %s", targetURL)
		}
		meta := resp.Data.Metadata
		pageURL := meta.SourceURL
		if pageURL == "" {
			pageURL = targetURL
		}
		status := meta.StatusCode
		if status == 0 {
			status = 200
		}
		return &Result{
			Page: Page{
				URL:        pageURL,
				Title:      meta.Title,
				Markdown:   resp.Data.Markdown,
				StatusCode: status,
			},
			Source: "firecrawl",
		}, nil
	})
}
