package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/pkg/firecrawl"
)

type fakeFirecrawl struct {
	resp  *firecrawl.ScrapeResponse
	err   error
	reqs  []firecrawl.ScrapeRequest
	calls int
}

func (f *fakeFirecrawl) Scrape(_ context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func TestFirecrawlAdapter_Scrape(t *testing.T) {
	fc := &fakeFirecrawl{resp: &firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{
		Markdown: "# Team\n\nJane Doe, CEO",
		Metadata: firecrawl.Metadata{Title: "Team", SourceURL: "https://acme.test/team", StatusCode: 200},
	}}}

	a := NewFirecrawlAdapter(fc)
	result, err := a.Scrape(context.Background(), "https://acme.test/team")
	require.NoError(t, err)

	assert.Equal(t, "firecrawl", a.Name())
	assert.Equal(t, "firecrawl", result.Source)
	assert.Equal(t, "https://acme.test/team", result.Page.URL)
	assert.Equal(t, "Team", result.Page.Title)
	assert.Equal(t, "# Team\n\nJane Doe, CEO", result.Page.Markdown)
	require.Len(t, fc.reqs, 1)
	assert.True(t, fc.reqs[0].OnlyMainContent)
}

func TestFirecrawlAdapter_MissingMetadataUsesTarget(t *testing.T) {
	fc := &fakeFirecrawl{resp: &firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{Markdown: "text"}}}

	result, err := NewFirecrawlAdapter(fc).Scrape(context.Background(), "https://acme.test")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test", result.Page.URL)
	assert.Equal(t, 200, result.Page.StatusCode)
}

func TestFirecrawlAdapter_Unsuccessful(t *testing.T) {
	fc := &fakeFirecrawl{resp: &firecrawl.ScrapeResponse{Success: false}}

	_, err := NewFirecrawlAdapter(fc).Scrape(context.Background(), "https://acme.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}

func TestFirecrawlAdapter_BreakerOpens(t *testing.T) {
	fc := &fakeFirecrawl{err: errors.New("timeout")}
	a := NewFirecrawlAdapter(fc)

	for i := 0; i < 3; i++ {
		_, err := a.Scrape(context.Background(), "https://acme.test")
		require.Error(t, err)
	}
	assert.False(t, a.Supports("https://acme.test"))
	assert.Equal(t, 3, fc.calls)
}
