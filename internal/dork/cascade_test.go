package dork

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/browser"
	"github.com/sells-group/hydra/internal/model"
)

// fakePage serves canned result pages keyed by host.
type fakePage struct {
	mu      sync.Mutex
	pages   map[string]string
	fail    map[string]error
	visits  []string
	current string
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits = append(p.visits, url)
	for host, err := range p.fail {
		if strings.Contains(url, host) {
			return err
		}
	}
	p.current = url
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, html := range p.pages {
		if strings.Contains(p.current, host) {
			return html, nil
		}
	}
	return "<html></html>", nil
}

func (p *fakePage) Close() error { return nil }

func (p *fakePage) engineVisits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, v := range p.visits {
		if v != browser.BlankURL {
			out = append(out, v)
		}
	}
	return out
}

func ddgPage(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<div class="result"><a class="result__a" href="https://%s%d.test/">R%d</a></div>`, prefix, i, i)
	}
	return b.String()
}

func bingPage(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<li class="b_algo"><h2><a href="https://%s%d.test/">R%d</a></h2></li>`, prefix, i, i)
	}
	return b.String()
}

func googlePage(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<div class="g"><a href="https://%s%d.test/"><h3>R%d</h3></a></div>`, prefix, i, i)
	}
	return b.String()
}

func newTestCascade(page *fakePage, opts ...Option) *Cascade {
	opts = append([]Option{WithPace(nil)}, opts...)
	return NewCascade(browser.NewSession(page, time.Second), nil, opts...)
}

func TestCascade_StopsAtThreshold(t *testing.T) {
	page := &fakePage{pages: map[string]string{
		"duckduckgo.com": ddgPage("ddg", 3),
		"bing.com":       bingPage("bing", 4),
		"google.com":     googlePage("goog", 3),
	}}

	res := newTestCascade(page, WithThreshold(3)).Search(context.Background(), "plumbers", "", nil)

	assert.Len(t, res.Candidates, 3)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "duckduckgo-html", res.Attempts[0].Engine)
	visits := page.engineVisits()
	require.Len(t, visits, 1)
	assert.Contains(t, visits[0], "duckduckgo.com")
}

func TestCascade_VisitsAllEnginesBelowThreshold(t *testing.T) {
	page := &fakePage{pages: map[string]string{
		"duckduckgo.com": ddgPage("ddg", 3),
		"bing.com":       bingPage("bing", 4),
		"google.com":     googlePage("goog", 3),
	}}

	res := newTestCascade(page, WithThreshold(10)).Search(context.Background(), "plumbers", "", nil)

	assert.Len(t, res.Candidates, 10)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, []string{"duckduckgo-html", "bing", "google"},
		[]string{res.Attempts[0].Engine, res.Attempts[1].Engine, res.Attempts[2].Engine})
	assert.Len(t, page.engineVisits(), 3)
}

func TestCascade_ResetsPageBetweenEngines(t *testing.T) {
	page := &fakePage{pages: map[string]string{}}
	newTestCascade(page).Search(context.Background(), "q", "", nil)

	page.mu.Lock()
	defer page.mu.Unlock()
	require.Len(t, page.visits, 6)
	for i := 0; i < len(page.visits); i += 2 {
		assert.Equal(t, browser.BlankURL, page.visits[i])
	}
}

func TestCascade_DedupsAgainstSeed(t *testing.T) {
	page := &fakePage{pages: map[string]string{
		"duckduckgo.com": ddgPage("dup", 2),
		"bing.com":       bingPage("dup", 3),
	}}
	seed := model.NewCandidateSet(model.Candidate{SourceURL: "https://dup0.test", Source: "serper"})

	res := newTestCascade(page, WithThreshold(10)).Search(context.Background(), "q", "", seed)

	var urls []string
	for _, c := range res.Candidates {
		urls = append(urls, c.SourceURL)
	}
	assert.Equal(t, []string{"https://dup1.test/", "https://dup2.test/"}, urls)
	assert.Equal(t, 3, seed.Len())
	assert.Equal(t, 1, res.Attempts[0].Added)
	assert.Equal(t, 1, res.Attempts[1].Added)
}

func TestCascade_EngineErrorIsEmpty(t *testing.T) {
	page := &fakePage{
		pages: map[string]string{"bing.com": bingPage("bing", 2)},
		fail:  map[string]error{"duckduckgo.com": errors.New("net::ERR_TIMED_OUT")},
	}

	res := newTestCascade(page, WithThreshold(2)).Search(context.Background(), "q", "", nil)

	require.Len(t, res.Attempts, 2)
	assert.Error(t, res.Attempts[0].Err)
	assert.Equal(t, 0, res.Attempts[0].Found)
	assert.NoError(t, res.Attempts[1].Err)
	assert.Len(t, res.Candidates, 2)
}

func TestCascade_ManualCheckWhenNothingFound(t *testing.T) {
	page := &fakePage{pages: map[string]string{}}

	res := newTestCascade(page).Search(context.Background(), "acme ceo", "linkedin.com", nil)

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.True(t, c.ManualCheck)
	assert.Equal(t, ManualCheckSource, c.Source)
	assert.Equal(t, "acme ceo", c.DisplayName)
	assert.Contains(t, c.SourceURL, "duckduckgo.com")
	assert.Contains(t, c.SourceURL, "site%3Alinkedin.com")
	assert.Len(t, res.Attempts, 3)
}

func TestCascade_NoManualCheckWhenSeedHasResults(t *testing.T) {
	page := &fakePage{pages: map[string]string{}}
	seed := model.NewCandidateSet(model.Candidate{SourceURL: "https://a.test"})

	res := newTestCascade(page).Search(context.Background(), "q", "", seed)
	assert.Empty(t, res.Candidates)
}

func TestCascade_Engines(t *testing.T) {
	c := newTestCascade(&fakePage{})
	assert.Equal(t, []string{"duckduckgo-html", "bing", "google"}, c.Engines())
	assert.Equal(t, DefaultThreshold, c.Threshold())
}
