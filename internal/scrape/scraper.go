package scrape

import (
	"context"
)

// Page is one fetched web page.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	HTML       string `json:"-"`    // raw markup; empty for reader-based scrapers
	Markdown   string `json:"text"` // readable text
	StatusCode int    `json:"status_code"`
}

// Result holds a scraped page with the scraper that produced it.
type Result struct {
	Page   Page
	Source string // e.g. "local_http", "jina"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
