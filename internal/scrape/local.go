package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const maxBodyBytes = 1 << 20

// LocalScraper fetches pages directly over HTTP and keeps both the markup
// and a markdown rendering of it.
type LocalScraper struct {
	client    *http.Client
	userAgent string
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) LocalOption {
	return func(l *LocalScraper) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) LocalOption {
	return func(l *LocalScraper) { l.client = hc }
}

// NewLocalScraper creates a LocalScraper with a 15s request timeout and a
// 10s dial timeout.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: "Mozilla/5.0 (compatible; HydraBot/1.0)",
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LocalScraper) Name() string { return "local_http" }

func (l *LocalScraper) Supports(targetURL string) bool {
	return strings.HasPrefix(targetURL, "http://") || strings.HasPrefix(targetURL, "https://")
}

// Scrape fetches a URL, rejects blocked or empty pages and converts the
// body to markdown.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}
	if len(body) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	html := string(body)
	text, err := toMarkdown(finalURL, html)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: convert")
	}

	return &Result{
		Page: Page{
			URL:        finalURL,
			Title:      extractTitle(html),
			HTML:       html,
			Markdown:   text,
			StatusCode: resp.StatusCode,
		},
		Source: "local_http",
	}, nil
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// toMarkdown renders html as markdown without scripts, styles and page
// chrome.
func toMarkdown(pageURL, html string) (string, error) {
	conv := md.NewConverter(md.DomainFromURL(pageURL), true, nil)
	conv.Remove("script", "style", "noscript", "nav", "iframe", "svg")
	text, err := conv.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
