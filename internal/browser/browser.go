// Package browser drives a single headless browser page per worker. Page
// access is serialized through a Session.
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BlankURL is loaded between unrelated searches.
const BlankURL = "about:blank"

// DefaultUserAgent is sent when the config leaves it empty.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Page is one browser tab.
type Page interface {
	// Navigate loads url and waits for the document to load.
	Navigate(ctx context.Context, url string) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Config selects and tunes the browser driver.
type Config struct {
	Driver     string        `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=chromedp rod none"`
	Headless   bool          `yaml:"headless" mapstructure:"headless"`
	NoSandbox  bool          `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	ControlURL string        `yaml:"control_url" mapstructure:"control_url"`
	NavTimeout time.Duration `yaml:"-" mapstructure:"-"`
}

// ErrDisabled is returned by Open when the driver is "none".
var ErrDisabled = eris.New("browser: disabled")

// Open starts the configured driver.
func Open(ctx context.Context, cfg Config) (Page, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "chromedp":
		return NewChromedp(ctx, cfg)
	case "rod":
		return NewRod(ctx, cfg)
	case "none":
		return nil, ErrDisabled
	}
	return nil, eris.Errorf("browser: unknown driver %q", cfg.Driver)
}

// Session serializes use of one Page and applies the navigation timeout.
type Session struct {
	mu         sync.Mutex
	page       Page
	navTimeout time.Duration
}

// NewSession wraps page. navTimeout <= 0 means 20s.
func NewSession(page Page, navTimeout time.Duration) *Session {
	if navTimeout <= 0 {
		navTimeout = 20 * time.Second
	}
	return &Session{page: page, navTimeout: navTimeout}
}

// Do runs fn with exclusive use of the page. The page is reset to
// about:blank before fn runs so earlier state never leaks in.
func (s *Session) Do(ctx context.Context, fn func(t *Tab) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Tab{page: s.page, navTimeout: s.navTimeout}
	if err := t.Reset(ctx); err != nil {
		zap.L().Debug("browser: reset before use failed", zap.Error(err))
	}
	return fn(t)
}

// Close closes the underlying page.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil
	}
	return s.page.Close()
}

// Tab is the page handle given to Session.Do callers.
type Tab struct {
	page       Page
	navTimeout time.Duration
}

// Fetch navigates to url and returns the rendered HTML.
func (t *Tab) Fetch(ctx context.Context, url string) (string, error) {
	navCtx, cancel := context.WithTimeout(ctx, t.navTimeout)
	defer cancel()

	if err := t.page.Navigate(navCtx, url); err != nil {
		return "", eris.Wrapf(err, "browser: navigate %s", url)
	}
	html, err := t.page.HTML(navCtx)
	if err != nil {
		return "", eris.Wrapf(err, "browser: read html %s", url)
	}
	return html, nil
}

// Reset loads about:blank.
func (t *Tab) Reset(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, t.navTimeout)
	defer cancel()
	return eris.Wrap(t.page.Navigate(navCtx, BlankURL), "browser: reset")
}
