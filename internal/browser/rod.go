package browser

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RodPage drives Chrome with rod and the stealth evasions applied.
type RodPage struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
}

// NewRod launches (or attaches to) Chrome and opens one stealth tab.
func NewRod(_ context.Context, cfg Config) (*RodPage, error) {
	wsURL := cfg.ControlURL
	var l *launcher.Launcher
	if wsURL == "" {
		l = launcher.New().
			Headless(cfg.Headless).
			NoSandbox(cfg.NoSandbox).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "browser: launch rod")
		}
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, eris.Wrap(err, "browser: connect rod")
	}

	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		if l != nil {
			l.Kill()
		}
		return nil, eris.Wrap(err, "browser: create stealth page")
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
		zap.L().Warn("browser: set user agent failed", zap.Error(err))
	}

	zap.L().Info("browser: rod started", zap.Bool("headless", cfg.Headless), zap.Bool("remote", cfg.ControlURL != ""))
	return &RodPage{browser: b, page: page, lnch: l}, nil
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *RodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *RodPage) Close() error {
	_ = p.page.Close()
	err := p.browser.Close()
	if p.lnch != nil {
		p.lnch.Kill()
	}
	return err
}
