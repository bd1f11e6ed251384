package browser

import (
	"context"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ChromedpPage drives Chrome through the DevTools protocol with chromedp.
type ChromedpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewChromedp launches (or attaches to) Chrome and opens one tab.
func NewChromedp(_ context.Context, cfg Config) (*ChromedpPage, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.ControlURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.ControlURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent(cfg.UserAgent),
		)
		if cfg.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	bctx, cancel := chromedp.NewContext(allocCtx)
	// The first Run starts the browser; it must use the long-lived context.
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: start chromedp")
	}

	zap.L().Info("browser: chromedp started", zap.Bool("headless", cfg.Headless), zap.Bool("remote", cfg.ControlURL != ""))
	return &ChromedpPage{ctx: bctx, cancel: cancel, allocCancel: allocCancel}, nil
}

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation.
func (p *ChromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, dl)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *ChromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *ChromedpPage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *ChromedpPage) Close() error {
	p.cancel()
	p.allocCancel()
	return nil
}
