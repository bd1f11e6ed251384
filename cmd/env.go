package main

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hydra/internal/arbiter"
	"github.com/sells-group/hydra/internal/browser"
	"github.com/sells-group/hydra/internal/config"
	"github.com/sells-group/hydra/internal/dedup"
	"github.com/sells-group/hydra/internal/dork"
	"github.com/sells-group/hydra/internal/enrich"
	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/monitoring"
	"github.com/sells-group/hydra/internal/quota"
	"github.com/sells-group/hydra/internal/resilience"
	"github.com/sells-group/hydra/internal/scrape"
	"github.com/sells-group/hydra/internal/search"
	"github.com/sells-group/hydra/internal/store"
	"github.com/sells-group/hydra/internal/verify"
	anthropicpkg "github.com/sells-group/hydra/pkg/anthropic"
	"github.com/sells-group/hydra/pkg/brave"
	"github.com/sells-group/hydra/pkg/firecrawl"
	"github.com/sells-group/hydra/pkg/google"
	"github.com/sells-group/hydra/pkg/jina"
	"github.com/sells-group/hydra/pkg/perplexity"
	"github.com/sells-group/hydra/pkg/serper"
)

// searchEnv holds the gather chain shared by the work and search commands.
type searchEnv struct {
	Tracker  *quota.Tracker
	Breakers *resilience.Breakers
	Cascade  *search.Cascade
	Gatherer *gather.Gatherer
	Jina     jina.Client // nil without a key

	closers []func()
}

// Close releases the browser and any other held resources.
func (se *searchEnv) Close() {
	for i := len(se.closers) - 1; i >= 0; i-- {
		se.closers[i]()
	}
}

// workerEnv is everything a worker needs to execute missions.
type workerEnv struct {
	*searchEnv
	Store    store.Store
	Enricher *enrich.Pipeline
	Arbiter  *arbiter.Arbiter
	Gate     *dedup.Gate
	Counters *monitoring.Counters
}

// Close releases the search chain and the store.
func (we *workerEnv) Close() {
	if we.searchEnv != nil {
		we.searchEnv.Close()
	}
	if we.Store != nil {
		_ = we.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "hydra.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates. Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// providerSpec is one configured provider ready to register.
type providerSpec struct {
	provider search.Provider
	limit    quota.Limit
	rate     float64
}

// buildProviders returns enabled providers that have a key, in priority
// order. Ties keep config order.
func buildProviders(c *config.Config) ([]providerSpec, jina.Client) {
	confs := make([]config.ProviderConfig, 0, len(c.Search.Providers))
	for _, p := range c.Search.Providers {
		if !p.Enabled {
			continue
		}
		if c.ProviderKey(p.Name) == "" {
			zap.L().Debug("search: provider has no key, skipping", zap.String("provider", p.Name))
			continue
		}
		confs = append(confs, p)
	}
	sort.SliceStable(confs, func(i, j int) bool { return confs[i].Priority < confs[j].Priority })

	var jinaClient jina.Client
	if c.Jina.Key != "" {
		opts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
		if c.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
		}
		jinaClient = jina.NewClient(c.Jina.Key, opts...)
	}

	specs := make([]providerSpec, 0, len(confs))
	for _, pc := range confs {
		var p search.Provider
		switch pc.Name {
		case "serper":
			p = &search.SerperProvider{Client: serper.NewClient(c.Serper.Key, serper.WithBaseURL(c.Serper.BaseURL))}
		case "brave":
			p = &search.BraveProvider{Client: brave.NewClient(c.Brave.Key, brave.WithBaseURL(c.Brave.BaseURL))}
		case "jina":
			p = &search.JinaProvider{Client: jinaClient}
		case "perplexity":
			p = &search.PerplexityProvider{Client: perplexity.NewClient(c.Perplexity.Key,
				perplexity.WithBaseURL(c.Perplexity.BaseURL), perplexity.WithModel(c.Perplexity.Model))}
		case "google":
			p = &search.GooglePlacesProvider{Client: google.NewClient(c.Google.Key, google.WithBaseURL(c.Google.BaseURL))}
		default:
			continue
		}
		specs = append(specs, providerSpec{
			provider: p,
			limit:    quota.Limit{Max: pc.QuotaLimit, Window: time.Duration(pc.QuotaWindowSecs) * time.Second},
			rate:     pc.RatePerSec,
		})
	}
	return specs, jinaClient
}

// initBrowser opens the configured browser and wraps it in the engine
// cascade. A disabled or failed browser yields nil; the API layer still
// runs.
func initBrowser(ctx context.Context) (*dork.Cascade, func(), error) {
	bcfg := cfg.Browser.Config
	bcfg.NavTimeout = time.Duration(cfg.Browser.NavTimeoutSecs) * time.Second

	engines, err := dork.LoadEngines(cfg.Browser.EnginesFile)
	if err != nil {
		return nil, nil, err
	}

	page, err := browser.Open(ctx, bcfg)
	if err != nil {
		if errors.Is(err, browser.ErrDisabled) {
			zap.L().Info("browser layer disabled")
			return nil, nil, nil
		}
		zap.L().Warn("browser unavailable, continuing with API search only", zap.Error(err))
		return nil, nil, nil
	}

	var opts []dork.Option
	if cfg.Browser.PaceSecs > 0 {
		pace := time.Duration(cfg.Browser.PaceSecs * float64(time.Second))
		opts = append(opts, dork.WithPace(rate.NewLimiter(rate.Every(pace), 1)))
	}
	cascade := dork.NewCascade(browser.NewSession(page, bcfg.NavTimeout), engines, opts...)
	zap.L().Info("browser layer ready",
		zap.String("driver", bcfg.Driver),
		zap.Strings("engines", cascade.Engines()),
	)
	return cascade, func() { _ = page.Close() }, nil
}

// initSearch builds both search layers and the gatherer over them.
func initSearch(ctx context.Context) (*searchEnv, error) {
	specs, jinaClient := buildProviders(cfg)

	limits := make(map[string]quota.Limit, len(specs))
	for _, s := range specs {
		limits[s.provider.Name()] = s.limit
	}
	env := &searchEnv{
		Tracker:  quota.NewTracker(limits),
		Breakers: resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		Jina:     jinaClient,
	}
	env.Cascade = search.NewCascade(env.Tracker,
		search.WithTimeout(time.Duration(cfg.Search.ProviderTimeoutSecs)*time.Second),
		search.WithBreakers(env.Breakers),
	)
	for _, s := range specs {
		env.Cascade.Register(s.provider, s.rate)
	}

	gopts := []gather.Option{gather.WithSufficient(cfg.Search.SufficientResults)}
	dorks, closeBrowser, err := initBrowser(ctx)
	if err != nil {
		return nil, err
	}
	if dorks != nil {
		gopts = append(gopts, gather.WithBrowser(dorks))
		env.closers = append(env.closers, closeBrowser)
	}
	env.Gatherer = gather.New(env.Cascade, gopts...)

	zap.L().Info("search layers ready", zap.Strings("providers", env.Cascade.Providers()))
	return env, nil
}

// initScraper chains the local fetcher with the Jina reader and
// Firecrawl fallbacks, each only when keyed.
func initScraper(jinaClient jina.Client) *scrape.Chain {
	scrapers := []scrape.Scraper{scrape.NewLocalScraper(scrape.WithUserAgent(cfg.Browser.UserAgent))}
	if jinaClient != nil {
		scrapers = append(scrapers, scrape.NewJinaAdapter(jinaClient))
	}
	if cfg.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(fc))
	}
	return scrape.NewChain(scrape.NewPathMatcher(cfg.Enrich.ExcludePaths), scrapers...)
}

// initArbiter selects the AI judge. A missing key degrades to the
// heuristic scorer rather than failing startup.
func initArbiter(ctx context.Context) (*arbiter.Arbiter, error) {
	opts := []arbiter.Option{arbiter.WithTimeout(time.Duration(cfg.Arbiter.TimeoutSecs) * time.Second)}

	switch cfg.Arbiter.Provider {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			zap.L().Warn("HYDRA_ANTHROPIC_KEY not set, arbiter falls back to heuristics")
			return arbiter.New(nil, opts...), nil
		}
		judge := arbiter.NewAnthropicJudge(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Arbiter.Model)
		return arbiter.New(judge, opts...), nil
	case "gemini":
		if cfg.Gemini.Key == "" {
			zap.L().Warn("HYDRA_GEMINI_KEY not set, arbiter falls back to heuristics")
			return arbiter.New(nil, opts...), nil
		}
		judge, err := arbiter.NewGeminiJudge(ctx, arbiter.GeminiConfig{
			APIKey:  cfg.Gemini.Key,
			Model:   cfg.Arbiter.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init gemini judge")
		}
		return arbiter.New(judge, opts...), nil
	default:
		return arbiter.New(nil, opts...), nil
	}
}

// initGate puts the optional Redis index in front of the delivery ledger.
func initGate(ledger store.DeliveryStore) (*dedup.Gate, func()) {
	if cfg.Redis.Addr == "" {
		return dedup.NewGate(ledger), func() {}
	}
	client, err := dedup.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zap.L().Warn("redis unavailable, dedup uses the ledger only", zap.Error(err))
		return dedup.NewGate(ledger), func() {}
	}
	ttl := time.Duration(cfg.Redis.TTLHours) * time.Hour
	return dedup.NewGate(ledger, dedup.WithIndex(dedup.NewRedisIndex(client, ttl))), func() { _ = client.Close() }
}

// initWorker wires the full mission chain. Callers should defer env.Close().
func initWorker(ctx context.Context) (*workerEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	se, err := initSearch(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	env := &workerEnv{searchEnv: se, Store: st, Counters: monitoring.NewCounters()}

	env.Arbiter, err = initArbiter(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	gate, closeGate := initGate(st)
	env.Gate = gate
	env.closers = append(env.closers, closeGate)

	env.Enricher = enrich.New(cfg.Enrich, se.Gatherer, initScraper(se.Jina), verify.New(cfg.Verify))
	return env, nil
}

func hostname() string {
	if cfg.Worker.Hostname != "" {
		return cfg.Worker.Hostname
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
