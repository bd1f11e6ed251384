// Package gather collects candidates for a query from the API providers
// first and the browser engines second.
package gather

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/dork"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/search"
)

// ErrPipelineFatal means no provider or engine could be reached at all.
var ErrPipelineFatal = eris.New("gather: no search layer reachable")

// APISearcher is the provider cascade.
type APISearcher interface {
	Search(ctx context.Context, query string, kind search.Kind, n int) search.Result
}

// BrowserSearcher is the browser engine cascade.
type BrowserSearcher interface {
	Search(ctx context.Context, query, site string, seen *model.CandidateSet) dork.Result
}

// Request is one gather call.
type Request struct {
	Query    string
	Kind     search.Kind
	Platform string
	Limit    int
}

// Result holds the merged candidates and what each layer did.
type Result struct {
	Candidates []model.Candidate `json:"candidates"`
	API        search.Result     `json:"api"`
	Browser    *dork.Result      `json:"browser,omitempty"`
}

// Gatherer runs the two search layers.
type Gatherer struct {
	api        APISearcher
	browser    BrowserSearcher
	sufficient int
	apiLimit   int
}

// Option configures a Gatherer.
type Option func(*Gatherer)

// WithBrowser enables the browser layer.
func WithBrowser(b BrowserSearcher) Option {
	return func(g *Gatherer) { g.browser = b }
}

// WithSufficient sets how many API results make the browser layer
// unnecessary.
func WithSufficient(n int) Option {
	return func(g *Gatherer) {
		if n > 0 {
			g.sufficient = n
		}
	}
}

// New creates a Gatherer over the provider cascade.
func New(api APISearcher, opts ...Option) *Gatherer {
	g := &Gatherer{api: api, sufficient: dork.DefaultThreshold, apiLimit: 20}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Gather queries the API layer and, when it returns fewer than the
// sufficient count (or the request limit, if smaller), the browser layer. Candidates are deduplicated by
// canonical URL across both layers with the first occurrence kept.
func (g *Gatherer) Gather(ctx context.Context, req Request) (Result, error) {
	if req.Kind == "" {
		req.Kind = search.KindWeb
	}
	site := dork.PlatformSite(req.Platform)
	limit := req.Limit
	if limit <= 0 {
		limit = g.apiLimit
	}

	apiQuery := req.Query
	if site != "" && req.Kind != search.KindBusiness {
		apiQuery = "site:" + site + " " + req.Query
	}

	var res Result
	if g.api != nil {
		res.API = g.api.Search(ctx, apiQuery, req.Kind, limit)
	}
	seen := model.NewCandidateSet(res.API.Candidates...)

	if seen.Len() < g.threshold(req.Limit) && g.browser != nil && ctx.Err() == nil {
		br := g.browser.Search(ctx, req.Query, site, seen)
		res.Browser = &br
	}

	if !reachable(res) {
		return res, ErrPipelineFatal
	}

	res.Candidates = seen.Items()
	if res.Browser != nil {
		for _, c := range res.Browser.Candidates {
			if c.ManualCheck {
				res.Candidates = append(res.Candidates, c)
			}
		}
	} else if len(res.Candidates) == 0 {
		res.Candidates = []model.Candidate{manualCheck(req.Query, site)}
	}
	if req.Limit > 0 && len(res.Candidates) > req.Limit {
		res.Candidates = res.Candidates[:req.Limit]
	}

	zap.L().Debug("gather: done",
		zap.String("query", req.Query),
		zap.String("api_provider", res.API.Provider),
		zap.Int("api", len(res.API.Candidates)),
		zap.Bool("browser", res.Browser != nil),
		zap.Int("total", len(res.Candidates)),
	)
	return res, nil
}

// threshold is the API result count that makes the browser layer
// unnecessary. A request asking for fewer is satisfied by its own limit.
func (g *Gatherer) threshold(limit int) int {
	if limit > 0 && limit < g.sufficient {
		return limit
	}
	return g.sufficient
}

// reachable reports whether any layer answered, even with nothing.
func reachable(res Result) bool {
	for _, o := range res.API.Outcomes {
		if o.Status == search.StatusOK || o.Status == search.StatusEmpty {
			return true
		}
	}
	if res.Browser != nil {
		for _, a := range res.Browser.Attempts {
			if a.Err == nil {
				return true
			}
		}
	}
	return false
}

func manualCheck(query, site string) model.Candidate {
	return model.Candidate{
		DisplayName: query,
		SourceURL:   dork.DefaultEngines()[0].SearchURL(query, site),
		Snippet:     "No search layer returned results. Check this query manually.",
		Source:      dork.ManualCheckSource,
		ManualCheck: true,
	}
}
