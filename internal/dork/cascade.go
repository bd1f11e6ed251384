package dork

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hydra/internal/browser"
	"github.com/sells-group/hydra/internal/model"
)

// DefaultThreshold is the unique-result count at which the cascade stops.
const DefaultThreshold = 10

// ManualCheckSource marks the synthetic candidate returned when nothing was
// found.
const ManualCheckSource = "manual_check"

// Attempt records one engine visit.
type Attempt struct {
	Engine   string        `json:"engine"`
	Found    int           `json:"found"`
	Added    int           `json:"added"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Result is the cascade answer.
type Result struct {
	Candidates []model.Candidate `json:"candidates"`
	Attempts   []Attempt         `json:"attempts"`
}

// Cascade runs engines in order on a shared browser session.
type Cascade struct {
	session   *browser.Session
	engines   []Engine
	threshold int
	pace      *rate.Limiter
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithThreshold sets the unique-result count that stops the cascade.
func WithThreshold(n int) Option {
	return func(c *Cascade) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithPace limits how often engines are navigated.
func WithPace(l *rate.Limiter) Option {
	return func(c *Cascade) { c.pace = l }
}

// NewCascade creates a cascade over engines. A nil or empty engines slice
// uses the defaults.
func NewCascade(session *browser.Session, engines []Engine, opts ...Option) *Cascade {
	if len(engines) == 0 {
		engines = DefaultEngines()
	}
	c := &Cascade{
		session:   session,
		engines:   engines,
		threshold: DefaultThreshold,
		pace:      rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threshold returns the configured stop threshold.
func (c *Cascade) Threshold() int { return c.threshold }

// Engines returns the engine names in order.
func (c *Cascade) Engines() []string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name
	}
	return names
}

// Search visits engines until seen holds threshold unique URLs. New
// candidates are added to seen and returned in discovery order. Engine
// errors are recorded on the attempt and treated as no results. When seen
// is still empty after every engine, a single manual-check candidate is
// returned.
func (c *Cascade) Search(ctx context.Context, query, site string, seen *model.CandidateSet) Result {
	if seen == nil {
		seen = model.NewCandidateSet()
	}
	var res Result

	for _, e := range c.engines {
		if seen.Len() >= c.threshold {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if c.pace != nil {
			if err := c.pace.Wait(ctx); err != nil {
				break
			}
		}

		start := time.Now()
		found, err := c.visit(ctx, e, query, site)
		a := Attempt{Engine: e.Name, Found: len(found), Err: err, Duration: time.Since(start)}
		for _, cand := range found {
			if seen.Add(cand) {
				res.Candidates = append(res.Candidates, cand)
				a.Added++
			}
		}
		res.Attempts = append(res.Attempts, a)

		if err != nil {
			zap.L().Warn("dork: engine failed",
				zap.String("engine", e.Name),
				zap.String("query", query),
				zap.Error(err),
			)
		} else {
			zap.L().Debug("dork: engine done",
				zap.String("engine", e.Name),
				zap.Int("found", a.Found),
				zap.Int("added", a.Added),
				zap.Duration("duration", a.Duration),
			)
		}
	}

	if seen.Len() == 0 {
		res.Candidates = append(res.Candidates, c.manualCheck(query, site))
	}
	return res
}

func (c *Cascade) visit(ctx context.Context, e Engine, query, site string) ([]model.Candidate, error) {
	var found []model.Candidate
	err := c.session.Do(ctx, func(tab *browser.Tab) error {
		html, err := tab.Fetch(ctx, e.SearchURL(query, site))
		if err != nil {
			return err
		}
		found, err = e.Parse(html)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (c *Cascade) manualCheck(query, site string) model.Candidate {
	return model.Candidate{
		DisplayName: query,
		SourceURL:   c.engines[0].SearchURL(query, site),
		Snippet:     "No search layer returned results. Check this query manually.",
		Source:      ManualCheckSource,
		ManualCheck: true,
	}
}
