// Package search runs a query through an ordered list of API providers and
// returns the first non-empty answer.
package search

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/quota"
	"github.com/sells-group/hydra/internal/resilience"
)

// Kind selects what a provider should look for.
type Kind string

const (
	KindWeb      Kind = "web"
	KindBusiness Kind = "business"
	KindPerson   Kind = "person"
)

// ParseKind maps a flag value to a Kind, defaulting to web.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindBusiness, KindPerson:
		return Kind(s)
	}
	return KindWeb
}

// Provider is one search API. Implementations return (nil, nil) for kinds
// they do not serve.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, kind Kind, n int) ([]model.Candidate, error)
}

// Status is the result of one provider attempt.
type Status string

const (
	StatusOK           Status = "ok"
	StatusEmpty        Status = "empty"
	StatusQuotaBlocked Status = "quota_blocked"
	StatusFailed       Status = "failed"
)

// Outcome records a single provider attempt.
type Outcome struct {
	Provider   string            `json:"provider"`
	Status     Status            `json:"status"`
	Candidates []model.Candidate `json:"-"`
	Err        error             `json:"-"`
	Duration   time.Duration     `json:"duration"`
}

// Result is the cascade answer. Provider is empty when nobody produced
// anything.
type Result struct {
	Provider   string            `json:"provider,omitempty"`
	Candidates []model.Candidate `json:"candidates"`
	Outcomes   []Outcome         `json:"outcomes"`
}

// Found reports whether any provider produced candidates.
func (r Result) Found() bool {
	return len(r.Candidates) > 0
}

type entry struct {
	provider Provider
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
}

// Cascade tries providers strictly in registration order.
type Cascade struct {
	entries  []entry
	quota    *quota.Tracker
	breakers *resilience.Breakers
	timeout  time.Duration
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cascade) { c.timeout = d }
}

// WithBreakers shares a breaker registry, e.g. with the status server.
func WithBreakers(b *resilience.Breakers) Option {
	return func(c *Cascade) { c.breakers = b }
}

// NewCascade creates an empty cascade charging usage to tracker.
func NewCascade(tracker *quota.Tracker, opts ...Option) *Cascade {
	c := &Cascade{quota: tracker, timeout: 15 * time.Second}
	for _, o := range opts {
		o(c)
	}
	if c.quota == nil {
		c.quota = quota.NewTracker(nil)
	}
	if c.breakers == nil {
		c.breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	return c
}

// Register appends p at the lowest priority. ratePerSec <= 0 disables
// client-side pacing.
func (c *Cascade) Register(p Provider, ratePerSec float64) {
	e := entry{provider: p, breaker: c.breakers.Get(p.Name())}
	if ratePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	c.entries = append(c.entries, e)
}

// Providers returns registered provider names in priority order.
func (c *Cascade) Providers() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.provider.Name()
	}
	return out
}

// Search tries each provider in order and returns the first non-empty
// normalized list. Only the winner's quota is charged. Provider errors are
// recorded in the outcomes and never returned.
func (c *Cascade) Search(ctx context.Context, query string, kind Kind, n int) Result {
	var res Result
	for _, e := range c.entries {
		if ctx.Err() != nil {
			break
		}
		out := c.attempt(ctx, e, query, kind, n)
		res.Outcomes = append(res.Outcomes, out)

		if out.Status == StatusOK {
			c.quota.Consume(out.Provider, 1)
			res.Provider = out.Provider
			res.Candidates = out.Candidates
			return res
		}
	}
	return res
}

func (c *Cascade) attempt(ctx context.Context, e entry, query string, kind Kind, n int) Outcome {
	name := e.provider.Name()
	log := zap.L().With(zap.String("provider", name), zap.String("kind", string(kind)))
	start := time.Now()

	if !c.quota.Allow(name) {
		log.Debug("search: provider quota exhausted")
		return Outcome{Provider: name, Status: StatusQuotaBlocked}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Outcome{Provider: name, Status: StatusFailed, Err: err, Duration: time.Since(start)}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := resilience.Call(callCtx, e.breaker, func(ctx context.Context) ([]model.Candidate, error) {
		return e.provider.Search(ctx, query, kind, n)
	})
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("search: provider failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return Outcome{Provider: name, Status: StatusFailed, Err: err, Duration: elapsed}
	}

	cands := Normalize(name, raw, n)
	if len(cands) == 0 {
		log.Debug("search: provider returned nothing", zap.Duration("elapsed", elapsed))
		return Outcome{Provider: name, Status: StatusEmpty, Duration: elapsed}
	}

	log.Debug("search: provider answered", zap.Int("candidates", len(cands)), zap.Duration("elapsed", elapsed))
	return Outcome{Provider: name, Status: StatusOK, Candidates: cands, Duration: elapsed}
}
