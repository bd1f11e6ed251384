// Package enrich turns a raw candidate into a lead with a website, mined
// contact details and, when one can be found, a verified decision-maker.
package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/scrape"
)

// Step names used on StepError.
const (
	StepWebsite       = "website"
	StepContacts      = "contacts"
	StepDecisionMaker = "decision_maker"
)

// StepError is a non-fatal failure of one enrichment step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return "enrich: " + e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Config tunes the pipeline.
type Config struct {
	NegativeKeywords []string `yaml:"negative_keywords" mapstructure:"negative_keywords"`
	BlockedDomains   []string `yaml:"blocked_domains" mapstructure:"blocked_domains"`
	Roles            []string `yaml:"roles" mapstructure:"roles"`
	MaxContactPages  int      `yaml:"max_contact_pages" mapstructure:"max_contact_pages" validate:"min=0,max=10"`
	ExcludePaths     []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// DefaultRoles are searched in priority order.
var DefaultRoles = []string{"CEO", "Founder", "Head of Marketing"}

var defaultNegativeKeywords = []string{
	"jobs", "careers", "hiring", "wikipedia", "top 10", "list of", "directory", "how to", "reddit",
}

// Searcher runs a gather query.
type Searcher interface {
	Gather(ctx context.Context, req gather.Request) (gather.Result, error)
}

// Fetcher fetches pages. ScrapeAll skips pages that fail.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
	ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []scrape.Page
}

// EmailVerifier checks an address.
type EmailVerifier interface {
	Verify(ctx context.Context, email string) model.EmailVerification
}

// Result is the enriched lead plus the steps that failed along the way.
type Result struct {
	Lead   *model.EnrichedLead
	Errors []*StepError
}

// Err joins the step errors, or nil.
func (r *Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Pipeline enriches candidates. It is safe for concurrent use.
type Pipeline struct {
	cfg      Config
	search   Searcher
	fetch    Fetcher
	verifier EmailVerifier
	blocked  *blocklist
	negative []string
}

// New creates a Pipeline. A nil verifier skips email verification.
func New(cfg Config, search Searcher, fetch Fetcher, verifier EmailVerifier) *Pipeline {
	if len(cfg.Roles) == 0 {
		cfg.Roles = DefaultRoles
	}
	negative := cfg.NegativeKeywords
	if len(negative) == 0 {
		negative = defaultNegativeKeywords
	}
	p := &Pipeline{
		cfg:      cfg,
		search:   search,
		fetch:    fetch,
		verifier: verifier,
		blocked:  newBlocklist(cfg.BlockedDomains),
	}
	for _, kw := range negative {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			p.negative = append(p.negative, kw)
		}
	}
	return p
}

// run carries the per-candidate state shared by the fan-out goroutines.
type run struct {
	mu   sync.Mutex
	lead *model.EnrichedLead
	errs []*StepError
}

func (r *run) fail(step string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, &StepError{Step: step, Err: err})
}

// Enrich runs the steps for one candidate. Step failures are collected on
// the result and the lead keeps the best status it reached.
func (p *Pipeline) Enrich(ctx context.Context, c model.Candidate) *Result {
	r := &run{lead: model.NewLead(c)}
	log := zap.L().With(zap.String("company", c.DisplayName), zap.String("source_url", c.SourceURL))

	if c.ManualCheck {
		r.lead.Note = "manual check required"
		return &Result{Lead: r.lead}
	}
	if reason, bad := p.gateName(c.DisplayName); bad {
		r.lead.Reject(reason)
		log.Debug("enrich: rejected by name gate", zap.String("reason", reason))
		return &Result{Lead: r.lead}
	}

	known := r.lead.Website
	hits := make([][]personHit, len(p.cfg.Roles))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		website, err := p.resolveWebsite(gctx, c, known)
		if err != nil {
			r.fail(StepWebsite, err)
		}
		if website == "" {
			return nil
		}
		r.mu.Lock()
		r.lead.Website = website
		r.mu.Unlock()

		found, err := p.mineContacts(gctx, website)
		if err != nil {
			r.fail(StepContacts, err)
		}
		r.mu.Lock()
		r.lead.AddEmails(found.Emails...)
		r.lead.AddPhones(found.Phones...)
		for _, network := range socialNetworks {
			if u, ok := found.Socials[network]; ok {
				r.lead.SetSocial(network, u)
			}
		}
		r.mu.Unlock()
		return nil
	})

	company := r.lead.CompanyName()
	for i, role := range p.cfg.Roles {
		g.Go(func() error {
			found, err := p.searchRole(gctx, role, company)
			if err != nil {
				r.fail(StepDecisionMaker, err)
				return nil
			}
			hits[i] = found
			return nil
		})
	}
	_ = g.Wait()

	// Roles are judged in priority order regardless of which search
	// finished first.
	var person *personHit
	for _, roleHits := range hits {
		for j := range roleHits {
			if FuzzyCompanyMatch(roleHits[j].Company, company) {
				person = &roleHits[j]
				break
			}
		}
		if person != nil {
			break
		}
	}

	if person != nil {
		p.acceptDecisionMaker(ctx, r, *person)
	} else if r.lead.HasContactData() {
		r.lead.Advance(model.LeadPartial)
	}

	log.Debug("enrich: done",
		zap.String("status", string(r.lead.Status)),
		zap.Int("emails", len(r.lead.Emails)),
		zap.Int("phones", len(r.lead.Phones)),
		zap.Int("step_errors", len(r.errs)),
	)
	return &Result{Lead: r.lead, Errors: r.errs}
}

// gateName rejects empty names and names carrying a negative keyword.
func (p *Pipeline) gateName(name string) (string, bool) {
	n := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if n == "" {
		return "empty name", true
	}
	padded := " " + n + " "
	for _, kw := range p.negative {
		if strings.Contains(padded, " "+kw+" ") {
			return "negative keyword: " + kw, true
		}
	}
	return "", false
}

func (p *Pipeline) acceptDecisionMaker(ctx context.Context, r *run, person personHit) {
	r.mu.Lock()
	if !r.lead.SetDecisionMaker(person.Name, person.Title) {
		r.mu.Unlock()
		return
	}
	email := pickEmail(person.Name, r.lead.Emails, domainOf(r.lead.Website))
	r.mu.Unlock()

	var verification *model.EmailVerification
	if email != "" && p.verifier != nil {
		v := p.verifier.Verify(ctx, email)
		verification = &v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lead.EmailVerification = verification
	if email != "" && (verification == nil || verification.Status != model.EmailInvalid) {
		r.lead.DecisionMakerEmail = email
	}
	r.lead.Advance(model.LeadVerified)
}
