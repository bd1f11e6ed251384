// Package mission runs the worker side of the job queue: claiming
// missions, executing the gather, enrich, score and dedup chain,
// finalizing results, and healing missions whose worker went away.
package mission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hydra/internal/dedup"
	"github.com/sells-group/hydra/internal/enrich"
	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/monitoring"
	"github.com/sells-group/hydra/internal/resilience"
	"github.com/sells-group/hydra/internal/search"
	"github.com/sells-group/hydra/internal/store"
)

// Store is the persistence the controller needs.
type Store interface {
	store.MissionStore
	store.ResultStore
	store.LivenessStore
}

// Gatherer produces candidates for a query.
type Gatherer interface {
	Gather(ctx context.Context, req gather.Request) (gather.Result, error)
}

// Enricher turns a candidate into a lead.
type Enricher interface {
	Enrich(ctx context.Context, c model.Candidate) *enrich.Result
}

// Scorer judges a lead. Implementations never fail; they degrade.
type Scorer interface {
	Score(ctx context.Context, query string, lead *model.EnrichedLead) (int, string)
	PredictIntent(ctx context.Context, query string, lead *model.EnrichedLead) model.IntentPrediction
	Draft(ctx context.Context, query string, lead *model.EnrichedLead) model.Intel
}

// DedupGate is the delivery ledger.
type DedupGate interface {
	IsDuplicate(ctx context.Context, orgID, hash, category string) (bool, error)
	MarkDelivered(ctx context.Context, orgID, category string, hashes ...string) error
}

// Config tunes the claim loop.
type Config struct {
	WorkerID             string
	Hostname             string
	PollInterval         time.Duration
	PollJitter           float64
	HeartbeatInterval    time.Duration
	CandidateConcurrency int
	MaxCandidates        int
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.CandidateConcurrency <= 0 {
		c.CandidateConcurrency = 4
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 20
	}
	return c
}

// Controller claims and executes missions for one worker.
type Controller struct {
	cfg      Config
	store    Store
	gatherer Gatherer
	enricher Enricher
	scorer   Scorer
	gate     DedupGate
	counters *monitoring.Counters

	nowFunc   func() time.Time
	startedAt time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithCounters records mission and record counts.
func WithCounters(c *monitoring.Counters) Option {
	return func(ctl *Controller) { ctl.counters = c }
}

// NewController wires a worker.
func NewController(cfg Config, st Store, g Gatherer, e Enricher, s Scorer, gate DedupGate, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg.withDefaults(),
		store:    st,
		gatherer: g,
		enricher: e,
		scorer:   s,
		gate:     gate,
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.startedAt = c.nowFunc().UTC()
	return c
}

// WorkerID returns the identity used for claims and heartbeats.
func (c *Controller) WorkerID() string { return c.cfg.WorkerID }

// Run heartbeats and claims missions until ctx is cancelled. On return
// the worker's liveness record is removed so its missions heal promptly.
func (c *Controller) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "mission.controller"), zap.String("worker_id", c.cfg.WorkerID))

	if err := c.beat(ctx); err != nil {
		return eris.Wrap(err, "mission: register worker")
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(hbCtx, log)
	}()

	defer func() {
		stopHeartbeat()
		wg.Wait()
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.store.RemoveWorker(rmCtx, c.cfg.WorkerID); err != nil {
			log.Warn("mission: deregister worker failed", zap.Error(err))
		}
		log.Info("worker stopped")
	}()

	log.Info("worker started",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Int("candidate_concurrency", c.cfg.CandidateConcurrency),
	)

	for {
		claimed, err := c.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Error("mission: run failed", zap.Error(err))
		}
		if claimed {
			continue
		}
		if !sleep(ctx, resilience.Jitter(c.cfg.PollInterval, c.cfg.PollJitter)) {
			return nil
		}
	}
}

// RunOnce claims at most one mission and executes it. It reports whether
// a mission was claimed.
func (c *Controller) RunOnce(ctx context.Context) (bool, error) {
	m, err := c.store.ClaimMission(ctx, c.cfg.WorkerID)
	if err != nil {
		return false, eris.Wrap(err, "mission: claim")
	}
	if m == nil {
		return false, nil
	}
	c.counters.Inc(monitoring.MissionsClaimed)
	return true, c.Execute(ctx, m)
}

// Execute runs the chain for a claimed mission and finalizes it. When no
// search layer is reachable the mission is left running for the healer.
func (c *Controller) Execute(ctx context.Context, m *model.Mission) error {
	log := zap.L().With(zap.String("mission_id", m.ID), zap.String("query", m.Query))
	start := c.nowFunc()

	res, err := c.gatherer.Gather(ctx, gather.Request{
		Query:    m.Query,
		Kind:     KindFor(m.Platform),
		Platform: m.Platform,
		Limit:    c.cfg.MaxCandidates,
	})
	if err != nil {
		if errors.Is(err, gather.ErrPipelineFatal) {
			c.counters.Inc(monitoring.MissionsFatal)
			log.Error("mission: no search layer reachable, leaving mission for healing")
		}
		return eris.Wrapf(err, "mission: gather %s", m.ID)
	}

	records := c.process(ctx, m, res.Candidates)
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "mission: execute %s", m.ID)
	}

	if err := c.finalize(ctx, m, records); err != nil {
		return err
	}
	log.Info("mission: completed",
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", c.nowFunc().Sub(start)),
	)
	return nil
}

// process enriches and scores candidates concurrently, then applies the
// delivery gate in candidate order. Dropped candidates return no record.
func (c *Controller) process(ctx context.Context, m *model.Mission, cands []model.Candidate) []model.ScoredRecord {
	slots := make([]*model.ScoredRecord, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.CandidateConcurrency)
	for i, cand := range cands {
		g.Go(func() error {
			slots[i] = c.scoreCandidate(gctx, m, cand)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.ScoredRecord, 0, len(cands))
	seen := make(map[string]bool)
	for _, rec := range slots {
		if rec == nil {
			continue
		}
		if h := rec.IdentityHash; h != "" {
			if seen[h] {
				rec.Suppressed = true
			} else {
				dup, err := c.gate.IsDuplicate(ctx, m.OrgID, h, m.Category)
				if err != nil {
					zap.L().Warn("mission: dedup check failed, dropping candidate",
						zap.String("mission_id", m.ID),
						zap.String("source_url", rec.Lead.Candidate.SourceURL),
						zap.Error(err),
					)
					c.counters.Inc(monitoring.CandidatesDropped)
					continue
				}
				rec.Suppressed = dup
				seen[h] = true
			}
		}
		out = append(out, *rec)
	}
	return out
}

func (c *Controller) scoreCandidate(ctx context.Context, m *model.Mission, cand model.Candidate) *model.ScoredRecord {
	if ctx.Err() != nil {
		return nil
	}
	res := c.enricher.Enrich(ctx, cand)
	if err := res.Err(); err != nil {
		zap.L().Warn("mission: enrichment incomplete",
			zap.String("mission_id", m.ID),
			zap.String("source_url", cand.SourceURL),
			zap.String("status", string(res.Lead.Status)),
			zap.Error(err),
		)
	}
	lead := res.Lead
	if lead.Status == model.LeadIrrelevant {
		c.counters.Inc(monitoring.CandidatesDropped)
		return nil
	}

	truth, verdict := c.scorer.Score(ctx, m.Query, lead)
	intent := c.scorer.PredictIntent(ctx, m.Query, lead)
	rec := &model.ScoredRecord{
		ID:           uuid.NewString(),
		MissionID:    m.ID,
		Lead:         *lead,
		TruthScore:   truth,
		Verdict:      verdict,
		IntentScore:  intent.IntentScore,
		Intent:       intent,
		Intel:        c.scorer.Draft(ctx, m.Query, lead),
		IdentityHash: identityHash(lead),
		CreatedAt:    c.nowFunc().UTC(),
	}
	rec.Clamp()
	return rec
}

// finalize persists records with provenance, completes the mission and
// records deliveries. A completion failure after a successful save
// leaves the mission running; the healer will requeue it.
func (c *Controller) finalize(ctx context.Context, m *model.Mission, records []model.ScoredRecord) error {
	now := c.nowFunc().UTC()
	prov := make([]model.Provenance, len(records))
	for i, r := range records {
		prov[i] = model.Provenance{
			ID:         uuid.NewString(),
			MissionID:  m.ID,
			ResultID:   r.ID,
			SourceURL:  r.Lead.Candidate.SourceURL,
			LegalBasis: m.ComplianceMode.LegalBasis(),
			Verdict:    r.Verdict,
			CapturedAt: now,
		}
	}

	if err := c.store.SaveResults(ctx, m.ID, records, prov); err != nil {
		return eris.Wrapf(err, "mission: save results %s", m.ID)
	}
	if err := c.store.CompleteMission(ctx, m.ID, c.cfg.WorkerID, len(records)); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			zap.L().Warn("mission: claim lost before completion", zap.String("mission_id", m.ID))
		}
		return eris.Wrapf(err, "mission: complete %s", m.ID)
	}

	var hashes []string
	suppressed := 0
	for _, r := range records {
		if r.Suppressed {
			suppressed++
			continue
		}
		if r.IdentityHash != "" {
			hashes = append(hashes, r.IdentityHash)
		}
	}
	c.counters.Inc(monitoring.MissionsCompleted)
	c.counters.Add(monitoring.RecordsSaved, len(records))
	c.counters.Add(monitoring.RecordsSuppressed, suppressed)

	if len(hashes) > 0 {
		if err := c.gate.MarkDelivered(ctx, m.OrgID, m.Category, hashes...); err != nil {
			return eris.Wrapf(err, "mission: record deliveries %s", m.ID)
		}
	}
	return nil
}

func (c *Controller) heartbeatLoop(ctx context.Context, log *zap.Logger) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.beat(ctx); err != nil && ctx.Err() == nil {
				log.Warn("mission: heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (c *Controller) beat(ctx context.Context) error {
	return c.store.Heartbeat(ctx, model.WorkerLiveness{
		WorkerID:  c.cfg.WorkerID,
		Hostname:  c.cfg.Hostname,
		StartedAt: c.startedAt,
		LastSeen:  c.nowFunc().UTC(),
	})
}

// KindFor maps a mission platform to the provider search kind.
func KindFor(platform string) search.Kind {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "maps", "google_maps", "places":
		return search.KindBusiness
	case "linkedin":
		return search.KindPerson
	default:
		return search.KindWeb
	}
}

// identityHash keys a lead for the delivery ledger. The manual-check
// placeholder is never deduplicated.
func identityHash(lead *model.EnrichedLead) string {
	if lead.Candidate.ManualCheck {
		return ""
	}
	domain := lead.Website
	if domain == "" {
		domain = lead.Candidate.Website
	}
	if domain == "" {
		domain = lead.Candidate.SourceURL
	}
	return dedup.IdentityHash(lead.CompanyName(), domain)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
