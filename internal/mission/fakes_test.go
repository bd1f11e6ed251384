package mission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/hydra/internal/enrich"
	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	queue       []*model.Mission
	claimErr    error
	saved       []model.ScoredRecord
	prov        []model.Provenance
	saveErr     error
	completed   map[string]int
	completeErr error

	stale      []model.Mission
	requeued   map[string]string
	failed     map[string]string
	requeueErr error
	evicted    int

	heartbeats []model.WorkerLiveness
	removed    []string
}

func newFakeStore(queue ...*model.Mission) *fakeStore {
	return &fakeStore{
		queue:     queue,
		completed: make(map[string]int),
		requeued:  make(map[string]string),
		failed:    make(map[string]string),
	}
}

func (s *fakeStore) CreateMission(_ context.Context, m model.Mission) (*model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, &m)
	return &m, nil
}

func (s *fakeStore) GetMission(context.Context, string) (*model.Mission, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) ClaimMission(_ context.Context, workerID string) (*model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.queue) == 0 {
		return nil, nil
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	m.Status = model.MissionRunning
	m.ClaimedBy = workerID
	return m, nil
}

func (s *fakeStore) CompleteMission(_ context.Context, id, _ string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed[id] = n
	return nil
}

func (s *fakeStore) FailMission(_ context.Context, id, _, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = note
	return nil
}

func (s *fakeStore) ListStaleMissions(context.Context, time.Time, time.Time) ([]model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Mission(nil), s.stale...), nil
}

func (s *fakeStore) RequeueMission(_ context.Context, id, _, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requeueErr != nil {
		return s.requeueErr
	}
	s.requeued[id] = note
	return nil
}

func (s *fakeStore) SaveResults(_ context.Context, _ string, recs []model.ScoredRecord, prov []model.Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, recs...)
	s.prov = append(s.prov, prov...)
	return nil
}

func (s *fakeStore) ListResults(context.Context, string) ([]model.ScoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ScoredRecord(nil), s.saved...), nil
}

func (s *fakeStore) Heartbeat(_ context.Context, w model.WorkerLiveness) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, w)
	return nil
}

func (s *fakeStore) RemoveWorker(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return nil
}

func (s *fakeStore) ListWorkers(context.Context) ([]model.WorkerLiveness, error) { return nil, nil }

func (s *fakeStore) EvictStaleWorkers(context.Context, time.Time) (int, error) {
	return s.evicted, nil
}

type fakeGatherer struct {
	mu   sync.Mutex
	reqs []gather.Request
	res  gather.Result
	err  error
}

func (g *fakeGatherer) Gather(_ context.Context, req gather.Request) (gather.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.res, g.err
}

func gathered(cands ...model.Candidate) *fakeGatherer {
	return &fakeGatherer{res: gather.Result{Candidates: cands}}
}

// fakeEnricher rejects candidates whose name contains "jobs" and marks
// the rest PARTIAL with the candidate's own website.
type fakeEnricher struct{}

func (fakeEnricher) Enrich(_ context.Context, c model.Candidate) *enrich.Result {
	lead := model.NewLead(c)
	if strings.Contains(strings.ToLower(c.DisplayName), "jobs") {
		lead.Reject("negative keyword")
		return &enrich.Result{Lead: lead}
	}
	if !c.ManualCheck {
		lead.Advance(model.LeadPartial)
	}
	return &enrich.Result{Lead: lead}
}

type fakeScorer struct{}

func (fakeScorer) Score(context.Context, string, *model.EnrichedLead) (int, string) {
	return 70, "looks right"
}

func (fakeScorer) PredictIntent(context.Context, string, *model.EnrichedLead) model.IntentPrediction {
	return model.IntentPrediction{IntentScore: 150, PredictiveGrowthScore: -5, Confidence: 0.5}
}

func (fakeScorer) Draft(_ context.Context, query string, lead *model.EnrichedLead) model.Intel {
	return model.Intel{WhyItMatters: lead.CompanyName() + " matches " + query}
}

type fakeGate struct {
	mu     sync.Mutex
	dups   map[string]bool
	errFor map[string]error
	marked []string
	orgs   []string
}

func (g *fakeGate) IsDuplicate(_ context.Context, _, hash, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.errFor[hash]; err != nil {
		return false, err
	}
	return g.dups[hash], nil
}

func (g *fakeGate) MarkDelivered(_ context.Context, orgID, _ string, hashes ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orgs = append(g.orgs, orgID)
	g.marked = append(g.marked, hashes...)
	return nil
}

type recordingEscalator struct {
	mu    sync.Mutex
	notes map[string]string
}

func (e *recordingEscalator) EscalateMission(_ context.Context, m model.Mission, note string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.notes == nil {
		e.notes = make(map[string]string)
	}
	e.notes[m.ID] = note
	return nil
}
