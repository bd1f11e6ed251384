// Package arbiter scores enriched leads for truthfulness and intent. An
// AI judge is consulted first under a strict timeout; any failure falls
// back to the deterministic heuristics in heuristic.go.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/resilience"
)

// DefaultTimeout bounds each judge call, retries included.
const DefaultTimeout = 12 * time.Second

var errNoJudge = eris.New("arbiter: no judge configured")

// Arbiter scores leads.
type Arbiter struct {
	judge   Judge
	timeout time.Duration
	retry   resilience.RetryPolicy
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New creates an arbiter. A nil judge makes every call heuristic.
func New(judge Judge, opts ...Option) *Arbiter {
	a := &Arbiter{
		judge:   judge,
		timeout: DefaultTimeout,
		retry: resilience.RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     time.Second,
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type scoreReply struct {
	TruthScore *int   `json:"truth_score"`
	Verdict    string `json:"verdict"`
}

// Score returns a truth score in [0,100] and a short verdict.
func (a *Arbiter) Score(ctx context.Context, query string, lead *model.EnrichedLead) (int, string) {
	var reply scoreReply
	err := a.ask(ctx, "score", scoreSystem, describe(query, lead), &reply)
	if err == nil && reply.TruthScore == nil {
		err = eris.New("arbiter: reply missing truth_score")
	}
	if err != nil {
		a.fallback("score", err)
		return HeuristicScore(query, lead)
	}
	verdict := strings.TrimSpace(reply.Verdict)
	if verdict == "" {
		verdict = verdictFor(*reply.TruthScore)
	}
	return model.ClampScore(*reply.TruthScore), verdict
}

type intentReply struct {
	IntentScore           *int    `json:"intent_score"`
	PredictiveGrowthScore int     `json:"predictive_growth_score"`
	NarrativeSignal       string  `json:"narrative_signal"`
	Confidence            float64 `json:"confidence"`
}

// PredictIntent estimates how ready the lead is to act on.
func (a *Arbiter) PredictIntent(ctx context.Context, query string, lead *model.EnrichedLead) model.IntentPrediction {
	var reply intentReply
	err := a.ask(ctx, "intent", intentSystem, describe(query, lead), &reply)
	if err == nil && reply.IntentScore == nil {
		err = eris.New("arbiter: reply missing intent_score")
	}
	if err != nil {
		a.fallback("intent", err)
		return HeuristicIntent(query, lead)
	}
	conf := reply.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return model.IntentPrediction{
		IntentScore:           model.ClampScore(*reply.IntentScore),
		PredictiveGrowthScore: model.ClampScore(reply.PredictiveGrowthScore),
		NarrativeSignal:       strings.TrimSpace(reply.NarrativeSignal),
		Confidence:            conf,
	}
}

// Draft writes the "why this record matters" summary.
func (a *Arbiter) Draft(ctx context.Context, query string, lead *model.EnrichedLead) model.Intel {
	var reply model.Intel
	err := a.ask(ctx, "draft", draftSystem, describe(query, lead), &reply)
	if err == nil && strings.TrimSpace(reply.WhyItMatters) == "" {
		err = eris.New("arbiter: reply missing why_it_matters")
	}
	if err != nil {
		a.fallback("draft", err)
		return HeuristicDraft(query, lead)
	}
	reply.WhyItMatters = strings.TrimSpace(reply.WhyItMatters)
	return reply
}

func (a *Arbiter) ask(ctx context.Context, op, system, prompt string, v any) error {
	if a.judge == nil {
		return errNoJudge
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := resilience.DoVal(ctx, a.retry.WithLogging(a.judge.Name(), op), func(ctx context.Context) (string, error) {
		return a.judge.Complete(ctx, system, prompt)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), v); err != nil {
		return eris.Wrapf(err, "arbiter: parse %s reply", op)
	}
	return nil
}

func (a *Arbiter) fallback(op string, err error) {
	if eris.Is(err, errNoJudge) {
		return
	}
	zap.L().Warn("arbiter: judge failed, using heuristic",
		zap.String("operation", op),
		zap.Error(err),
	)
}

// describe renders the lead as the user prompt shared by every judge call.
func describe(query string, lead *model.EnrichedLead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "Company: %s\n", lead.CompanyName())
	fmt.Fprintf(&b, "Source: %s (%s)\n", lead.Candidate.SourceURL, lead.Candidate.Source)
	if lead.Candidate.Snippet != "" {
		fmt.Fprintf(&b, "Snippet: %s\n", lead.Candidate.Snippet)
	}
	if lead.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", lead.Website)
	}
	if lead.DecisionMakerName != "" {
		fmt.Fprintf(&b, "Decision maker: %s, %s\n", lead.DecisionMakerName, lead.DecisionMakerTitle)
	}
	if lead.DecisionMakerEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", lead.DecisionMakerEmail)
	}
	fmt.Fprintf(&b, "Emails found: %d, phones found: %d, social profiles: %d\n",
		len(lead.Emails), len(lead.Phones), len(lead.Socials))
	fmt.Fprintf(&b, "Status: %s\n", lead.Status)
	return b.String()
}

const scoreSystem = `You judge whether a sales lead record is truthful and matches the search query.
Respond with JSON only: {"truth_score": <integer 0-100>, "verdict": "<one short sentence>"}.
Penalize records that look stale, closed or unrelated to the query.`

const intentSystem = `You estimate buying intent for a sales lead record.
Respond with JSON only: {"intent_score": <integer 0-100>, "predictive_growth_score": <integer 0-100>, "narrative_signal": "<short phrase>", "confidence": <number 0-1>}.`

const draftSystem = `You write a brief for a salesperson about a lead record.
Respond with JSON only: {"why_it_matters": "<two sentences>", "talking_points": ["<point>", ...]}.
Use only facts present in the record.`
