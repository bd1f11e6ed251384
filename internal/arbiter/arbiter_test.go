package arbiter

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/pkg/anthropic"
	"github.com/sells-group/hydra/pkg/anthropic/mocks"
)

func testLead() *model.EnrichedLead {
	return &model.EnrichedLead{
		Candidate: model.Candidate{
			DisplayName: "Acme Plumbing",
			SourceURL:   "https://acme.test",
			Source:      "serper",
			Snippet:     "Family-owned plumbing in Austin",
		},
		Website:            "https://acme.test/",
		DecisionMakerName:  "Jane Doe",
		DecisionMakerTitle: "Owner",
		Status:             model.LeadVerified,
	}
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

// blockingJudge never answers before ctx ends.
type blockingJudge struct{}

func (blockingJudge) Name() string { return "blocking" }

func (blockingJudge) Complete(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestScore_UsesJudge(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == anthropic.DefaultModel &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 && req.Messages[0].Role == "user"
	})).Return(textResponse("```json\n{\"truth_score\": 88, \"verdict\": \"matches the query\"}\n```"), nil).Once()

	a := New(NewAnthropicJudge(client, ""))
	score, verdict := a.Score(context.Background(), "plumber austin", testLead())
	assert.Equal(t, 88, score)
	assert.Equal(t, "matches the query", verdict)
}

func TestScore_ClampsJudge(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"truth_score": 150}`), nil).Once()

	a := New(NewAnthropicJudge(client, "claude-sonnet-4-5-20250929"))
	score, verdict := a.Score(context.Background(), "plumber", testLead())
	assert.Equal(t, 100, score)
	assert.Equal(t, "trusted", verdict)
}

func TestScore_FallsBackOnMalformedReply(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I think it is probably fine"), nil).Once()

	lead := testLead()
	wantScore, wantVerdict := HeuristicScore("plumber austin", lead)

	score, verdict := New(NewAnthropicJudge(client, "")).Score(context.Background(), "plumber austin", lead)
	assert.Equal(t, wantScore, score)
	assert.Equal(t, wantVerdict, verdict)
}

func TestScore_FallsBackOnMissingField(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"verdict": "no score"}`), nil).Once()

	lead := testLead()
	wantScore, _ := HeuristicScore("plumber", lead)
	score, verdict := New(NewAnthropicJudge(client, "")).Score(context.Background(), "plumber", lead)
	assert.Equal(t, wantScore, score)
	assert.Contains(t, verdict, "(heuristic)")
}

func TestScore_FallsBackOnJudgeError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.New("invalid api key")).Once()

	lead := testLead()
	wantScore, _ := HeuristicScore("plumber", lead)
	score, _ := New(NewAnthropicJudge(client, "")).Score(context.Background(), "plumber", lead)
	assert.Equal(t, wantScore, score)
}

func TestScore_TimeoutFallsBackDeterministically(t *testing.T) {
	a := New(blockingJudge{}, WithTimeout(20*time.Millisecond))
	lead := testLead()
	wantScore, wantVerdict := HeuristicScore("plumber austin", lead)

	start := time.Now()
	score, verdict := a.Score(context.Background(), "plumber austin", lead)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, wantScore, score)
	assert.Equal(t, wantVerdict, verdict)

	again, _ := a.Score(context.Background(), "plumber austin", lead)
	assert.Equal(t, score, again)
}

func TestScore_NoJudge(t *testing.T) {
	lead := testLead()
	wantScore, wantVerdict := HeuristicScore("plumber", lead)
	score, verdict := New(nil).Score(context.Background(), "plumber", lead)
	assert.Equal(t, wantScore, score)
	assert.Equal(t, wantVerdict, verdict)
}

func TestPredictIntent_UsesJudge(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		`{"intent_score": 72, "predictive_growth_score": 140, "narrative_signal": " opening a second shop ", "confidence": 1.4}`,
	), nil).Once()

	got := New(NewAnthropicJudge(client, "")).PredictIntent(context.Background(), "plumber", testLead())
	assert.Equal(t, model.IntentPrediction{
		IntentScore:           72,
		PredictiveGrowthScore: 100,
		NarrativeSignal:       "opening a second shop",
		Confidence:            1,
	}, got)
}

func TestPredictIntent_Fallback(t *testing.T) {
	lead := testLead()
	got := New(blockingJudge{}, WithTimeout(10*time.Millisecond)).PredictIntent(context.Background(), "plumber", lead)
	assert.Equal(t, HeuristicIntent("plumber", lead), got)
}

func TestDraft_UsesJudge(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		`{"why_it_matters": "Acme is the largest plumber in Austin.", "talking_points": ["owner-operated"]}`,
	), nil).Once()

	got := New(NewAnthropicJudge(client, "")).Draft(context.Background(), "plumber", testLead())
	assert.Equal(t, "Acme is the largest plumber in Austin.", got.WhyItMatters)
	assert.Equal(t, []string{"owner-operated"}, got.TalkingPoints)
}

func TestDraft_FallbackOnEmpty(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"why_it_matters": ""}`), nil).Once()

	lead := testLead()
	got := New(NewAnthropicJudge(client, "")).Draft(context.Background(), "plumber", lead)
	assert.Equal(t, HeuristicDraft("plumber", lead), got)
}

func TestDescribe(t *testing.T) {
	out := describe("plumber austin", testLead())
	require.Contains(t, out, "Query: plumber austin\n")
	assert.Contains(t, out, "Company: Acme Plumbing\n")
	assert.Contains(t, out, "Decision maker: Jane Doe, Owner\n")
	assert.Contains(t, out, "Status: VERIFIED\n")
}
