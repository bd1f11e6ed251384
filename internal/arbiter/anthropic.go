package arbiter

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/pkg/anthropic"
)

const defaultMaxTokens = 512

// AnthropicJudge asks a Claude model for a verdict.
type AnthropicJudge struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicJudge creates a judge over client. An empty model selects
// anthropic.DefaultModel.
func NewAnthropicJudge(client anthropic.Client, model string) *AnthropicJudge {
	if model == "" {
		model = anthropic.DefaultModel
	}
	return &AnthropicJudge{client: client, model: model, maxTokens: defaultMaxTokens}
}

// Name implements Judge.
func (j *AnthropicJudge) Name() string { return "anthropic" }

// Complete implements Judge.
func (j *AnthropicJudge) Complete(ctx context.Context, system, prompt string) (string, error) {
	temp := 0.0
	resp, err := j.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       j.model,
		MaxTokens:   j.maxTokens,
		System:      anthropic.CachedSystem(system),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "arbiter: anthropic completion")
	}
	resp.Usage.LogCost(j.model, "arbiter")
	text := resp.Text()
	if text == "" {
		return "", eris.New("arbiter: anthropic returned no text")
	}
	return text, nil
}
