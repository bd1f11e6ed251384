package arbiter

import (
	"context"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/hydra/internal/resilience"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini judge.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // empty uses the public endpoint
	HTTPClient *http.Client
}

// GeminiJudge asks a Gemini model for a verdict in JSON mode.
type GeminiJudge struct {
	client *genai.Client
	model  string
}

// NewGeminiJudge builds a Gemini API client.
func NewGeminiJudge(ctx context.Context, cfg GeminiConfig) (*GeminiJudge, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("arbiter: gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "arbiter: create gemini client")
	}
	return &GeminiJudge{client: client, model: cfg.Model}, nil
}

// Name implements Judge.
func (j *GeminiJudge) Name() string { return "gemini" }

// Complete implements Judge.
func (j *GeminiJudge) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := j.client.Models.GenerateContent(ctx, j.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   defaultMaxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code) {
			err = resilience.NewTransientError(err, apiErr.Code)
		}
		return "", eris.Wrap(err, "arbiter: gemini completion")
	}
	text := resp.Text()
	if text == "" {
		return "", eris.New("arbiter: gemini returned no text")
	}
	return text, nil
}
