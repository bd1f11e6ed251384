package arbiter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/resilience"
)

type capturedBody struct {
	mu   sync.Mutex
	body string
}

func (c *capturedBody) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

func geminiServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedBody) {
	t.Helper()
	captured := &capturedBody{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.body = string(raw)
		captured.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	})
	return string(b)
}

func TestGeminiJudge_Complete(t *testing.T) {
	srv, body := geminiServer(t, http.StatusOK, geminiReply(`{"truth_score": 64, "verdict": "ok"}`))

	j, err := NewGeminiJudge(context.Background(), GeminiConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", j.Name())

	score, verdict := New(j).Score(context.Background(), "plumber", testLead())
	assert.Equal(t, 64, score)
	assert.Equal(t, "ok", verdict)
	assert.Contains(t, body.String(), "application/json")
	assert.Contains(t, body.String(), "Query: plumber")
}

func TestGeminiJudge_TransientStatus(t *testing.T) {
	srv, _ := geminiServer(t, http.StatusServiceUnavailable,
		`{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`)

	j, err := NewGeminiJudge(context.Background(), GeminiConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = j.Complete(context.Background(), "system", "prompt")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestNewGeminiJudge_RequiresKey(t *testing.T) {
	_, err := NewGeminiJudge(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}
