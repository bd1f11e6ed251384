package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/resilience"
	"github.com/sells-group/hydra/pkg/jina"
)

// Reader is the part of the Jina client the adapter needs.
type Reader interface {
	Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error)
}

// JinaAdapter fetches pages through the Jina reader. It is the fallback
// for sites that block direct requests.
type JinaAdapter struct {
	client  Reader
	breaker *resilience.Breaker
}

// NewJinaAdapter wraps a Jina client. Three consecutive failures open the
// breaker for a minute.
func NewJinaAdapter(client Reader) *JinaAdapter {
	return &JinaAdapter{
		client:  client,
		breaker: resilience.NewBreaker("jina_reader", resilience.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports is false while the breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.BreakerOpen
}

func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.Call(ctx, j.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.New("jina: response needs fallback")
		}
		pageURL := resp.Data.URL
		if pageURL == "" {
			pageURL = targetURL
		}
		return &Result{
			Page: Page{
				URL:        pageURL,
				Title:      resp.Data.Title,
				Markdown:   resp.Data.Content,
				StatusCode: 200,
			},
			Source: "jina",
		}, nil
	})
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// needsFallback reports whether a reader response is empty or a
// challenge page.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil || (resp.Code != 0 && resp.Code != 200) {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
