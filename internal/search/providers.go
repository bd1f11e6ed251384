package search

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/pkg/brave"
	"github.com/sells-group/hydra/pkg/google"
	"github.com/sells-group/hydra/pkg/jina"
	"github.com/sells-group/hydra/pkg/perplexity"
	"github.com/sells-group/hydra/pkg/serper"
)

// SerperProvider adapts Serper. Business queries use the places endpoint.
type SerperProvider struct {
	Client serper.Client
}

func (p *SerperProvider) Name() string { return "serper" }

func (p *SerperProvider) Search(ctx context.Context, query string, kind Kind, n int) ([]model.Candidate, error) {
	req := serper.SearchRequest{Query: query, Num: n}
	if kind == KindBusiness {
		resp, err := p.Client.Places(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make([]model.Candidate, 0, len(resp.Places))
		for _, pl := range resp.Places {
			src := pl.Website
			if src == "" && pl.CID != "" {
				src = "https://maps.google.com/?cid=" + pl.CID
			}
			out = append(out, model.Candidate{
				DisplayName: pl.Title,
				SourceURL:   src,
				Snippet:     pl.Category,
				Rank:        pl.Position,
				Website:     pl.Website,
				Phone:       pl.PhoneNumber,
				Address:     pl.Address,
			})
		}
		return out, nil
	}

	resp, err := p.Client.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, model.Candidate{
			DisplayName: r.Title,
			SourceURL:   r.Link,
			Snippet:     r.Snippet,
			Rank:        r.Position,
		})
	}
	return out, nil
}

// BraveProvider adapts Brave web search. It does not serve business lookups.
type BraveProvider struct {
	Client brave.Client
}

func (p *BraveProvider) Name() string { return "brave" }

func (p *BraveProvider) Search(ctx context.Context, query string, kind Kind, n int) ([]model.Candidate, error) {
	if kind == KindBusiness {
		return nil, nil
	}
	resp, err := p.Client.WebSearch(ctx, query, n)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		out = append(out, model.Candidate{DisplayName: r.Title, SourceURL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

// JinaProvider adapts s.jina.ai search.
type JinaProvider struct {
	Client jina.Client
}

func (p *JinaProvider) Name() string { return "jina" }

func (p *JinaProvider) Search(ctx context.Context, query string, kind Kind, n int) ([]model.Candidate, error) {
	if kind == KindBusiness {
		return nil, nil
	}
	resp, err := p.Client.Search(ctx, query, jina.WithNum(n))
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(resp.Data))
	for _, r := range resp.Data {
		snippet := r.Description
		if snippet == "" {
			snippet = truncate(r.Content, 300)
		}
		out = append(out, model.Candidate{DisplayName: r.Title, SourceURL: r.URL, Snippet: snippet})
	}
	return out, nil
}

// PerplexityProvider asks a sonar model and keeps only the search results
// it reports, never the generated prose.
type PerplexityProvider struct {
	Client perplexity.Client
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

var perplexityPrompts = map[Kind]string{
	KindWeb:      "Find web pages relevant to: %s",
	KindBusiness: "List businesses matching: %s. Prefer each company's official website.",
	KindPerson:   "Find public professional profiles for: %s",
}

func (p *PerplexityProvider) Search(ctx context.Context, query string, kind Kind, n int) ([]model.Candidate, error) {
	prompt, ok := perplexityPrompts[kind]
	if !ok {
		prompt = perplexityPrompts[KindWeb]
	}
	maxTokens := 256
	resp, err := p.Client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages:  []perplexity.Message{{Role: "user", Content: fmt.Sprintf(prompt, query)}},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Candidate, 0, len(resp.SearchResults))
	for _, r := range resp.SearchResults {
		out = append(out, model.Candidate{DisplayName: r.Title, SourceURL: r.URL, Snippet: r.Date})
	}
	if len(out) == 0 {
		for _, u := range resp.Citations {
			out = append(out, model.Candidate{SourceURL: u})
		}
	}
	return out, nil
}

// GooglePlacesProvider serves business lookups only.
type GooglePlacesProvider struct {
	Client google.Client
}

func (p *GooglePlacesProvider) Name() string { return "google_places" }

func (p *GooglePlacesProvider) Search(ctx context.Context, query string, kind Kind, n int) ([]model.Candidate, error) {
	if kind != KindBusiness {
		return nil, nil
	}
	resp, err := p.Client.TextSearch(ctx, query, n)
	if err != nil {
		return nil, eris.Wrap(err, "search: google places")
	}
	out := make([]model.Candidate, 0, len(resp.Places))
	for _, pl := range resp.Places {
		src := pl.WebsiteURI
		if src == "" {
			src = pl.GoogleMapsURI
		}
		out = append(out, model.Candidate{
			DisplayName: pl.DisplayName.Text,
			SourceURL:   src,
			Website:     pl.WebsiteURI,
			Phone:       pl.NationalPhoneNumber,
			Address:     pl.FormattedAddress,
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
