package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/pkg/brave"
	"github.com/sells-group/hydra/pkg/google"
	googlemocks "github.com/sells-group/hydra/pkg/google/mocks"
	"github.com/sells-group/hydra/pkg/jina"
	"github.com/sells-group/hydra/pkg/perplexity"
	"github.com/sells-group/hydra/pkg/serper"
)

type fakeSerper struct {
	search *serper.SearchResponse
	places *serper.PlacesResponse
	err    error
}

func (f *fakeSerper) Search(context.Context, serper.SearchRequest) (*serper.SearchResponse, error) {
	return f.search, f.err
}

func (f *fakeSerper) Places(context.Context, serper.SearchRequest) (*serper.PlacesResponse, error) {
	return f.places, f.err
}

type fakeBrave struct{ calls int }

func (f *fakeBrave) WebSearch(context.Context, string, int) (*brave.WebSearchResponse, error) {
	f.calls++
	return &brave.WebSearchResponse{Web: brave.WebResults{Results: []brave.WebResult{
		{Title: "Jane Doe", URL: "https://linkedin.com/in/jane", Description: "CEO at Acme"},
	}}}, nil
}

type fakeJina struct{}

func (fakeJina) Read(context.Context, string) (*jina.ReadResponse, error) { return nil, nil }

func (fakeJina) Search(context.Context, string, ...jina.SearchOption) (*jina.SearchResponse, error) {
	return &jina.SearchResponse{Data: []jina.SearchResult{{Title: "Acme", URL: "https://acme.com", Content: "Acme builds things"}}}, nil
}

type fakePerplexity struct{ resp *perplexity.ChatCompletionResponse }

func (f fakePerplexity) ChatCompletion(context.Context, perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	return f.resp, nil
}

func TestSerperProvider(t *testing.T) {
	p := &SerperProvider{Client: &fakeSerper{
		search: &serper.SearchResponse{Organic: []serper.OrganicResult{{Title: "Acme", Link: "https://acme.com", Position: 1}}},
		places: &serper.PlacesResponse{Places: []serper.Place{
			{Title: "Acme LLC", Website: "https://acme.com", PhoneNumber: "512-555-0100", Address: "1 Main"},
			{Title: "No Site Co", CID: "42"},
		}},
	}}

	web, err := p.Search(context.Background(), "acme", KindWeb, 10)
	require.NoError(t, err)
	require.Len(t, web, 1)
	assert.Equal(t, "https://acme.com", web[0].SourceURL)

	biz, err := p.Search(context.Background(), "acme", KindBusiness, 10)
	require.NoError(t, err)
	require.Len(t, biz, 2)
	assert.Equal(t, "512-555-0100", biz[0].Phone)
	assert.Equal(t, "https://acme.com", biz[0].Website)
	assert.Equal(t, "https://maps.google.com/?cid=42", biz[1].SourceURL)
	assert.Empty(t, biz[1].Website)
}

func TestSerperProvider_Error(t *testing.T) {
	p := &SerperProvider{Client: &fakeSerper{err: errors.New("status 500")}}
	_, err := p.Search(context.Background(), "acme", KindWeb, 10)
	require.Error(t, err)
}

func TestBraveProvider_SkipsBusiness(t *testing.T) {
	fb := &fakeBrave{}
	p := &BraveProvider{Client: fb}

	out, err := p.Search(context.Background(), "acme", KindBusiness, 10)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, fb.calls)

	out, err = p.Search(context.Background(), "jane doe acme", KindPerson, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "CEO at Acme", out[0].Snippet)
}

func TestJinaProvider_SnippetFallsBackToContent(t *testing.T) {
	out, err := (&JinaProvider{Client: fakeJina{}}).Search(context.Background(), "acme", KindWeb, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Acme builds things", out[0].Snippet)
}

func TestPerplexityProvider(t *testing.T) {
	withResults := &PerplexityProvider{Client: fakePerplexity{resp: &perplexity.ChatCompletionResponse{
		SearchResults: []perplexity.SearchResult{{Title: "Acme", URL: "https://acme.com"}},
		Citations:     []string{"https://ignored.com"},
	}}}
	out, err := withResults.Search(context.Background(), "acme", KindBusiness, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://acme.com", out[0].SourceURL)

	citationsOnly := &PerplexityProvider{Client: fakePerplexity{resp: &perplexity.ChatCompletionResponse{
		Citations: []string{"https://a.io", "https://b.io"},
	}}}
	out, err = citationsOnly.Search(context.Background(), "acme", KindWeb, 5)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestGooglePlacesProvider(t *testing.T) {
	mc := googlemocks.NewMockClient(t)
	mc.On("TextSearch", mock.Anything, "agencies in austin", 10).Return(&google.TextSearchResponse{
		Places: []google.Place{
			{DisplayName: google.DisplayName{Text: "Acme"}, WebsiteURI: "https://acme.com", NationalPhoneNumber: "(512) 555-0100"},
			{DisplayName: google.DisplayName{Text: "Beta"}, GoogleMapsURI: "https://maps.google.com/?cid=7"},
		},
	}, nil).Once()

	p := &GooglePlacesProvider{Client: mc}

	out, err := p.Search(context.Background(), "agencies in austin", KindWeb, 10)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = p.Search(context.Background(), "agencies in austin", KindBusiness, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "(512) 555-0100", out[0].Phone)
	assert.Equal(t, "https://maps.google.com/?cid=7", out[1].SourceURL)
}
