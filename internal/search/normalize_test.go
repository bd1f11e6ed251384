package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/model"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Founder at Acme & Co", CleanText("Founder at <strong>Acme</strong> &amp; Co"))
	assert.Equal(t, "a b", CleanText("  a \n\t b "))
	assert.Equal(t, "", CleanText("<script>alert(1)</script>"))
	assert.Equal(t, "", CleanText(""))
}

func TestNormalize(t *testing.T) {
	raw := []model.Candidate{
		{DisplayName: "<b>Acme</b>", SourceURL: "https://Acme.com/"},
		{DisplayName: "Acme dup", SourceURL: "https://acme.com#top"},
		{DisplayName: "No URL"},
		{DisplayName: "Beta", SourceURL: " https://beta.io/team ", Rank: 7},
		{DisplayName: "Gamma", SourceURL: "https://gamma.io"},
	}

	out := Normalize("serper", raw, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "Acme", out[0].DisplayName)
	assert.Equal(t, "serper", out[0].Source)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, "https://beta.io/team", out[1].SourceURL)
	assert.Equal(t, 7, out[1].Rank)
}

func TestNormalize_Unlimited(t *testing.T) {
	raw := []model.Candidate{{SourceURL: "https://a.io"}, {SourceURL: "https://b.io", Source: "custom"}}
	out := Normalize("brave", raw, 0)
	require.Len(t, out, 2)
	assert.Equal(t, "custom", out[1].Source)
}
