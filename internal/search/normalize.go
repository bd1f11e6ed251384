package search

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sells-group/hydra/internal/model"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips markup from provider-supplied titles and snippets and
// collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Normalize cleans raw provider output: it drops entries without a source
// URL, removes duplicates by canonical URL, stamps the source and rank, and
// caps the list at n when n > 0.
func Normalize(source string, raw []model.Candidate, n int) []model.Candidate {
	set := model.NewCandidateSet()
	for _, c := range raw {
		c.SourceURL = strings.TrimSpace(c.SourceURL)
		if c.SourceURL == "" {
			continue
		}
		c.DisplayName = CleanText(c.DisplayName)
		c.Snippet = CleanText(c.Snippet)
		c.Address = CleanText(c.Address)
		if c.Source == "" {
			c.Source = source
		}
		if !set.Add(c) {
			continue
		}
		if n > 0 && set.Len() >= n {
			break
		}
	}

	out := set.Items()
	for i := range out {
		if out[i].Rank == 0 {
			out[i].Rank = i + 1
		}
	}
	return out
}
