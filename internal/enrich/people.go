package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/hydra/internal/dedup"
	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/search"
)

type personHit struct {
	Name    string
	Title   string
	Company string
	Source  string
}

var titleSeparators = strings.NewReplacer(" – ", " | ", " — ", " | ", " - ", " | ", " · ", " | ")

// siteSuffixes are trailing title segments naming the hosting site.
var siteSuffixes = map[string]bool{
	"linkedin": true, "facebook": true, "x": true, "twitter": true, "crunchbase": true,
	"zoominfo": true, "rocketreach": true, "the org": true, "bloomberg": true, "instagram": true,
}

func (p *Pipeline) searchRole(ctx context.Context, role, company string) ([]personHit, error) {
	if p.search == nil {
		return nil, nil
	}
	res, err := p.search.Gather(ctx, gather.Request{
		Query: fmt.Sprintf("%q %q", role, company),
		Kind:  search.KindPerson,
		Limit: 5,
	})
	if err != nil {
		return nil, err
	}
	var hits []personHit
	for _, c := range res.Candidates {
		if c.ManualCheck {
			continue
		}
		if h, ok := ParsePerson(c); ok {
			if h.Title == "" {
				h.Title = role
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// ParsePerson reads "Name - Title - Company | Site" style result titles.
// "Title at Company" in the second segment or the snippet is also
// understood.
func ParsePerson(c model.Candidate) (personHit, bool) {
	var parts []string
	for _, seg := range strings.Split(titleSeparators.Replace(c.DisplayName), " | ") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	for len(parts) > 1 && siteSuffixes[strings.ToLower(parts[len(parts)-1])] {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || !looksLikePersonName(parts[0]) {
		return personHit{}, false
	}

	h := personHit{Name: parts[0], Source: c.SourceURL}
	switch {
	case len(parts) >= 3:
		h.Title, h.Company = parts[1], parts[2]
	case len(parts) == 2:
		h.Title, h.Company = splitAt(parts[1])
	}
	if h.Company == "" && strings.Contains(strings.ToLower(c.Snippet), " at ") {
		_, h.Company = splitAt(c.Snippet)
	}
	if h.Company == "" {
		return personHit{}, false
	}
	return h, true
}

// splitAt splits "CEO at Acme Inc" into title and company. Text without
// " at " is treated as a company name.
func splitAt(s string) (title, company string) {
	s = strings.TrimSpace(s)
	idx := strings.Index(strings.ToLower(s), " at ")
	if idx < 0 {
		return "", trimSentence(s)
	}
	return strings.TrimSpace(s[:idx]), trimSentence(s[idx+4:])
}

func trimSentence(s string) string {
	if i := strings.IndexAny(s, ".,;·\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func looksLikePersonName(s string) bool {
	words := strings.Fields(s)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsUpper(r[0]) {
			return false
		}
		for _, c := range r {
			if !unicode.IsLetter(c) && c != '-' && c != '\'' && c != '.' {
				return false
			}
		}
	}
	return true
}

// FuzzyCompanyMatch compares company names after normalization (accents,
// case, punctuation and legal suffixes removed). Names match when equal,
// when one is a whole-word part of the other, or when most words overlap.
func FuzzyCompanyMatch(a, b string) bool {
	na, nb := dedup.NormalizeName(a), dedup.NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if strings.Contains(" "+na+" ", " "+nb+" ") || strings.Contains(" "+nb+" ", " "+na+" ") {
		return true
	}

	wa, wb := strings.Fields(na), strings.Fields(nb)
	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[w] = true
	}
	shared := 0
	for _, w := range wb {
		if set[w] {
			shared++
		}
	}
	smaller := min(len(wa), len(wb))
	return float64(shared)/float64(smaller) >= 0.6
}

// pickEmail prefers a mined address whose local part names the person and
// otherwise guesses first.last@domain.
func pickEmail(name string, mined []string, domain string) string {
	first, last := nameParts(name)
	if first == "" {
		return ""
	}
	for _, e := range mined {
		at := strings.LastIndexByte(e, '@')
		if at <= 0 {
			continue
		}
		local := strings.ToLower(e[:at])
		if strings.Contains(local, first) && (last == "" || strings.Contains(local, last) || local == first) {
			return e
		}
	}
	if domain == "" || last == "" {
		return ""
	}
	return first + "." + last + "@" + domain
}

// nameParts returns the ASCII-folded lowercase first and last name.
func nameParts(name string) (first, last string) {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	var words []string
	for _, w := range strings.Fields(strings.ToLower(folded)) {
		w = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' {
				return r
			}
			return -1
		}, w)
		if w != "" {
			words = append(words, w)
		}
	}
	switch len(words) {
	case 0:
		return "", ""
	case 1:
		return words[0], ""
	}
	return words[0], words[len(words)-1]
}
