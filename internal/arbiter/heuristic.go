package arbiter

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/sells-group/hydra/internal/model"
)

// Heuristic weights.
const (
	maxOverlapPoints      = 40
	maxCompletenessPoints = 40
	sourcePoints          = 20
	stalePenalty          = 30
	freshBonus            = 15
)

var staleMarkers = []string{
	"permanently closed",
	"closed permanently",
	"out of business",
	"no longer in business",
	"no longer operating",
	"formerly",
	"defunct",
	"retired",
	"archived",
	"ceased operations",
}

// Markers match whole words, so "today" in "USA Today" is not a signal.
var freshMarkers = []string{
	"now hiring",
	"we're hiring",
	"is hiring",
	"grand opening",
	"now open",
	"just launched",
	"newly opened",
	"new location",
	"this week",
	"opening today",
	"open today",
}

var growthMarkers = []string{
	"hiring",
	"expanding",
	"expansion",
	"new location",
	"grand opening",
	"funding",
	"raised",
	"acquired",
	"launch",
	"launched",
	"launching",
	"growing",
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "near": {}, "in": {}, "of": {},
	"at": {}, "on": {}, "to": {}, "a": {}, "an": {}, "or": {}, "by": {},
}

// HeuristicScore is the deterministic truth score used when no judge
// answers. It performs no I/O.
func HeuristicScore(query string, lead *model.EnrichedLead) (int, string) {
	text := leadText(lead)
	ws := words(text)

	overlap := termOverlap(query, text)
	completeness := completenessPoints(lead)
	score := overlap + completeness
	if verifiableSource(lead) {
		score += sourcePoints
	}
	stale := matchMarker(ws, staleMarkers)
	if stale != "" {
		score -= stalePenalty
	}
	fresh := matchMarker(ws, freshMarkers)
	if fresh != "" {
		score += freshBonus
	}
	score = model.ClampScore(score)

	verdict := verdictFor(score) + " (heuristic)"
	if stale != "" {
		verdict += fmt.Sprintf("; stale marker %q", stale)
	}
	return score, verdict
}

// HeuristicIntent is the deterministic intent estimate.
func HeuristicIntent(query string, lead *model.EnrichedLead) model.IntentPrediction {
	text := leadText(lead)
	ws := words(text)

	intent := 10
	switch lead.Status {
	case model.LeadVerified:
		intent = 50
	case model.LeadPartial:
		intent = 30
	case model.LeadIrrelevant:
		intent = 0
	}
	if v := lead.EmailVerification; v != nil && v.Status == model.EmailValid {
		intent += 10
	}
	intent += termOverlap(query, text) / 2

	var signals []string
	for _, m := range growthMarkers {
		if matchMarker(ws, []string{m}) != "" {
			signals = append(signals, m)
		}
	}
	growth := 20 * len(signals)
	if matchMarker(ws, freshMarkers) != "" {
		intent += freshBonus
	}
	if matchMarker(ws, staleMarkers) != "" {
		intent -= stalePenalty
		growth = 0
	}

	narrative := "no public growth signal"
	if len(signals) > 0 {
		narrative = "public signal: " + strings.Join(signals, ", ")
	}
	return model.IntentPrediction{
		IntentScore:           model.ClampScore(intent),
		PredictiveGrowthScore: model.ClampScore(growth),
		NarrativeSignal:       narrative,
		Confidence:            0.3,
	}
}

// HeuristicDraft assembles the summary from the lead's own fields.
func HeuristicDraft(query string, lead *model.EnrichedLead) model.Intel {
	name := lead.CompanyName()
	if name == "" {
		name = "This record"
	}
	why := fmt.Sprintf("%s surfaced for %q via %s.", name, query, lead.Candidate.Source)
	if lead.Status == model.LeadVerified {
		why += " A decision-maker was identified and cross-checked."
	}

	var points []string
	if lead.DecisionMakerName != "" {
		p := "Contact: " + lead.DecisionMakerName
		if lead.DecisionMakerTitle != "" {
			p += ", " + lead.DecisionMakerTitle
		}
		points = append(points, p)
	}
	if lead.Website != "" {
		points = append(points, "Website: "+lead.Website)
	}
	if s := matchMarker(words(leadText(lead)), growthMarkers); s != "" {
		points = append(points, "Public signal: "+s)
	}
	if n := len(lead.Socials); n > 0 {
		points = append(points, fmt.Sprintf("Active on %d social networks", n))
	}
	return model.Intel{WhyItMatters: why, TalkingPoints: points}
}

func verdictFor(score int) string {
	switch {
	case score >= 70:
		return "trusted"
	case score >= 40:
		return "plausible"
	default:
		return "weak"
	}
}

func leadText(lead *model.EnrichedLead) string {
	parts := []string{
		lead.Candidate.DisplayName,
		lead.Candidate.Snippet,
		lead.Candidate.Address,
		lead.Website,
		lead.DecisionMakerName,
		lead.DecisionMakerTitle,
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// termOverlap awards up to maxOverlapPoints for the share of query terms
// found in text.
func termOverlap(query, text string) int {
	terms := tokenize(query)
	if len(terms) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, t := range tokenize(text) {
		have[t] = struct{}{}
	}
	hits := 0
	for _, t := range terms {
		if _, ok := have[t]; ok {
			hits++
		}
	}
	return int(math.Round(float64(maxOverlapPoints) * float64(hits) / float64(len(terms))))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// completenessPoints splits maxCompletenessPoints across company name,
// person name and title.
func completenessPoints(lead *model.EnrichedLead) int {
	pts := 0
	if lead.CompanyName() != "" {
		pts += 15
	}
	if strings.TrimSpace(lead.DecisionMakerName) != "" {
		pts += 15
	}
	if strings.TrimSpace(lead.DecisionMakerTitle) != "" {
		pts += 10
	}
	return pts
}

func verifiableSource(lead *model.EnrichedLead) bool {
	if lead.Status == model.LeadVerified {
		return true
	}
	if lead.Candidate.ManualCheck {
		return false
	}
	u, err := url.Parse(lead.Candidate.SourceURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// words splits lowercased text into letter/digit runs, keeping order
// and repeats.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchMarker returns the first marker whose words appear consecutively
// in ws.
func matchMarker(ws []string, markers []string) string {
	for _, m := range markers {
		mw := words(m)
		if len(mw) == 0 {
			continue
		}
		for i := 0; i+len(mw) <= len(ws); i++ {
			if slices.Equal(ws[i:i+len(mw)], mw) {
				return m
			}
		}
	}
	return ""
}
