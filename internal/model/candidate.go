package model

import (
	"net/url"
	"strings"
)

// Candidate is an unverified raw search hit produced by a search layer.
type Candidate struct {
	DisplayName string `json:"display_name"`
	SourceURL   string `json:"source_url"`
	Snippet     string `json:"snippet,omitempty"`
	Source      string `json:"source"` // provider or engine name
	Rank        int    `json:"rank,omitempty"`

	// Optional fields reported directly by business-listing providers.
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`

	// ManualCheck marks the synthetic candidate emitted when every search
	// layer came back empty.
	ManualCheck bool `json:"manual_check,omitempty"`
}

// Key returns the canonical URL used to deduplicate candidates.
func (c Candidate) Key() string {
	return CanonicalURL(c.SourceURL)
}

// CanonicalURL lowercases scheme and host, drops the fragment and any
// trailing slash. Unparseable input is returned trimmed and lowercased.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// CandidateSet is an insertion-ordered set of candidates keyed by
// canonical source URL. The first occurrence of a URL wins.
type CandidateSet struct {
	seen  map[string]struct{}
	items []Candidate
}

// NewCandidateSet creates a set seeded with the given candidates.
func NewCandidateSet(seed ...Candidate) *CandidateSet {
	s := &CandidateSet{seen: make(map[string]struct{})}
	s.AddAll(seed)
	return s
}

// Add inserts c unless its URL is empty or already present.
func (s *CandidateSet) Add(c Candidate) bool {
	key := c.Key()
	if key == "" {
		return false
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, c)
	return true
}

// AddAll inserts each candidate in order and returns how many were new.
func (s *CandidateSet) AddAll(cs []Candidate) int {
	added := 0
	for _, c := range cs {
		if s.Add(c) {
			added++
		}
	}
	return added
}

// Len returns the number of unique candidates.
func (s *CandidateSet) Len() int { return len(s.items) }

// Items returns the candidates in insertion order.
func (s *CandidateSet) Items() []Candidate {
	out := make([]Candidate, len(s.items))
	copy(out, s.items)
	return out
}
