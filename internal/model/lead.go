package model

import "strings"

// LeadStatus is the enrichment state of a lead. Transitions only move
// forward: new -> PARTIAL -> VERIFIED, or new/PARTIAL -> IRRELEVANT.
type LeadStatus string

const (
	LeadNew        LeadStatus = "new"
	LeadPartial    LeadStatus = "PARTIAL"
	LeadVerified   LeadStatus = "VERIFIED"
	LeadIrrelevant LeadStatus = "IRRELEVANT"
)

// Terminal reports whether the status accepts no further transitions.
func (s LeadStatus) Terminal() bool {
	return s == LeadVerified || s == LeadIrrelevant
}

// EmailStatus is the verdict of the email verifier.
type EmailStatus string

const (
	EmailValid   EmailStatus = "valid"
	EmailInvalid EmailStatus = "invalid"
	EmailRisky   EmailStatus = "risky"
	EmailUnknown EmailStatus = "unknown"
)

// EmailVerification is the outcome of a staged email check.
type EmailVerification struct {
	Email  string      `json:"email"`
	Status EmailStatus `json:"status"`
	Risk   int         `json:"risk"`  // 0 (safe) .. 100 (certainly bad)
	Stage  string      `json:"stage"` // last stage reached
	Reason string      `json:"reason,omitempty"`
}

// EnrichedLead is a candidate augmented with contact data.
type EnrichedLead struct {
	Candidate Candidate `json:"candidate"`

	Website            string             `json:"website,omitempty"`
	Emails             []string           `json:"emails,omitempty"`
	Phones             []string           `json:"phones,omitempty"`
	Socials            map[string]string  `json:"socials,omitempty"`
	DecisionMakerName  string             `json:"decision_maker_name,omitempty"`
	DecisionMakerTitle string             `json:"decision_maker_title,omitempty"`
	DecisionMakerEmail string             `json:"decision_maker_email,omitempty"`
	EmailVerification  *EmailVerification `json:"email_verification,omitempty"`
	Status             LeadStatus         `json:"status"`
	Note               string             `json:"note,omitempty"`
}

// NewLead starts enrichment of a candidate. Provider-reported website and
// phone pre-fill the lead.
func NewLead(c Candidate) *EnrichedLead {
	l := &EnrichedLead{Candidate: c, Status: LeadNew}
	l.SetWebsite(c.Website)
	l.AddPhones(c.Phone)
	return l
}

// Advance moves the lead to the given status. It returns false and leaves
// the lead untouched when the move would regress or leave a terminal state.
func (l *EnrichedLead) Advance(to LeadStatus) bool {
	if l.Status == "" {
		l.Status = LeadNew
	}
	if l.Status == to {
		return true
	}
	if l.Status.Terminal() {
		return false
	}
	switch to {
	case LeadIrrelevant, LeadVerified:
	case LeadPartial:
		if l.Status != LeadNew {
			return false
		}
	default:
		return false
	}
	l.Status = to
	return true
}

// Reject marks the lead irrelevant with a reason.
func (l *EnrichedLead) Reject(reason string) bool {
	if !l.Advance(LeadIrrelevant) {
		return false
	}
	l.Note = reason
	return true
}

// SetDecisionMaker records the named contact. Irrelevant leads never
// gain a decision-maker.
func (l *EnrichedLead) SetDecisionMaker(name, title string) bool {
	if l.Status == LeadIrrelevant || strings.TrimSpace(name) == "" {
		return false
	}
	if l.DecisionMakerName == "" {
		l.DecisionMakerName = strings.TrimSpace(name)
		l.DecisionMakerTitle = strings.TrimSpace(title)
	}
	return true
}

// SetWebsite sets the website unless one is already present.
func (l *EnrichedLead) SetWebsite(website string) {
	website = strings.TrimSpace(website)
	if l.Status == LeadIrrelevant || website == "" || l.Website != "" {
		return
	}
	l.Website = website
}

// AddEmails merges emails case-insensitively without reordering existing ones.
func (l *EnrichedLead) AddEmails(emails ...string) {
	if l.Status == LeadIrrelevant {
		return
	}
	l.Emails = mergeUnique(l.Emails, emails, func(s string) string { return strings.ToLower(s) })
}

// AddPhones merges phone numbers, comparing digits only.
func (l *EnrichedLead) AddPhones(phones ...string) {
	if l.Status == LeadIrrelevant {
		return
	}
	l.Phones = mergeUnique(l.Phones, phones, digitsOnly)
}

// SetSocial records a social profile unless the network already has one.
func (l *EnrichedLead) SetSocial(network, profileURL string) {
	if l.Status == LeadIrrelevant || network == "" || profileURL == "" {
		return
	}
	if l.Socials == nil {
		l.Socials = make(map[string]string)
	}
	if _, ok := l.Socials[network]; !ok {
		l.Socials[network] = profileURL
	}
}

// HasContactData reports whether any contact field has been mined.
func (l *EnrichedLead) HasContactData() bool {
	return len(l.Emails) > 0 || len(l.Phones) > 0 || len(l.Socials) > 0
}

// CompanyName returns the best-known company name.
func (l *EnrichedLead) CompanyName() string {
	return strings.TrimSpace(l.Candidate.DisplayName)
}

func mergeUnique(existing, incoming []string, key func(string) string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, v := range existing {
		seen[key(v)] = struct{}{}
	}
	for _, v := range incoming {
		v = strings.TrimSpace(v)
		k := key(v)
		if v == "" || k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
