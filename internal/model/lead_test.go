package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrichedLead_IrrelevantNeverGainsDecisionMaker(t *testing.T) {
	l := NewLead(Candidate{DisplayName: "Acme Staffing", SourceURL: "https://acme.com"})
	assert.True(t, l.Reject("negative keyword: staffing"))

	assert.False(t, l.SetDecisionMaker("Jane Doe", "CEO"))
	assert.Empty(t, l.DecisionMakerName)
	assert.False(t, l.Advance(LeadVerified))
	assert.False(t, l.Advance(LeadNew))
	assert.Equal(t, LeadIrrelevant, l.Status)

	l.AddEmails("jane@acme.com")
	assert.Empty(t, l.Emails)
}

func TestEnrichedLead_Advance(t *testing.T) {
	tests := []struct {
		name string
		from LeadStatus
		to   LeadStatus
		ok   bool
		want LeadStatus
	}{
		{"new to partial", LeadNew, LeadPartial, true, LeadPartial},
		{"new to verified", LeadNew, LeadVerified, true, LeadVerified},
		{"partial to verified", LeadPartial, LeadVerified, true, LeadVerified},
		{"partial to irrelevant", LeadPartial, LeadIrrelevant, true, LeadIrrelevant},
		{"verified to partial", LeadVerified, LeadPartial, false, LeadVerified},
		{"verified to new", LeadVerified, LeadNew, false, LeadVerified},
		{"irrelevant to partial", LeadIrrelevant, LeadPartial, false, LeadIrrelevant},
		{"partial to new", LeadPartial, LeadNew, false, LeadPartial},
		{"same status", LeadPartial, LeadPartial, true, LeadPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &EnrichedLead{Status: tt.from}
			assert.Equal(t, tt.ok, l.Advance(tt.to))
			assert.Equal(t, tt.want, l.Status)
		})
	}
}

func TestEnrichedLead_MergeDoesNotOverwrite(t *testing.T) {
	l := NewLead(Candidate{
		DisplayName: "Acme",
		Website:     "https://acme.com",
		Phone:       "(512) 555-0100",
	})

	l.SetWebsite("https://other.com")
	l.AddPhones("512-555-0100", "+1 512 555 0199")
	l.AddEmails("Info@Acme.com", "info@acme.com", "sales@acme.com")
	l.SetSocial("linkedin", "https://linkedin.com/company/acme")
	l.SetSocial("linkedin", "https://linkedin.com/company/other")

	assert.Equal(t, "https://acme.com", l.Website)
	assert.Equal(t, []string{"(512) 555-0100", "+1 512 555 0199"}, l.Phones)
	assert.Equal(t, []string{"Info@Acme.com", "sales@acme.com"}, l.Emails)
	assert.Equal(t, "https://linkedin.com/company/acme", l.Socials["linkedin"])
	assert.True(t, l.HasContactData())
}

func TestEnrichedLead_SetDecisionMakerKeepsFirst(t *testing.T) {
	l := NewLead(Candidate{DisplayName: "Acme"})
	assert.True(t, l.SetDecisionMaker("Jane Doe", "CEO"))
	assert.True(t, l.SetDecisionMaker("John Roe", "Founder"))
	assert.Equal(t, "Jane Doe", l.DecisionMakerName)
	assert.Equal(t, "CEO", l.DecisionMakerTitle)
	assert.False(t, l.SetDecisionMaker("  ", "CTO"))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-30))
	assert.Equal(t, 55, ClampScore(55))
	assert.Equal(t, 100, ClampScore(135))

	r := ScoredRecord{TruthScore: 140, IntentScore: -5, Intent: IntentPrediction{IntentScore: 101, PredictiveGrowthScore: -1}}
	r.Clamp()
	assert.Equal(t, 100, r.TruthScore)
	assert.Equal(t, 0, r.IntentScore)
	assert.Equal(t, 100, r.Intent.IntentScore)
	assert.Equal(t, 0, r.Intent.PredictiveGrowthScore)
}

func TestComplianceMode_LegalBasis(t *testing.T) {
	assert.Contains(t, ComplianceGDPR.LegalBasis(), "GDPR")
	assert.Contains(t, ComplianceCCPA.LegalBasis(), "CCPA")
	assert.Equal(t, "publicly_available_business_information", ComplianceMode("").LegalBasis())
}
