package model

import "time"

// IntentPrediction estimates how ready a record is to act on.
type IntentPrediction struct {
	IntentScore           int     `json:"intent_score"`
	PredictiveGrowthScore int     `json:"predictive_growth_score"`
	NarrativeSignal       string  `json:"narrative_signal"`
	Confidence            float64 `json:"confidence"`
}

// Intel is the drafted "why this record matters" summary.
type Intel struct {
	WhyItMatters  string   `json:"why_it_matters"`
	TalkingPoints []string `json:"talking_points,omitempty"`
}

// ScoredRecord is the final result persisted against a mission.
type ScoredRecord struct {
	ID           string           `json:"id"`
	MissionID    string           `json:"mission_id"`
	Lead         EnrichedLead     `json:"lead"`
	TruthScore   int              `json:"truth_score"`
	Verdict      string           `json:"verdict"`
	IntentScore  int              `json:"intent_score"`
	Intent       IntentPrediction `json:"intent"`
	Intel        Intel            `json:"intel"`
	IdentityHash string           `json:"identity_hash"`
	Suppressed   bool             `json:"suppressed"` // already delivered to this org/category
	CreatedAt    time.Time        `json:"created_at"`
}

// Clamp bounds both scores to [0,100].
func (r *ScoredRecord) Clamp() {
	r.TruthScore = ClampScore(r.TruthScore)
	r.IntentScore = ClampScore(r.IntentScore)
	r.Intent.IntentScore = ClampScore(r.Intent.IntentScore)
	r.Intent.PredictiveGrowthScore = ClampScore(r.Intent.PredictiveGrowthScore)
}

// ClampScore bounds a score to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Provenance records where a persisted record came from and why it may
// be processed.
type Provenance struct {
	ID         string    `json:"id"`
	MissionID  string    `json:"mission_id"`
	ResultID   string    `json:"result_id"`
	SourceURL  string    `json:"source_url"`
	LegalBasis string    `json:"legal_basis"`
	Verdict    string    `json:"verdict"`
	CapturedAt time.Time `json:"captured_at"`
}

// ProviderQuota is the usage window for a single search provider.
type ProviderQuota struct {
	Provider     string        `json:"provider"`
	WindowStart  time.Time     `json:"window_start"`
	WindowLength time.Duration `json:"window_length"`
	Used         int           `json:"used"`
	Limit        int           `json:"limit"` // <= 0 means unlimited
}

// Exhausted reports whether the window has no calls left.
func (q ProviderQuota) Exhausted() bool {
	return q.Limit > 0 && q.Used >= q.Limit
}

// DeliveryRecord marks an entity as delivered to an org within a category.
type DeliveryRecord struct {
	OrgID        string    `json:"org_id"`
	IdentityHash string    `json:"company_identity_hash"`
	Category     string    `json:"category"`
	DeliveredAt  time.Time `json:"delivered_at"`
}
