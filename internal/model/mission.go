package model

import "time"

// MissionStatus represents the lifecycle state of a research mission.
type MissionStatus string

const (
	MissionQueued    MissionStatus = "queued"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

// ComplianceMode selects the legal basis recorded in provenance.
type ComplianceMode string

const (
	ComplianceStandard ComplianceMode = "standard"
	ComplianceGDPR     ComplianceMode = "gdpr"
	ComplianceCCPA     ComplianceMode = "ccpa"
)

// LegalBasis returns the provenance legal basis for the compliance mode.
func (m ComplianceMode) LegalBasis() string {
	switch m {
	case ComplianceGDPR:
		return "legitimate_interest (GDPR Art. 6(1)(f))"
	case ComplianceCCPA:
		return "business_contact_exemption (CCPA)"
	default:
		return "publicly_available_business_information"
	}
}

// Mission is one unit of requested research work: a query plus the
// platform it targets. Missions are created by the external API and
// claimed by exactly one worker at a time.
type Mission struct {
	ID             string         `json:"id"`
	Query          string         `json:"query"`
	Platform       string         `json:"platform,omitempty"`
	ComplianceMode ComplianceMode `json:"compliance_mode"`
	OrgID          string         `json:"org_id,omitempty"`
	Category       string         `json:"category,omitempty"`
	Status         MissionStatus  `json:"status"`
	ClaimedBy      string         `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	ResultCount    int            `json:"result_count"`
	HealCount      int            `json:"heal_count"`
	Note           string         `json:"note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// WorkerLiveness is the heartbeat record a worker refreshes while alive.
type WorkerLiveness struct {
	WorkerID  string    `json:"worker_id"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
}
