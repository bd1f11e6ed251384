// Package store persists missions, results, provenance, deliveries and
// worker liveness.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/model"
)

// ErrClaimLost is returned when a mission update is conditioned on a
// claim the caller no longer holds.
var ErrClaimLost = eris.New("store: mission claim lost")

// ErrNotFound is returned when a mission does not exist.
var ErrNotFound = eris.New("store: not found")

// MissionStore is the job queue contract.
type MissionStore interface {
	CreateMission(ctx context.Context, m model.Mission) (*model.Mission, error)
	GetMission(ctx context.Context, id string) (*model.Mission, error)

	// ClaimMission atomically moves the oldest queued mission to running
	// for workerID. It returns (nil, nil) when nothing is claimable,
	// including when a concurrent worker won the race.
	ClaimMission(ctx context.Context, workerID string) (*model.Mission, error)

	// CompleteMission marks a running mission held by workerID completed.
	CompleteMission(ctx context.Context, id, workerID string, resultCount int) error

	// FailMission marks a running mission held by claimedBy failed.
	FailMission(ctx context.Context, id, claimedBy, note string) error

	// ListStaleMissions lists running missions whose claimant has not
	// been seen since liveSince, or that were claimed before claimedBefore.
	ListStaleMissions(ctx context.Context, liveSince, claimedBefore time.Time) ([]model.Mission, error)

	// RequeueMission resets a running mission still held by claimedBy to
	// queued, clearing claim fields and bumping heal_count.
	RequeueMission(ctx context.Context, id, claimedBy, note string) error
}

// ResultStore persists scored records with their provenance.
type ResultStore interface {
	SaveResults(ctx context.Context, missionID string, records []model.ScoredRecord, prov []model.Provenance) error
	ListResults(ctx context.Context, missionID string) ([]model.ScoredRecord, error)
}

// DeliveryStore is the append-only delivery ledger.
type DeliveryStore interface {
	IsDelivered(ctx context.Context, orgID, identityHash, category string) (bool, error)
	RecordDeliveries(ctx context.Context, recs []model.DeliveryRecord) error
}

// LivenessStore tracks worker heartbeats.
type LivenessStore interface {
	Heartbeat(ctx context.Context, w model.WorkerLiveness) error
	RemoveWorker(ctx context.Context, workerID string) error
	ListWorkers(ctx context.Context) ([]model.WorkerLiveness, error)
	EvictStaleWorkers(ctx context.Context, before time.Time) (int, error)
}

// Store is the full persistence interface used by the worker.
type Store interface {
	MissionStore
	ResultStore
	DeliveryStore
	LivenessStore

	Migrate(ctx context.Context) error
	Close() error
}

const missionColumns = `id, query, platform, compliance_mode, org_id, category, status,
	claimed_by, claimed_at, result_count, heal_count, note, created_at, updated_at, completed_at`

func newMissionDefaults(m model.Mission, now time.Time) model.Mission {
	if m.ComplianceMode == "" {
		m.ComplianceMode = model.ComplianceStandard
	}
	m.Status = model.MissionQueued
	m.ClaimedBy = ""
	m.ClaimedAt = nil
	m.CompletedAt = nil
	m.ResultCount = 0
	m.HealCount = 0
	m.CreatedAt = now
	m.UpdatedAt = now
	return m
}
