package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/hydra/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It suits a
// single host running one or more workers against a local file.
// Timestamps are stored as unix nanoseconds so range comparisons are
// plain integer comparisons.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Pragmas go through the DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

var sqlitePragmas = []string{
	"busy_timeout(10000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		dsn += sep + "_pragma=" + p
		sep = "&"
	}
	return dsn
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS missions (
	id              TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	platform        TEXT NOT NULL DEFAULT '',
	compliance_mode TEXT NOT NULL DEFAULT 'standard',
	org_id          TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'queued',
	claimed_by      TEXT,
	claimed_at      INTEGER,
	result_count    INTEGER NOT NULL DEFAULT 0,
	heal_count      INTEGER NOT NULL DEFAULT 0,
	note            TEXT,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	completed_at    INTEGER
);

CREATE TABLE IF NOT EXISTS mission_results (
	id            TEXT PRIMARY KEY,
	mission_id    TEXT NOT NULL REFERENCES missions(id),
	identity_hash TEXT NOT NULL DEFAULT '',
	truth_score   INTEGER NOT NULL,
	intent_score  INTEGER NOT NULL,
	verdict       TEXT NOT NULL DEFAULT '',
	suppressed    INTEGER NOT NULL DEFAULT 0,
	record        TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance (
	id          TEXT PRIMARY KEY,
	mission_id  TEXT NOT NULL REFERENCES missions(id),
	result_id   TEXT NOT NULL REFERENCES mission_results(id),
	source_url  TEXT NOT NULL,
	legal_basis TEXT NOT NULL,
	verdict     TEXT NOT NULL DEFAULT '',
	captured_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
	org_id        TEXT NOT NULL,
	identity_hash TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	delivered_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS worker_liveness (
	worker_id  TEXT PRIMARY KEY,
	hostname   TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	last_seen  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status, created_at);
CREATE INDEX IF NOT EXISTS idx_mission_results_mission ON mission_results(mission_id);
CREATE INDEX IF NOT EXISTS idx_provenance_mission ON provenance(mission_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_scope ON deliveries(org_id, category, identity_hash);
CREATE INDEX IF NOT EXISTS idx_worker_liveness_last_seen ON worker_liveness(last_seen);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateMission(ctx context.Context, m model.Mission) (*model.Mission, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m = newMissionDefaults(m, time.Now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missions (id, query, platform, compliance_mode, org_id, category, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Query, m.Platform, string(m.ComplianceMode), m.OrgID, m.Category,
		string(m.Status), m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert mission")
	}
	return &m, nil
}

func (s *SQLiteStore) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	m, err := scanMissionSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get mission %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get mission %s", id)
	}
	return m, nil
}

// ClaimMission relies on SQLite executing a single UPDATE under the
// database write lock: the subquery and the status guard are evaluated
// atomically, so only one connection can flip a given row.
func (s *SQLiteStore) ClaimMission(ctx context.Context, workerID string) (*model.Mission, error) {
	now := time.Now().UTC().UnixNano()
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE missions SET status = 'running', claimed_by = ?, claimed_at = ?, updated_at = ?
		 WHERE id = (SELECT id FROM missions WHERE status = 'queued' ORDER BY created_at, id LIMIT 1)
		   AND status = 'queued'
		 RETURNING id`,
		workerID, now, now,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: claim mission")
	}
	return s.GetMission(ctx, id)
}

func (s *SQLiteStore) CompleteMission(ctx context.Context, id, workerID string, resultCount int) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = 'completed', result_count = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		resultCount, now, now, id, workerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete mission %s", id)
	}
	return checkClaimHeld(res, "complete", id)
}

func (s *SQLiteStore) FailMission(ctx context.Context, id, claimedBy, note string) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = 'failed', note = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		note, now, now, id, claimedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail mission %s", id)
	}
	return checkClaimHeld(res, "fail", id)
}

func (s *SQLiteStore) ListStaleMissions(ctx context.Context, liveSince, claimedBefore time.Time) ([]model.Mission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+missionColumns+` FROM missions m
		 WHERE m.status = 'running'
		   AND (m.claimed_at < ? OR NOT EXISTS (
			SELECT 1 FROM worker_liveness w WHERE w.worker_id = m.claimed_by AND w.last_seen >= ?
		   ))
		 ORDER BY m.claimed_at`,
		claimedBefore.UTC().UnixNano(), liveSince.UTC().UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale missions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Mission
	for rows.Next() {
		m, err := scanMissionSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale mission")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stale missions")
}

func (s *SQLiteStore) RequeueMission(ctx context.Context, id, claimedBy, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = 'queued', claimed_by = NULL, claimed_at = NULL,
			heal_count = heal_count + 1, note = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		note, time.Now().UTC().UnixNano(), id, claimedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue mission %s", id)
	}
	return checkClaimHeld(res, "requeue", id)
}

func (s *SQLiteStore) SaveResults(ctx context.Context, missionID string, records []model.ScoredRecord, prov []model.Provenance) error {
	if len(records) == 0 && len(prov) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s", r.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mission_results (id, mission_id, identity_hash, truth_score, intent_score, verdict, suppressed, record, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, missionID, r.IdentityHash, r.TruthScore, r.IntentScore, r.Verdict,
			r.Suppressed, string(raw), r.CreatedAt.UTC().UnixNano(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.ID)
		}
	}
	for _, p := range prov {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provenance (id, mission_id, result_id, source_url, legal_basis, verdict, captured_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, missionID, p.ResultID, p.SourceURL, p.LegalBasis, p.Verdict, p.CapturedAt.UTC().UnixNano(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert provenance %s", p.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save results")
}

func (s *SQLiteStore) ListResults(ctx context.Context, missionID string) ([]model.ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM mission_results WHERE mission_id = ? ORDER BY created_at, id`, missionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScoredRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var rec model.ScoredRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

// ListProvenance returns the provenance entries written for a mission.
func (s *SQLiteStore) ListProvenance(ctx context.Context, missionID string) ([]model.Provenance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, result_id, source_url, legal_basis, verdict, captured_at
		 FROM provenance WHERE mission_id = ? ORDER BY captured_at, id`, missionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provenance")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Provenance
	for rows.Next() {
		var p model.Provenance
		var captured int64
		if err := rows.Scan(&p.ID, &p.MissionID, &p.ResultID, &p.SourceURL, &p.LegalBasis, &p.Verdict, &captured); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		p.CapturedAt = fromUnix(captured)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate provenance")
}

func (s *SQLiteStore) IsDelivered(ctx context.Context, orgID, identityHash, category string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM deliveries WHERE org_id = ? AND identity_hash = ? AND category = ?`,
		orgID, identityHash, category,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check delivery")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordDeliveries(ctx context.Context, recs []model.DeliveryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record deliveries")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range recs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (org_id, identity_hash, category, delivered_at) VALUES (?, ?, ?, ?)`,
			r.OrgID, r.IdentityHash, r.Category, r.DeliveredAt.UTC().UnixNano(),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert delivery")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit deliveries")
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, w model.WorkerLiveness) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worker_liveness (worker_id, hostname, started_at, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT (worker_id) DO UPDATE SET last_seen = excluded.last_seen, hostname = excluded.hostname`,
		w.WorkerID, w.Hostname, w.StartedAt.UTC().UnixNano(), w.LastSeen.UTC().UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: heartbeat %s", w.WorkerID)
}

func (s *SQLiteStore) RemoveWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM worker_liveness WHERE worker_id = ?`, workerID)
	return eris.Wrapf(err, "sqlite: remove worker %s", workerID)
}

func (s *SQLiteStore) ListWorkers(ctx context.Context) ([]model.WorkerLiveness, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id, hostname, started_at, last_seen FROM worker_liveness ORDER BY worker_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WorkerLiveness
	for rows.Next() {
		var (
			w             model.WorkerLiveness
			started, seen int64
		)
		if err := rows.Scan(&w.WorkerID, &w.Hostname, &started, &seen); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan worker")
		}
		w.StartedAt, w.LastSeen = fromUnix(started), fromUnix(seen)
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate workers")
}

func (s *SQLiteStore) EvictStaleWorkers(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_liveness WHERE last_seen < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: evict stale workers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func checkClaimHeld(res sql.Result, action, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrClaimLost, "sqlite: %s mission %s", action, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMissionSQLite(row scannable) (*model.Mission, error) {
	var (
		m                      model.Mission
		compliance, status     string
		claimedBy, note        sql.NullString
		claimedAt, completedAt sql.NullInt64
		createdAt, updatedAt   int64
	)
	err := row.Scan(&m.ID, &m.Query, &m.Platform, &compliance, &m.OrgID, &m.Category, &status,
		&claimedBy, &claimedAt, &m.ResultCount, &m.HealCount, &note,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	m.ComplianceMode = model.ComplianceMode(compliance)
	m.Status = model.MissionStatus(status)
	m.ClaimedBy = claimedBy.String
	m.Note = note.String
	m.CreatedAt = fromUnix(createdAt)
	m.UpdatedAt = fromUnix(updatedAt)
	if claimedAt.Valid {
		t := fromUnix(claimedAt.Int64)
		m.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := fromUnix(completedAt.Int64)
		m.CompletedAt = &t
	}
	return &m, nil
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
