package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/db"
	"github.com/sells-group/hydra/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the store shared by
// a fleet of workers.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(10), int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS missions (
	id              TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	platform        TEXT NOT NULL DEFAULT '',
	compliance_mode TEXT NOT NULL DEFAULT 'standard',
	org_id          TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'queued',
	claimed_by      TEXT,
	claimed_at      TIMESTAMPTZ,
	result_count    INTEGER NOT NULL DEFAULT 0,
	heal_count      INTEGER NOT NULL DEFAULT 0,
	note            TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS mission_results (
	id            TEXT PRIMARY KEY,
	mission_id    TEXT NOT NULL REFERENCES missions(id),
	identity_hash TEXT NOT NULL DEFAULT '',
	truth_score   INTEGER NOT NULL,
	intent_score  INTEGER NOT NULL,
	verdict       TEXT NOT NULL DEFAULT '',
	suppressed    BOOLEAN NOT NULL DEFAULT false,
	record        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provenance (
	id          TEXT PRIMARY KEY,
	mission_id  TEXT NOT NULL REFERENCES missions(id),
	result_id   TEXT NOT NULL REFERENCES mission_results(id),
	source_url  TEXT NOT NULL,
	legal_basis TEXT NOT NULL,
	verdict     TEXT NOT NULL DEFAULT '',
	captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deliveries (
	org_id        TEXT NOT NULL,
	identity_hash TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	delivered_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS worker_liveness (
	worker_id  TEXT PRIMARY KEY,
	hostname   TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_missions_queued ON missions(created_at) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS idx_missions_running ON missions(claimed_by) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_mission_results_mission ON mission_results(mission_id);
CREATE INDEX IF NOT EXISTS idx_provenance_mission ON provenance(mission_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_scope ON deliveries(org_id, category, identity_hash);
CREATE INDEX IF NOT EXISTS idx_worker_liveness_last_seen ON worker_liveness(last_seen);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateMission(ctx context.Context, m model.Mission) (*model.Mission, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m = newMissionDefaults(m, time.Now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO missions (id, query, platform, compliance_mode, org_id, category, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Query, m.Platform, string(m.ComplianceMode), m.OrgID, m.Category,
		string(m.Status), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert mission")
	}
	return &m, nil
}

func (s *PostgresStore) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	m, err := scanMissionPG(s.pool.QueryRow(ctx,
		`SELECT `+missionColumnsPG+` FROM missions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get mission %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get mission %s", id)
	}
	return m, nil
}

// ClaimMission uses FOR UPDATE SKIP LOCKED so concurrent claimers never
// block on, or receive, the same row.
func (s *PostgresStore) ClaimMission(ctx context.Context, workerID string) (*model.Mission, error) {
	now := time.Now().UTC()
	m, err := scanMissionPG(s.pool.QueryRow(ctx,
		`UPDATE missions SET status = 'running', claimed_by = $1, claimed_at = $2, updated_at = $2
		 WHERE id = (
			SELECT id FROM missions WHERE status = 'queued'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		 )
		 RETURNING `+missionColumnsPG,
		workerID, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim mission")
	}
	return m, nil
}

func (s *PostgresStore) CompleteMission(ctx context.Context, id, workerID string, resultCount int) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = 'completed', result_count = $1, completed_at = $2, updated_at = $2
		 WHERE id = $3 AND status = 'running' AND claimed_by = $4`,
		resultCount, now, id, workerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete mission %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "postgres: complete mission %s", id)
	}
	return nil
}

func (s *PostgresStore) FailMission(ctx context.Context, id, claimedBy, note string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = 'failed', note = $1, completed_at = $2, updated_at = $2
		 WHERE id = $3 AND status = 'running' AND claimed_by = $4`,
		note, now, id, claimedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail mission %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "postgres: fail mission %s", id)
	}
	return nil
}

func (s *PostgresStore) ListStaleMissions(ctx context.Context, liveSince, claimedBefore time.Time) ([]model.Mission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+missionColumnsPG+` FROM missions m
		 WHERE m.status = 'running'
		   AND (m.claimed_at < $2 OR NOT EXISTS (
			SELECT 1 FROM worker_liveness w WHERE w.worker_id = m.claimed_by AND w.last_seen >= $1
		   ))
		 ORDER BY m.claimed_at`,
		liveSince, claimedBefore,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale missions")
	}
	defer rows.Close()

	var out []model.Mission
	for rows.Next() {
		m, err := scanMissionPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale mission")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stale missions")
}

func (s *PostgresStore) RequeueMission(ctx context.Context, id, claimedBy, note string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = 'queued', claimed_by = NULL, claimed_at = NULL,
			heal_count = heal_count + 1, note = $1, updated_at = $2
		 WHERE id = $3 AND status = 'running' AND claimed_by = $4`,
		note, time.Now().UTC(), id, claimedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: requeue mission %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "postgres: requeue mission %s", id)
	}
	return nil
}

var (
	resultCopyColumns     = []string{"id", "mission_id", "identity_hash", "truth_score", "intent_score", "verdict", "suppressed", "record", "created_at"}
	provenanceCopyColumns = []string{"id", "mission_id", "result_id", "source_url", "legal_basis", "verdict", "captured_at"}
)

// SaveResults writes records and provenance in one transaction.
func (s *PostgresStore) SaveResults(ctx context.Context, missionID string, records []model.ScoredRecord, prov []model.Provenance) error {
	if len(records) == 0 && len(prov) == 0 {
		return nil
	}
	resultRows, err := resultRows(missionID, records)
	if err != nil {
		return eris.Wrap(err, "postgres: save results")
	}
	provRows := provenanceRows(missionID, prov)

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := db.CopyFrom(ctx, tx, "mission_results", resultCopyColumns, resultRows); err != nil {
			return eris.Wrap(err, "postgres: save results")
		}
		if _, err := db.CopyFrom(ctx, tx, "provenance", provenanceCopyColumns, provRows); err != nil {
			return eris.Wrap(err, "postgres: save provenance")
		}
		return nil
	})
}

func (s *PostgresStore) ListResults(ctx context.Context, missionID string) ([]model.ScoredRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM mission_results WHERE mission_id = $1 ORDER BY created_at, id`, missionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.ScoredRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var rec model.ScoredRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func (s *PostgresStore) IsDelivered(ctx context.Context, orgID, identityHash, category string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM deliveries WHERE org_id = $1 AND identity_hash = $2 AND category = $3)`,
		orgID, identityHash, category,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: check delivery")
	}
	return exists, nil
}

func (s *PostgresStore) RecordDeliveries(ctx context.Context, recs []model.DeliveryRecord) error {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{r.OrgID, r.IdentityHash, r.Category, r.DeliveredAt})
	}
	_, err := db.CopyFrom(ctx, s.pool, "deliveries", []string{"org_id", "identity_hash", "category", "delivered_at"}, rows)
	return eris.Wrap(err, "postgres: record deliveries")
}

func (s *PostgresStore) Heartbeat(ctx context.Context, w model.WorkerLiveness) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO worker_liveness (worker_id, hostname, started_at, last_seen) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (worker_id) DO UPDATE SET last_seen = EXCLUDED.last_seen, hostname = EXCLUDED.hostname`,
		w.WorkerID, w.Hostname, w.StartedAt, w.LastSeen,
	)
	return eris.Wrapf(err, "postgres: heartbeat %s", w.WorkerID)
}

func (s *PostgresStore) RemoveWorker(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM worker_liveness WHERE worker_id = $1`, workerID)
	return eris.Wrapf(err, "postgres: remove worker %s", workerID)
}

func (s *PostgresStore) ListWorkers(ctx context.Context) ([]model.WorkerLiveness, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT worker_id, hostname, started_at, last_seen FROM worker_liveness ORDER BY worker_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workers")
	}
	defer rows.Close()

	var out []model.WorkerLiveness
	for rows.Next() {
		var w model.WorkerLiveness
		if err := rows.Scan(&w.WorkerID, &w.Hostname, &w.StartedAt, &w.LastSeen); err != nil {
			return nil, eris.Wrap(err, "postgres: scan worker")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate workers")
}

func (s *PostgresStore) EvictStaleWorkers(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM worker_liveness WHERE last_seen < $1`, before)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: evict stale workers")
	}
	return int(tag.RowsAffected()), nil
}

const missionColumnsPG = `id, query, platform, compliance_mode, org_id, category, status,
	COALESCE(claimed_by, ''), claimed_at, result_count, heal_count, COALESCE(note, ''),
	created_at, updated_at, completed_at`

func scanMissionPG(row pgx.Row) (*model.Mission, error) {
	var (
		m          model.Mission
		compliance string
		status     string
	)
	err := row.Scan(&m.ID, &m.Query, &m.Platform, &compliance, &m.OrgID, &m.Category, &status,
		&m.ClaimedBy, &m.ClaimedAt, &m.ResultCount, &m.HealCount, &m.Note,
		&m.CreatedAt, &m.UpdatedAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	m.ComplianceMode = model.ComplianceMode(compliance)
	m.Status = model.MissionStatus(status)
	return &m, nil
}

func resultRows(missionID string, records []model.ScoredRecord) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrapf(err, "marshal record %s", r.ID)
		}
		rows = append(rows, []any{r.ID, missionID, r.IdentityHash, r.TruthScore, r.IntentScore,
			r.Verdict, r.Suppressed, raw, r.CreatedAt})
	}
	return rows, nil
}

func provenanceRows(missionID string, prov []model.Provenance) [][]any {
	rows := make([][]any, 0, len(prov))
	for _, p := range prov {
		rows = append(rows, []any{p.ID, missionID, p.ResultID, p.SourceURL, p.LegalBasis, p.Verdict, p.CapturedAt})
	}
	return rows
}
