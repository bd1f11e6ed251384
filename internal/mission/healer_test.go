package mission

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/monitoring"
	"github.com/sells-group/hydra/internal/store"
)

func staleMission(id string, heals int) model.Mission {
	claimed := time.Now().Add(-time.Minute).UTC()
	return model.Mission{
		ID:        id,
		Query:     "plumbers in austin",
		Status:    model.MissionRunning,
		ClaimedBy: "worker-dead",
		ClaimedAt: &claimed,
		HealCount: heals,
	}
}

func TestHeal_RequeuesStaleMissions(t *testing.T) {
	st := newFakeStore()
	st.stale = []model.Mission{staleMission("m-1", 0), staleMission("m-2", 4)}
	st.evicted = 1
	counters := monitoring.NewCounters()
	h := NewHealer(st, HealConfig{MaxHeals: 5}, WithHealCounters(counters))

	rep, err := h.Heal(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HealReport{Requeued: 2, Evicted: 1}, rep)
	assert.Equal(t, "healed: worker worker-dead stopped heartbeating", st.requeued["m-1"])
	assert.Contains(t, st.requeued, "m-2")
	assert.Empty(t, st.failed)
	assert.Equal(t, int64(2), counters.Get(monitoring.MissionsRequeued))
	assert.Equal(t, int64(1), counters.Get(monitoring.WorkersEvicted))
}

func TestHeal_FailsAfterMaxHeals(t *testing.T) {
	st := newFakeStore()
	st.stale = []model.Mission{staleMission("m-1", 3)}
	esc := &recordingEscalator{}
	counters := monitoring.NewCounters()
	h := NewHealer(st, HealConfig{MaxHeals: 3}, WithEscalator(esc), WithHealCounters(counters))

	rep, err := h.Heal(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Requeued)
	want := "manual review required: healed 3 times; last: worker worker-dead stopped heartbeating"
	assert.Equal(t, want, st.failed["m-1"])
	assert.Equal(t, want, esc.notes["m-1"])
	assert.Empty(t, st.requeued)
	assert.Equal(t, int64(1), counters.Get(monitoring.MissionsEscalated))
}

func TestHeal_SkipsLostClaims(t *testing.T) {
	st := newFakeStore()
	st.stale = []model.Mission{staleMission("m-1", 0)}
	st.requeueErr = eris.Wrap(store.ErrClaimLost, "fake: requeue")
	h := NewHealer(st, HealConfig{})

	rep, err := h.Heal(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Requeued)
}

func TestHeal_ReportsStoreErrors(t *testing.T) {
	st := newFakeStore()
	st.stale = []model.Mission{staleMission("m-1", 0)}
	st.requeueErr = eris.New("connection reset")
	h := NewHealer(st, HealConfig{})

	rep, err := h.Heal(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Zero(t, rep.Requeued)
}

func TestHeal_TimeoutReason(t *testing.T) {
	st := newFakeStore()
	m := staleMission("m-1", 0)
	long := time.Now().Add(-2 * time.Hour).UTC()
	m.ClaimedAt = &long
	st.stale = []model.Mission{m}
	h := NewHealer(st, HealConfig{MissionTimeout: 30 * time.Minute})

	_, err := h.Heal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healed: worker worker-dead held the mission longer than 30m0s", st.requeued["m-1"])
}

func TestHealer_RunStopsOnCancel(t *testing.T) {
	st := newFakeStore()
	st.stale = []model.Mission{staleMission("m-1", 0)}
	h := NewHealer(st, HealConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.requeued["m-1"] != ""
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("healer did not stop after cancellation")
	}
}

func TestHeal_SQLiteDeadWorker(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()

	m, err := st.CreateMission(ctx, model.Mission{Query: "plumbers in austin"})
	require.NoError(t, err)
	claimed, err := st.ClaimMission(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	old := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, st.Heartbeat(ctx, model.WorkerLiveness{WorkerID: "worker-a", StartedAt: old, LastSeen: old}))
	require.NoError(t, st.Heartbeat(ctx, model.WorkerLiveness{WorkerID: "worker-b", StartedAt: old, LastSeen: time.Now().UTC()}))

	h := NewHealer(st, HealConfig{StaleAfter: 5 * time.Minute})
	rep, err := h.Heal(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealReport{Requeued: 1, Evicted: 1}, rep)

	got, err := st.GetMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MissionQueued, got.Status)
	assert.Empty(t, got.ClaimedBy)
	assert.Equal(t, 1, got.HealCount)
	assert.Equal(t, "healed: worker worker-a stopped heartbeating", got.Note)

	workers, err := st.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "worker-b", workers[0].WorkerID)

	// The live worker picks it back up.
	again, err := st.ClaimMission(ctx, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, m.ID, again.ID)
}

func TestHeal_SQLiteLiveWorkerUntouched(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()

	m, err := st.CreateMission(ctx, model.Mission{Query: "plumbers in austin"})
	require.NoError(t, err)
	_, err = st.ClaimMission(ctx, "worker-a")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, st.Heartbeat(ctx, model.WorkerLiveness{WorkerID: "worker-a", StartedAt: now, LastSeen: now}))

	h := NewHealer(st, HealConfig{StaleAfter: 5 * time.Minute})
	rep, err := h.Heal(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealReport{}, rep)

	got, err := st.GetMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MissionRunning, got.Status)
	assert.Equal(t, "worker-a", got.ClaimedBy)
}
