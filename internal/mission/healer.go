package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/monitoring"
	"github.com/sells-group/hydra/internal/store"
)

// HealStore is the persistence the healer needs.
type HealStore interface {
	store.MissionStore
	store.LivenessStore
}

// Escalator is told about missions that need a human.
type Escalator interface {
	EscalateMission(ctx context.Context, m model.Mission, note string) error
}

// HealConfig tunes healing.
type HealConfig struct {
	Interval       time.Duration
	StaleAfter     time.Duration // liveness older than this is dead
	MissionTimeout time.Duration // zero disables timeout healing
	MaxHeals       int           // requeues before a mission is failed
}

func (c HealConfig) withDefaults() HealConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.MaxHeals <= 0 {
		c.MaxHeals = 5
	}
	return c
}

// HealReport summarizes one healing pass.
type HealReport struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
	Evicted  int `json:"evicted"`
}

// Healer requeues missions abandoned by dead or stuck workers.
type Healer struct {
	store     HealStore
	cfg       HealConfig
	escalator Escalator
	counters  *monitoring.Counters
	nowFunc   func() time.Time
}

// HealOption configures a Healer.
type HealOption func(*Healer)

// WithEscalator sends manual-review signals.
func WithEscalator(e Escalator) HealOption {
	return func(h *Healer) { h.escalator = e }
}

// WithHealCounters records heal outcomes.
func WithHealCounters(c *monitoring.Counters) HealOption {
	return func(h *Healer) { h.counters = c }
}

// NewHealer creates a healer.
func NewHealer(st HealStore, cfg HealConfig, opts ...HealOption) *Healer {
	h := &Healer{store: st, cfg: cfg.withDefaults(), nowFunc: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run heals on every interval until ctx is cancelled.
func (h *Healer) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "mission.healer"))
	log.Info("starting healer",
		zap.Duration("interval", h.cfg.Interval),
		zap.Duration("stale_after", h.cfg.StaleAfter),
		zap.Duration("mission_timeout", h.cfg.MissionTimeout),
	)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("healer stopped")
			return
		case <-ticker.C:
			rep, err := h.Heal(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error("mission: heal pass failed", zap.Error(err))
			}
			if rep.Requeued+rep.Failed+rep.Evicted > 0 {
				log.Info("mission: heal pass",
					zap.Int("requeued", rep.Requeued),
					zap.Int("failed", rep.Failed),
					zap.Int("evicted", rep.Evicted),
				)
			}
		}
	}
}

// Heal runs one pass: requeue or fail stale missions, then evict dead
// workers. A mission another worker already completed or healed is
// skipped.
func (h *Healer) Heal(ctx context.Context) (HealReport, error) {
	var rep HealReport
	now := h.nowFunc().UTC()
	liveSince := now.Add(-h.cfg.StaleAfter)
	claimedBefore := time.Unix(0, 0).UTC()
	if h.cfg.MissionTimeout > 0 {
		claimedBefore = now.Add(-h.cfg.MissionTimeout)
	}

	stale, err := h.store.ListStaleMissions(ctx, liveSince, claimedBefore)
	if err != nil {
		return rep, eris.Wrap(err, "mission: list stale")
	}

	var errs []error
	for _, m := range stale {
		reason := h.reason(m, claimedBefore)
		if m.HealCount >= h.cfg.MaxHeals {
			note := fmt.Sprintf("manual review required: healed %d times; last: %s", m.HealCount, reason)
			if err := h.store.FailMission(ctx, m.ID, m.ClaimedBy, note); err != nil {
				if !errors.Is(err, store.ErrClaimLost) {
					errs = append(errs, err)
				}
				continue
			}
			rep.Failed++
			h.counters.Inc(monitoring.MissionsEscalated)
			if h.escalator != nil {
				if err := h.escalator.EscalateMission(ctx, m, note); err != nil {
					zap.L().Warn("mission: escalation failed", zap.String("mission_id", m.ID), zap.Error(err))
				}
			}
			continue
		}

		if err := h.store.RequeueMission(ctx, m.ID, m.ClaimedBy, "healed: "+reason); err != nil {
			if !errors.Is(err, store.ErrClaimLost) {
				errs = append(errs, err)
			}
			continue
		}
		rep.Requeued++
		h.counters.Inc(monitoring.MissionsRequeued)
		zap.L().Info("mission: requeued",
			zap.String("mission_id", m.ID),
			zap.String("claimed_by", m.ClaimedBy),
			zap.String("reason", reason),
		)
	}

	evicted, err := h.store.EvictStaleWorkers(ctx, liveSince)
	if err != nil {
		errs = append(errs, eris.Wrap(err, "mission: evict workers"))
	}
	rep.Evicted = evicted
	h.counters.Add(monitoring.WorkersEvicted, evicted)

	return rep, errors.Join(errs...)
}

func (h *Healer) reason(m model.Mission, claimedBefore time.Time) string {
	if h.cfg.MissionTimeout > 0 && m.ClaimedAt != nil && m.ClaimedAt.Before(claimedBefore) {
		return fmt.Sprintf("worker %s held the mission longer than %s", m.ClaimedBy, h.cfg.MissionTimeout)
	}
	return fmt.Sprintf("worker %s stopped heartbeating", m.ClaimedBy)
}
