package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/store"
)

// Index is an optional fast-path membership set in front of the ledger.
type Index interface {
	Contains(ctx context.Context, orgID, category, hash string) (bool, error)
	Add(ctx context.Context, orgID, category string, hashes ...string) error
}

// Gate answers "was this company already delivered to this org for this
// category". Its answer is advisory; callers persist suppressed records.
type Gate struct {
	ledger  store.DeliveryStore
	index   Index
	nowFunc func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithIndex places idx in front of the ledger.
func WithIndex(idx Index) Option {
	return func(g *Gate) { g.index = idx }
}

// NewGate creates a Gate over the delivery ledger.
func NewGate(ledger store.DeliveryStore, opts ...Option) *Gate {
	g := &Gate{ledger: ledger, nowFunc: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// IsDuplicate reports whether hash was delivered to orgID under category.
// Index failures fall through to the ledger.
func (g *Gate) IsDuplicate(ctx context.Context, orgID, hash, category string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	if g.index != nil {
		hit, err := g.index.Contains(ctx, orgID, category, hash)
		if err != nil {
			zap.L().Warn("dedup: index lookup failed", zap.String("org_id", orgID), zap.Error(err))
		} else if hit {
			return true, nil
		}
	}

	delivered, err := g.ledger.IsDelivered(ctx, orgID, hash, category)
	if err != nil {
		return false, eris.Wrap(err, "dedup: check ledger")
	}
	if delivered && g.index != nil {
		if err := g.index.Add(ctx, orgID, category, hash); err != nil {
			zap.L().Debug("dedup: index backfill failed", zap.Error(err))
		}
	}
	return delivered, nil
}

// MarkDelivered appends one ledger entry per distinct non-empty hash.
func (g *Gate) MarkDelivered(ctx context.Context, orgID, category string, hashes ...string) error {
	now := g.nowFunc().UTC()
	seen := make(map[string]bool, len(hashes))
	recs := make([]model.DeliveryRecord, 0, len(hashes))
	unique := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		unique = append(unique, h)
		recs = append(recs, model.DeliveryRecord{
			OrgID:        orgID,
			IdentityHash: h,
			Category:     category,
			DeliveredAt:  now,
		})
	}
	if len(recs) == 0 {
		return nil
	}

	if err := g.ledger.RecordDeliveries(ctx, recs); err != nil {
		return eris.Wrap(err, "dedup: record deliveries")
	}
	if g.index != nil {
		if err := g.index.Add(ctx, orgID, category, unique...); err != nil {
			zap.L().Warn("dedup: index update failed", zap.Int("count", len(unique)), zap.Error(err))
		}
	}
	return nil
}
