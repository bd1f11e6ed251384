// Package quota tracks per-provider usage within fixed time windows.
package quota

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/hydra/internal/model"
)

// Limit is the allowance for one provider. Max <= 0 means unlimited.
type Limit struct {
	Max    int
	Window time.Duration
}

// Tracker holds windowed usage counters. It is safe for concurrent use
// and performs no I/O.
type Tracker struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]*model.ProviderQuota

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewTracker creates a tracker with the given per-provider limits.
func NewTracker(limits map[string]Limit) *Tracker {
	l := make(map[string]Limit, len(limits))
	for name, lim := range limits {
		l[name] = lim
	}
	return &Tracker{
		limits:  l,
		windows: make(map[string]*model.ProviderQuota),
		nowFunc: time.Now,
	}
}

// SetLimit replaces the allowance for a provider. The current window's
// usage is kept.
func (t *Tracker) SetLimit(provider string, lim Limit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[provider] = lim
	if w, ok := t.windows[provider]; ok {
		w.Limit = lim.Max
		w.WindowLength = lim.Window
	}
}

// Allow reports whether the provider has calls left in its window.
func (t *Tracker) Allow(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.window(provider).Exhausted()
}

// Consume records units of usage against the provider's current window.
func (t *Tracker) Consume(provider string, units int) {
	if units <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window(provider).Used += units
}

// Get returns a copy of the provider's current window.
func (t *Tracker) Get(provider string) model.ProviderQuota {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.window(provider)
}

// Snapshot returns every tracked window sorted by provider name.
func (t *Tracker) Snapshot() []model.ProviderQuota {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make(map[string]struct{}, len(t.limits)+len(t.windows))
	for name := range t.limits {
		names[name] = struct{}{}
	}
	for name := range t.windows {
		names[name] = struct{}{}
	}
	out := make([]model.ProviderQuota, 0, len(names))
	for name := range names {
		out = append(out, *t.window(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// window returns the live window for provider, rolling it over when
// now >= window_start + window_length. Caller holds mu.
func (t *Tracker) window(provider string) *model.ProviderQuota {
	now := t.nowFunc()
	lim := t.limits[provider]

	w, ok := t.windows[provider]
	if !ok {
		w = &model.ProviderQuota{
			Provider:     provider,
			WindowStart:  now,
			WindowLength: lim.Window,
			Limit:        lim.Max,
		}
		t.windows[provider] = w
		return w
	}
	if w.WindowLength > 0 && !now.Before(w.WindowStart.Add(w.WindowLength)) {
		w.WindowStart = now
		w.Used = 0
	}
	return w
}
