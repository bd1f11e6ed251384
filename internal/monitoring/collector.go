package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric names a worker counter.
type Metric string

const (
	MissionsClaimed   Metric = "missions_claimed"
	MissionsCompleted Metric = "missions_completed"
	MissionsFatal     Metric = "missions_fatal"
	MissionsRequeued  Metric = "missions_requeued"
	MissionsEscalated Metric = "missions_escalated"
	RecordsSaved      Metric = "records_saved"
	RecordsSuppressed Metric = "records_suppressed"
	CandidatesDropped Metric = "candidates_dropped"
	WorkersEvicted    Metric = "workers_evicted"
)

var allMetrics = []Metric{
	MissionsClaimed, MissionsCompleted, MissionsFatal, MissionsRequeued,
	MissionsEscalated, RecordsSaved, RecordsSuppressed, CandidatesDropped,
	WorkersEvicted,
}

// Counters are process-lifetime worker counters. A nil *Counters
// ignores every call.
type Counters struct {
	vals map[Metric]*atomic.Int64
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	c := &Counters{vals: make(map[Metric]*atomic.Int64, len(allMetrics))}
	for _, m := range allMetrics {
		c.vals[m] = new(atomic.Int64)
	}
	return c
}

// Add increments m by n.
func (c *Counters) Add(m Metric, n int) {
	if c == nil {
		return
	}
	if v, ok := c.vals[m]; ok {
		v.Add(int64(n))
	}
}

// Inc increments m by one.
func (c *Counters) Inc(m Metric) { c.Add(m, 1) }

// Get returns the current value of m.
func (c *Counters) Get(m Metric) int64 {
	if c == nil {
		return 0
	}
	if v, ok := c.vals[m]; ok {
		return v.Load()
	}
	return 0
}

// Values returns every counter.
func (c *Counters) Values() map[Metric]int64 {
	out := make(map[Metric]int64, len(allMetrics))
	for _, m := range allMetrics {
		out[m] = c.Get(m)
	}
	return out
}

// MetricsSnapshot holds counter deltas over one collection window.
type MetricsSnapshot struct {
	Claimed    int64 `json:"claimed"`
	Completed  int64 `json:"completed"`
	Fatal      int64 `json:"fatal"`
	Requeued   int64 `json:"requeued"`
	Escalated  int64 `json:"escalated"`
	Records    int64 `json:"records"`
	Suppressed int64 `json:"suppressed"`

	// FatalRate is Fatal / (Completed + Fatal), or 0 when nothing finished.
	FatalRate float64 `json:"fatal_rate"`

	WindowStart time.Time `json:"window_start"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector turns the running counters into per-window snapshots.
type Collector struct {
	counters *Counters
	nowFunc  func() time.Time

	mu     sync.Mutex
	last   map[Metric]int64
	lastAt time.Time
}

// NewCollector creates a collector whose first window starts now.
func NewCollector(counters *Counters) *Collector {
	c := &Collector{counters: counters, nowFunc: time.Now}
	c.last = counters.Values()
	c.lastAt = c.nowFunc().UTC()
	return c
}

// Collect returns the deltas since the previous call.
func (c *Collector) Collect() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc().UTC()
	cur := c.counters.Values()
	delta := func(m Metric) int64 { return cur[m] - c.last[m] }

	snap := &MetricsSnapshot{
		Claimed:     delta(MissionsClaimed),
		Completed:   delta(MissionsCompleted),
		Fatal:       delta(MissionsFatal),
		Requeued:    delta(MissionsRequeued),
		Escalated:   delta(MissionsEscalated),
		Records:     delta(RecordsSaved),
		Suppressed:  delta(RecordsSuppressed),
		WindowStart: c.lastAt,
		CollectedAt: now,
	}
	if finished := snap.Completed + snap.Fatal; finished > 0 {
		snap.FatalRate = float64(snap.Fatal) / float64(finished)
	}

	c.last = cur
	c.lastAt = now
	return snap
}
