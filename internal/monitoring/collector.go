package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// SourceHealth is the point-in-time state of one source's refresh loop.
type SourceHealth struct {
	Source         string            `json:"source"`
	Limit          int               `json:"limit"`
	Outstanding    int               `json:"outstanding"`
	Running        int               `json:"running"`
	Inflight       int               `json:"inflight"`
	OldestInflight *time.Time        `json:"oldest_inflight"`
	LastTick       *time.Time        `json:"last_tick"`
	LastBatch      int               `json:"last_batch"`
	Submitted      int64             `json:"submitted"`
	Rejected       int64             `json:"rejected"`
	Dropped        int64             `json:"dropped"`
	Panics         int64             `json:"panics"`
	Refreshed      int64             `json:"refreshed"`
	Failed         int64             `json:"failed"`
	Failures       map[string]int64  `json:"failures"`
	Breakers       map[string]string `json:"breakers,omitempty"`
}

// StatusReporter is implemented by each source's scheduler.
type StatusReporter interface {
	Status() SourceHealth
}

// RowCounter reports the entity table size.
type RowCounter interface {
	Len() int
}

// MetricsSnapshot holds a point-in-time view of all refresh loops.
type MetricsSnapshot struct {
	Sources     []SourceHealth `json:"sources"`
	Rows        int            `json:"rows"`
	CollectedAt time.Time      `json:"collected_at"`
}

// Source returns the health of the named source.
func (s *MetricsSnapshot) Source(name string) (SourceHealth, bool) {
	for _, h := range s.Sources {
		if h.Source == name {
			return h, true
		}
	}
	return SourceHealth{}, false
}

// Collector gathers health from the schedulers and the table.
type Collector struct {
	rows      RowCounter
	reporters []StatusReporter
	metrics   *Metrics
	now       func() time.Time
}

// NewCollector creates a collector. metrics may be nil.
func NewCollector(rows RowCounter, metrics *Metrics, reporters ...StatusReporter) *Collector {
	return &Collector{rows: rows, reporters: reporters, metrics: metrics, now: time.Now}
}

// Collect gathers a snapshot and refreshes the gauges derived from it.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "monitoring: collect")
	}
	snap := &MetricsSnapshot{CollectedAt: c.now().UTC()}
	if c.rows != nil {
		snap.Rows = c.rows.Len()
		c.metrics.SetRows(snap.Rows)
	}
	for _, r := range c.reporters {
		h := r.Status()
		c.metrics.SetOutstanding(h.Source, h.Outstanding)
		snap.Sources = append(snap.Sources, h)
	}
	return snap, nil
}
