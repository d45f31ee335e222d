// Package refresh admits refresh jobs exactly once and runs them under a
// per-source concurrency limit.
package refresh

import (
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/raulk/clock"

	"github.com/sells-group/market-cli/internal/model"
)

// Job is one pending fetch of a source for one miner.
type Job struct {
	EntityID string
	Source   model.Source
}

// Key identifies the job in the tracker.
func (j Job) Key() string { return string(j.Source) + "/" + j.EntityID }

func (j Job) String() string { return j.Key() }

// Inflight records the jobs currently admitted. A (miner, source) pair is
// present from admission until its job has finished, so duplicates are
// rejected even while a job waits for a pool slot.
type Inflight struct {
	jobs  *xsync.MapOf[string, time.Time]
	clock clock.Clock
}

// NewInflight creates an empty tracker. A nil clock uses wall time.
func NewInflight(clk clock.Clock) *Inflight {
	if clk == nil {
		clk = clock.New()
	}
	return &Inflight{jobs: xsync.NewMapOf[time.Time](), clock: clk}
}

// TryAcquire admits j unless it is already in flight. Exactly one of any
// number of concurrent callers for the same job succeeds.
func (t *Inflight) TryAcquire(j Job) bool {
	_, loaded := t.jobs.LoadOrStore(j.Key(), t.clock.Now())
	return !loaded
}

// Release removes j. Releasing an absent job is a no-op.
func (t *Inflight) Release(j Job) {
	t.jobs.Delete(j.Key())
}

// Len returns the number of jobs in flight across all sources.
func (t *Inflight) Len() int {
	return t.jobs.Size()
}

// Count returns the number of jobs in flight for one source.
func (t *Inflight) Count(src model.Source) int {
	n := 0
	t.jobs.Range(func(k string, _ time.Time) bool {
		if strings.HasPrefix(k, string(src)+"/") {
			n++
		}
		return true
	})
	return n
}

// Oldest returns the key and admission time of the longest-running job of
// src, or of any source when src is empty.
func (t *Inflight) Oldest(src model.Source) (key string, since time.Time, ok bool) {
	t.jobs.Range(func(k string, at time.Time) bool {
		if src != "" && !strings.HasPrefix(k, string(src)+"/") {
			return true
		}
		if !ok || at.Before(since) {
			key, since, ok = k, at, true
		}
		return true
	})
	return key, since, ok
}
