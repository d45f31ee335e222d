package refresh

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/market-cli/internal/model"
)

// DefaultLimit is the per-source concurrency limit.
const DefaultLimit = 5

// RunFunc performs one job. Its context is detached from the submitter's
// cancellation.
type RunFunc func(ctx context.Context, job Job)

// Stats are cumulative pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
	Completed int64 `json:"completed"`
}

// Pool runs the jobs of one source with at most Limit executing at once.
type Pool struct {
	source   model.Source
	limit    int
	sem      *semaphore.Weighted
	inflight *Inflight
	log      *zap.Logger

	mu          sync.Mutex
	outstanding int
	idle        chan struct{}

	running   atomic.Int64
	submitted atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
	completed atomic.Int64
}

// NewPool creates a pool. Pools of different sources may share one tracker.
func NewPool(source model.Source, limit int, inflight *Inflight) *Pool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if inflight == nil {
		inflight = NewInflight(nil)
	}
	idle := make(chan struct{})
	close(idle)
	return &Pool{
		source:   source,
		limit:    limit,
		sem:      semaphore.NewWeighted(int64(limit)),
		inflight: inflight,
		log:      zap.L().With(zap.String("component", "refresh"), zap.String("source", string(source))),
		idle:     idle,
	}
}

// Submit admits each job through the tracker and starts it. Jobs already in
// flight are dropped. Returns the number admitted.
func (p *Pool) Submit(ctx context.Context, jobs []Job, run RunFunc) int {
	admitted := 0
	for _, j := range jobs {
		if !p.inflight.TryAcquire(j) {
			p.rejected.Add(1)
			p.log.Debug("job already in flight", zap.String("miner", j.EntityID))
			continue
		}
		p.begin()
		p.submitted.Add(1)
		admitted++
		go p.execute(ctx, j, run)
	}
	return admitted
}

func (p *Pool) execute(ctx context.Context, j Job, run RunFunc) {
	defer p.end()
	defer p.inflight.Release(j)

	if ctx.Err() != nil {
		p.dropped.Add(1)
		return
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.dropped.Add(1)
		p.log.Debug("dropped queued job", zap.String("miner", j.EntityID), zap.Error(err))
		return
	}
	defer p.sem.Release(1)

	p.running.Add(1)
	defer p.running.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("refresh job panicked", zap.String("miner", j.EntityID), zap.Any("panic", r))
		}
	}()

	run(context.WithoutCancel(ctx), j)
	p.completed.Add(1)
}

func (p *Pool) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding == 0 {
		p.idle = make(chan struct{})
	}
	p.outstanding++
}

func (p *Pool) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstanding--
	if p.outstanding == 0 {
		close(p.idle)
	}
}

// Source returns the pool's source.
func (p *Pool) Source() model.Source { return p.source }

// Limit returns the concurrency limit.
func (p *Pool) Limit() int { return p.limit }

// Outstanding returns the number of admitted jobs not yet finished, queued or running.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Running returns the number of jobs holding a slot.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Idle returns a channel closed once no job is outstanding. A channel
// obtained while the pool is idle is already closed.
func (p *Pool) Idle() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

// Wait blocks until the pool is idle.
func (p *Pool) Wait() {
	<-p.Idle()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
		Completed: p.completed.Load(),
	}
}
