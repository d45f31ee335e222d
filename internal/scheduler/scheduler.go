// Package scheduler drives the continuous refresh of one enrichment source:
// select stale miners, fetch them under a concurrency limit, and write the
// results to the entity table and the durable cache.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/raulk/clock"
	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/monitoring"
	"github.com/sells-group/market-cli/internal/refresh"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/internal/store"
	"github.com/sells-group/market-cli/internal/table"
)

// Enricher fetches one source's field group for a miner.
type Enricher interface {
	Source() model.Source
	// Enrich always returns a usable group. On failure it is the sentinel
	// group and err carries the classified cause.
	Enrich(ctx context.Context, id string) (model.Enrichment, error)
	Sentinel(reason string) model.Enrichment
	Decode(payload []byte) (model.Enrichment, error)
}

// BreakerReporter is implemented by enrichers whose endpoints sit behind
// circuit breakers.
type BreakerReporter interface {
	BreakerStates() map[string]resilience.CircuitState
}

// Config tunes one source's loop.
type Config struct {
	TTL         time.Duration
	BatchSize   int
	Concurrency int
	// Interval is the shortest idle sleep; idle sleeps back off to MaxInterval.
	Interval    time.Duration
	MaxInterval time.Duration
	Filters     []table.Filter
	Sort        []table.SortKey
}

// DefaultConfig returns the loop settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		TTL:         30 * time.Minute,
		BatchSize:   5,
		Concurrency: refresh.DefaultLimit,
		Interval:    500 * time.Millisecond,
		MaxInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval * 2
	}
	return c
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics records refresh metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithInflight shares an inflight tracker between schedulers.
func WithInflight(t *refresh.Inflight) Option {
	return func(s *Scheduler) { s.inflight = t }
}

// Scheduler owns the refresh loop of one source. Several schedulers may
// share a table and a store.
type Scheduler struct {
	source   model.Source
	table    *table.Table
	store    store.Store
	enricher Enricher
	cfg      Config
	selector Selector
	inflight *refresh.Inflight
	pool     *refresh.Pool
	clock    clock.Clock
	metrics  *monitoring.Metrics
	log      *zap.Logger

	lastTick  atomic.Pointer[time.Time]
	lastBatch atomic.Int64
	refreshed atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	failures map[string]int64
}

// New creates a scheduler for the enricher's source.
func New(t *table.Table, st store.Store, e Enricher, cfg Config, opts ...Option) (*Scheduler, error) {
	if t == nil || st == nil || e == nil {
		return nil, eris.New("scheduler: table, store and enricher are required")
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		source:   e.Source(),
		table:    t,
		store:    st,
		enricher: e,
		cfg:      cfg,
		failures: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.inflight == nil {
		s.inflight = refresh.NewInflight(s.clock)
	}
	s.pool = refresh.NewPool(s.source, cfg.Concurrency, s.inflight)
	s.selector = Selector{
		Source:    s.source,
		TTL:       cfg.TTL,
		BatchSize: cfg.BatchSize,
		Filters:   cfg.Filters,
		Sort:      cfg.Sort,
	}
	s.log = zap.L().With(zap.String("component", "scheduler"), zap.String("source", string(s.source)))

	if _, err := t.Snapshot(table.Query{Filters: cfg.Filters, Sort: s.selector.sortKeys(), Limit: 1}); err != nil {
		return nil, eris.Wrapf(err, "scheduler: %s selection", s.source)
	}
	return s, nil
}

// Source returns the source this scheduler refreshes.
func (s *Scheduler) Source() model.Source { return s.source }

// Pool exposes the refresh pool.
func (s *Scheduler) Pool() *refresh.Pool { return s.pool }

// Warm loads the cached result of every miner in the table, stamping each
// with its cache time so the selector judges its age. Unreadable entries
// are skipped. Returns the number of rows warmed.
func (s *Scheduler) Warm(ctx context.Context) (int, error) {
	warmed := 0
	for _, id := range s.table.IDs() {
		if err := ctx.Err(); err != nil {
			return warmed, eris.Wrap(err, "scheduler: warm")
		}
		e, err := s.store.Get(ctx, store.Key{EntityID: id, Source: s.source})
		s.metrics.CacheOp(string(s.source), "get", err)
		if err != nil {
			s.log.Warn("cache read failed", zap.String("miner", id), zap.Error(err))
			continue
		}
		if e == nil {
			continue
		}
		enr, err := s.enricher.Decode(e.Payload)
		if err != nil {
			s.log.Warn("skipping undecodable cache entry", zap.String("miner", id), zap.Error(err))
			continue
		}
		if err := s.table.Update(table.Patch{ID: id, Enrichment: enr, RefreshedAt: e.CachedAt}); err != nil {
			s.log.Warn("cache entry rejected by table", zap.String("miner", id), zap.Error(err))
			continue
		}
		warmed++
	}
	s.log.Info("warmed from cache", zap.Int("rows", warmed))
	return warmed, nil
}

// Select returns the current candidates without submitting them.
func (s *Scheduler) Select() (Batch, error) {
	rows, err := s.table.Snapshot(s.selector.Query())
	if err != nil {
		return Batch{}, err
	}
	return s.selector.Select(rows, s.clock.Now())
}

// Tick runs one selection and submits it. It does nothing while jobs of a
// previous batch are outstanding. Returns the number of jobs admitted.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	s.lastTick.Store(&now)
	if s.pool.Outstanding() > 0 {
		return 0
	}

	batch, err := s.Select()
	if err != nil {
		s.log.Error("selection failed", zap.Error(err))
		return 0
	}
	s.metrics.SetCandidates(string(s.source), batch.Never, batch.Stale)
	if len(batch.IDs) == 0 {
		return 0
	}

	batchID := uuid.NewString()
	jobs := lo.Map(batch.IDs, func(id string, _ int) refresh.Job {
		return refresh.Job{EntityID: id, Source: s.source}
	})
	n := s.pool.Submit(ctx, jobs, func(ctx context.Context, j refresh.Job) {
		s.refresh(ctx, batchID, j)
	})
	s.lastBatch.Store(int64(n))
	s.metrics.SetOutstanding(string(s.source), s.pool.Outstanding())
	s.log.Debug("submitted batch",
		zap.String("batch", batchID),
		zap.Int("admitted", n),
		zap.Int("never", batch.Never),
		zap.Int("stale", batch.Stale),
	)
	return n
}

// Run drives the loop until ctx is cancelled. While a batch is outstanding
// it waits for the pool to go idle; with nothing to do it sleeps between
// Interval and MaxInterval. On cancellation it stops selecting, waits for
// outstanding jobs to finish, and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("starting refresh loop",
		zap.Duration("ttl", s.cfg.TTL),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("concurrency", s.cfg.Concurrency),
	)
	idle := &backoff.Backoff{Min: s.cfg.Interval, Max: s.cfg.MaxInterval, Factor: 2, Jitter: true}

loop:
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			break loop
		case <-s.pool.Idle():
		}

		wait := s.cfg.Interval
		if s.Tick(ctx) == 0 {
			wait = idle.Duration()
		} else {
			idle.Reset()
		}

		select {
		case <-ctx.Done():
			break loop
		case <-s.clock.After(wait):
		}
	}

	s.log.Info("stopping refresh loop", zap.Int("outstanding", s.pool.Outstanding()))
	s.pool.Wait()
	s.metrics.SetOutstanding(string(s.source), 0)
	return nil
}

func (s *Scheduler) refresh(ctx context.Context, batchID string, j refresh.Job) {
	start := s.clock.Now()
	enr, err := s.enrich(ctx, j.EntityID)
	done := s.clock.Now()

	kind := ""
	if err != nil {
		kind = resilience.Classify(err).String()
		s.failed.Add(1)
		s.mu.Lock()
		s.failures[kind]++
		s.mu.Unlock()
		s.log.Warn("refresh failed",
			zap.String("batch", batchID),
			zap.String("miner", j.EntityID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	} else {
		s.refreshed.Add(1)
	}
	if enr == nil {
		enr = s.enricher.Sentinel(kind)
	}

	if err := s.table.Update(table.Patch{ID: j.EntityID, Enrichment: enr, RefreshedAt: done}); err != nil {
		s.log.Error("table update failed", zap.String("miner", j.EntityID), zap.Error(err))
	}

	payload, merr := json.Marshal(enr)
	if merr == nil {
		merr = s.store.Set(ctx, store.Entry{
			Key:      store.Key{EntityID: j.EntityID, Source: s.source},
			CachedAt: done,
			Payload:  payload,
		})
	}
	s.metrics.CacheOp(string(s.source), "set", merr)
	if merr != nil {
		s.log.Warn("cache write failed", zap.String("miner", j.EntityID), zap.Error(merr))
	}

	s.metrics.ObserveRefresh(string(s.source), kind, done.Sub(start))
}

// enrich converts a panic into a sentinel result so the miner is stamped
// and not re-selected immediately.
func (s *Scheduler) enrich(ctx context.Context, id string) (enr model.Enrichment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scheduler: enrich %s panicked: %v", id, r)
			enr = s.enricher.Sentinel(err.Error())
		}
	}()
	return s.enricher.Enrich(ctx, id)
}

// Status reports the loop's current state.
func (s *Scheduler) Status() monitoring.SourceHealth {
	h := monitoring.SourceHealth{
		Source:      string(s.source),
		Limit:       s.pool.Limit(),
		Outstanding: s.pool.Outstanding(),
		Running:     s.pool.Running(),
		Inflight:    s.inflight.Count(s.source),
		LastBatch:   int(s.lastBatch.Load()),
		Refreshed:   s.refreshed.Load(),
		Failed:      s.failed.Load(),
	}
	stats := s.pool.Stats()
	h.Submitted, h.Rejected, h.Dropped, h.Panics = stats.Submitted, stats.Rejected, stats.Dropped, stats.Panics

	if t := s.lastTick.Load(); t != nil {
		h.LastTick = lo.ToPtr(t.UTC())
	}
	if _, since, ok := s.inflight.Oldest(s.source); ok {
		h.OldestInflight = lo.ToPtr(since.UTC())
	}

	s.mu.Lock()
	h.Failures = make(map[string]int64, len(s.failures))
	for k, v := range s.failures {
		h.Failures[k] = v
	}
	s.mu.Unlock()

	if br, ok := s.enricher.(BreakerReporter); ok {
		h.Breakers = lo.MapValues(br.BreakerStates(), func(st resilience.CircuitState, _ string) string {
			return st.String()
		})
	}
	return h
}
