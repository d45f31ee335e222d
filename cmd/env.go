package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/config"
	"github.com/sells-group/market-cli/internal/enrich"
	"github.com/sells-group/market-cli/internal/fetcher"
	"github.com/sells-group/market-cli/internal/monitoring"
	"github.com/sells-group/market-cli/internal/refresh"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/internal/scheduler"
	"github.com/sells-group/market-cli/internal/seed"
	"github.com/sells-group/market-cli/internal/store"
	"github.com/sells-group/market-cli/internal/table"
)

// marketEnv holds everything a running service needs.
type marketEnv struct {
	Store   store.Store
	Table   *table.Table
	Metrics *monitoring.Metrics
	Enrich  *enrich.Set
	Group   *scheduler.Group
}

// Close releases the endpoint connections and the store.
func (e *marketEnv) Close() {
	if e.Enrich != nil {
		e.Enrich.Close()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	opts := store.Options{
		Driver:        cfg.Store.Driver,
		DatabaseURL:   cfg.Store.DatabaseURL,
		MemoryEntries: cfg.Store.MemoryEntries,
	}
	if cfg.Store.MaxConns > 0 || cfg.Store.MinConns > 0 {
		opts.Pool = &store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
	}
	st, err := store.Open(ctx, opts)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromRetryConfig(
		cfg.Resilience.RetryAttempts,
		time.Duration(cfg.Resilience.RetryBackoffMs)*time.Millisecond,
		time.Duration(cfg.Resilience.RetryMaxBackoffMs)*time.Millisecond,
		0,
	)
}

// loadTable downloads the seed inputs into a fresh table.
func loadTable(ctx context.Context) (*table.Table, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout: time.Duration(cfg.Seed.TimeoutSecs) * time.Second,
	})
	loader := seed.NewLoader(f, seed.Options{
		AnnotationsURL: cfg.Seed.AnnotationsURL,
		RetrievalsURL:  cfg.Seed.RetrievalsURL,
		MinerListURLs:  cfg.Seed.MinerListURLs,
		Retry:          retryConfig(),
	})
	rows, err := loader.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load seed")
	}
	t := table.New()
	t.Load(rows)
	zap.L().Info("seeded miner table", zap.Int("rows", t.Len()))
	return t, nil
}

// filterer is implemented by enrichers that only apply to some rows.
type filterer interface {
	Filters() []table.Filter
}

func schedulerConfig(rc config.RefreshConfig, e scheduler.Enricher) scheduler.Config {
	sc := scheduler.Config{
		TTL:         rc.TTL(),
		BatchSize:   rc.BatchSize,
		Concurrency: rc.Concurrency,
		Interval:    rc.Interval(),
		MaxInterval: rc.MaxInterval(),
	}
	if f, ok := e.(filterer); ok {
		sc.Filters = f.Filters()
	}
	return sc
}

// newGroup builds one scheduler per enricher. All of them share the
// inflight tracker and the metrics.
func newGroup(t *table.Table, st store.Store, enrichers []scheduler.Enricher, metrics *monitoring.Metrics) (*scheduler.Group, error) {
	inflight := refresh.NewInflight(nil)
	var schedulers []*scheduler.Scheduler
	for _, e := range enrichers {
		s, err := scheduler.New(t, st, e,
			schedulerConfig(cfg.Sources.For(e.Source()), e),
			scheduler.WithMetrics(metrics),
			scheduler.WithInflight(inflight),
		)
		if err != nil {
			return nil, err
		}
		schedulers = append(schedulers, s)
	}
	return scheduler.NewGroup(schedulers...), nil
}

// initEnv opens the store, seeds the table, dials the sources and builds
// the refresh loops. Nothing runs until the caller starts the group.
func initEnv(ctx context.Context) (*marketEnv, error) {
	env := &marketEnv{Metrics: monitoring.NewMetrics()}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	t, err := loadTable(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Table = t
	env.Metrics.SetRows(t.Len())

	set, err := enrich.Setup(ctx, cfg, t)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "setup enrichers")
	}
	env.Enrich = set

	g, err := newGroup(t, st, set.Enrichers, env.Metrics)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Group = g
	return env, nil
}
