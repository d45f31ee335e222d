package scheduler

import (
	"context"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/monitoring"
)

// Group runs the loops of several sources side by side.
type Group struct {
	schedulers []*Scheduler
}

// NewGroup groups schedulers. Each source should appear at most once.
func NewGroup(schedulers ...*Scheduler) *Group {
	return &Group{schedulers: schedulers}
}

// Schedulers returns the grouped schedulers.
func (g *Group) Schedulers() []*Scheduler { return g.schedulers }

// Get returns the scheduler of a source.
func (g *Group) Get(src model.Source) (*Scheduler, bool) {
	return lo.Find(g.schedulers, func(s *Scheduler) bool { return s.Source() == src })
}

// Warm warms every source from the cache concurrently.
func (g *Group) Warm(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, s := range g.schedulers {
		eg.Go(func() error {
			_, err := s.Warm(gctx)
			return err
		})
	}
	return eg.Wait()
}

// Run runs every loop until ctx is cancelled and all of them have drained.
func (g *Group) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, s := range g.schedulers {
		eg.Go(func() error { return s.Run(gctx) })
	}
	return eg.Wait()
}

// Statuses reports every loop.
func (g *Group) Statuses() []monitoring.SourceHealth {
	return lo.Map(g.schedulers, func(s *Scheduler, _ int) monitoring.SourceHealth { return s.Status() })
}

// Reporters adapts the group for a monitoring collector.
func (g *Group) Reporters() []monitoring.StatusReporter {
	return lo.Map(g.schedulers, func(s *Scheduler, _ int) monitoring.StatusReporter { return s })
}
