package enrich

import (
	"context"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/config"
	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/internal/scheduler"
	"github.com/sells-group/market-cli/pkg/filrep"
	"github.com/sells-group/market-cli/pkg/indexer"
	"github.com/sells-group/market-cli/pkg/lotus"
)

// Set is the enrichers of every enabled source, in model.AllSources order.
type Set struct {
	Enrichers []scheduler.Enricher
	Breakers  *resilience.Breakers
	closers   []jsonrpc.ClientCloser
}

// Close releases the chain node connections.
func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// Setup dials the configured endpoints and builds one enricher per enabled
// source. peers serves the index source's peer IDs.
func Setup(ctx context.Context, cfg *config.Config, peers PeerLookup) (*Set, error) {
	set := &Set{}
	if bcfg, ok := resilience.FromCircuitConfig(
		cfg.Resilience.BreakerThreshold,
		time.Duration(cfg.Resilience.BreakerResetSecs)*time.Second,
	); ok {
		set.Breakers = resilience.NewBreakers(bcfg)
	}

	enabled := func(src model.Source) bool { return cfg.Sources.For(src).Enabled }

	if enabled(model.SourceAsk) || enabled(model.SourcePower) {
		route, err := set.lotusRoute(ctx, cfg.Lotus)
		if err != nil {
			set.Close()
			return nil, err
		}
		if enabled(model.SourceAsk) {
			set.Enrichers = append(set.Enrichers, NewAsk(route))
		}
		if enabled(model.SourcePower) {
			set.Enrichers = append(set.Enrichers, NewPower(route))
		}
	}

	if enabled(model.SourceReputation) {
		hc := cfg.Reputation
		route := httpRoute(set.Breakers, "filrep", hc, func(u string) filrep.Client {
			return filrep.NewClient(u, filrep.WithRateLimit(hc.RateLimit, hc.Burst))
		})
		set.Enrichers = append(set.Enrichers, NewReputation(route))
	}

	if enabled(model.SourceIndex) {
		if peers == nil {
			set.Close()
			return nil, eris.New("enrich: index source needs a peer lookup")
		}
		hc := cfg.Indexer
		route := httpRoute(set.Breakers, "indexer", hc, func(u string) indexer.Client {
			return indexer.NewClient(u, indexer.WithRateLimit(hc.RateLimit, hc.Burst))
		})
		set.Enrichers = append(set.Enrichers, NewIndex(route, peers))
	}

	zap.L().Info("enrichers ready",
		zap.Int("count", len(set.Enrichers)),
		zap.Bool("breakers", set.Breakers != nil),
	)
	return set, nil
}

func (s *Set) lotusRoute(ctx context.Context, lc config.LotusConfig) (resilience.Route[lotus.FullNode], error) {
	route := resilience.Route[lotus.FullNode]{Timeout: seconds(lc.TimeoutSecs)}

	dial := func(name, url string) (resilience.Endpoint[lotus.FullNode], error) {
		node, closer, err := lotus.Dial(ctx, url, lotus.WithToken(lc.Token))
		if err != nil {
			return resilience.Endpoint[lotus.FullNode]{}, eris.Wrapf(err, "enrich: %s", name)
		}
		s.closers = append(s.closers, closer)
		return resilience.Endpoint[lotus.FullNode]{Name: name, Client: node, Breaker: s.Breakers.Get(name)}, nil
	}

	if lc.PrimaryURL == "" {
		return route, eris.New("enrich: lotus.primary_url is required")
	}
	primary, err := dial("lotus-primary", lc.PrimaryURL)
	if err != nil {
		return route, err
	}
	route.Primary = primary

	if lc.FallbackURL != "" {
		fallback, err := dial("lotus-fallback", lc.FallbackURL)
		if err != nil {
			return route, err
		}
		route.Fallback = &fallback
	}
	return route, nil
}

func httpRoute[C any](breakers *resilience.Breakers, name string, hc config.HTTPSourceConfig, newClient func(url string) C) resilience.Route[C] {
	route := resilience.Route[C]{
		Timeout: seconds(hc.TimeoutSecs),
		Primary: resilience.Endpoint[C]{
			Name:    name + "-primary",
			Client:  newClient(hc.BaseURL),
			Breaker: breakers.Get(name + "-primary"),
		},
	}
	if hc.FallbackURL != "" {
		route.Fallback = &resilience.Endpoint[C]{
			Name:    name + "-fallback",
			Client:  newClient(hc.FallbackURL),
			Breaker: breakers.Get(name + "-fallback"),
		}
	}
	return route
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}
