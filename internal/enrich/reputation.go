package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/pkg/filrep"
)

// Reputation fetches a miner's entry from the reputation index.
type Reputation struct {
	base
	route resilience.Route[filrep.Client]
}

// NewReputation creates the reputation enricher.
func NewReputation(route resilience.Route[filrep.Client]) *Reputation {
	return &Reputation{base: base{source: model.SourceReputation}, route: route}
}

func (r *Reputation) Enrich(ctx context.Context, id string) (model.Enrichment, error) {
	m, err := resilience.Call(ctx, r.route, "Miner",
		func(ctx context.Context, c filrep.Client) (*filrep.Miner, error) {
			return c.Miner(ctx, id)
		})
	if err != nil {
		return r.Sentinel(reason(err)), eris.Wrapf(err, "reputation: %s", id)
	}

	info := model.ReputationInfo{
		Score:           m.Score.Float(),
		Rank:            m.Rank.Int(),
		DealsTotal:      m.StorageDeals.Total.Int(),
		DealSuccessRate: m.StorageDeals.SuccessRate.Float(),
	}
	if m.Reachability != "" {
		info.Reachability = model.Ptr(m.Reachability)
	}
	return info, nil
}

// BreakerStates reports the reputation endpoints' breakers.
func (r *Reputation) BreakerStates() map[string]resilience.CircuitState {
	return routeStates(r.route)
}
