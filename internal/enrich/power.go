package enrich

import (
	"context"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/pkg/lotus"
)

// Power fetches a miner's power claim, sector counts and actor balance.
type Power struct {
	base
	route resilience.Route[lotus.FullNode]
}

// NewPower creates the power enricher.
func NewPower(route resilience.Route[lotus.FullNode]) *Power {
	return &Power{base: base{source: model.SourcePower}, route: route}
}

// Enrich issues the three state queries concurrently. Any failure fails
// the whole group.
func (p *Power) Enrich(ctx context.Context, id string) (model.Enrichment, error) {
	maddr, err := minerAddress(id)
	if err != nil {
		return p.Sentinel(reason(err)), err
	}

	var (
		power   *lotus.MinerPower
		sectors lotus.MinerSectors
		balance big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		power, err = resilience.Call(gctx, p.route, "StateMinerPower",
			func(ctx context.Context, n lotus.FullNode) (*lotus.MinerPower, error) {
				return n.StateMinerPower(ctx, maddr, lotus.EmptyTSK)
			})
		return err
	})
	g.Go(func() (err error) {
		sectors, err = resilience.Call(gctx, p.route, "StateMinerSectorCount",
			func(ctx context.Context, n lotus.FullNode) (lotus.MinerSectors, error) {
				return n.StateMinerSectorCount(ctx, maddr, lotus.EmptyTSK)
			})
		return err
	})
	g.Go(func() (err error) {
		balance, err = resilience.Call(gctx, p.route, "WalletBalance",
			func(ctx context.Context, n lotus.FullNode) (big.Int, error) {
				return n.WalletBalance(ctx, maddr)
			})
		return err
	})
	if err := g.Wait(); err != nil {
		return p.Sentinel(reason(err)), eris.Wrapf(err, "power: %s", id)
	}
	if power == nil {
		err := eris.Errorf("power: miner %s returned no power claim", id)
		return p.Sentinel(reason(err)), err
	}

	return model.PowerInfo{
		RawPower:        bigPtr(power.MinerPower.RawBytePower),
		QualityAdjPower: bigPtr(power.MinerPower.QualityAdjPower),
		Balance:         bigPtr(balance),
		LiveSectors:     model.Ptr(sectors.Live),
		ActiveSectors:   model.Ptr(sectors.Active),
		FaultySectors:   model.Ptr(sectors.Faulty),
	}, nil
}

// BreakerStates reports the chain endpoints' breakers.
func (p *Power) BreakerStates() map[string]resilience.CircuitState {
	return routeStates(p.route)
}
