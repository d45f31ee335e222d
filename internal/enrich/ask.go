package enrich

import (
	"context"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/pkg/lotus"
)

// Ask fetches a miner's storage ask: the peer ID from chain state, then the
// ask itself from the miner.
type Ask struct {
	base
	route resilience.Route[lotus.FullNode]
}

// NewAsk creates the ask enricher.
func NewAsk(route resilience.Route[lotus.FullNode]) *Ask {
	return &Ask{base: base{source: model.SourceAsk}, route: route}
}

// Enrich queries the miner's peer ID and current ask. When only the ask
// fails the sentinel keeps the peer ID.
func (a *Ask) Enrich(ctx context.Context, id string) (model.Enrichment, error) {
	maddr, err := minerAddress(id)
	if err != nil {
		return a.Sentinel(reason(err)), err
	}

	info, err := resilience.Call(ctx, a.route, "StateMinerInfo",
		func(ctx context.Context, n lotus.FullNode) (lotus.MinerInfo, error) {
			return n.StateMinerInfo(ctx, maddr, lotus.EmptyTSK)
		})
	if err != nil {
		return a.Sentinel(reason(err)), eris.Wrapf(err, "ask: miner info %s", id)
	}
	if info.PeerId == nil || *info.PeerId == "" {
		err := eris.Errorf("ask: miner %s has no peer id", id)
		return a.Sentinel(reason(err)), err
	}
	peerID := *info.PeerId

	signed, err := resilience.Call(ctx, a.route, "ClientQueryAsk",
		func(ctx context.Context, n lotus.FullNode) (*lotus.SignedStorageAsk, error) {
			return n.ClientQueryAsk(ctx, peerID, maddr)
		})
	if err == nil && (signed == nil || signed.Ask == nil) {
		err = eris.Errorf("ask: miner %s returned an empty ask", id)
	}
	if err != nil {
		failed := model.FailedAsk(reason(err))
		failed.PeerID = &peerID
		return failed, eris.Wrapf(err, "ask: query %s", id)
	}

	return askInfo(peerID, signed.Ask), nil
}

func askInfo(peerID string, ask *lotus.StorageAsk) model.AskInfo {
	return model.AskInfo{
		PeerID:        &peerID,
		Price:         bigPtr(ask.Price),
		VerifiedPrice: bigPtr(ask.VerifiedPrice),
		MinPieceSize:  model.Ptr(uint64(ask.MinPieceSize)),
		MaxPieceSize:  model.Ptr(uint64(ask.MaxPieceSize)),
	}
}

// BreakerStates reports the chain endpoints' breakers.
func (a *Ask) BreakerStates() map[string]resilience.CircuitState {
	return routeStates(a.route)
}

func bigPtr(v big.Int) *big.Int {
	if v.Int == nil {
		return nil
	}
	return &v
}
