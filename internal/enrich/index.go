package enrich

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
	"github.com/sells-group/market-cli/internal/table"
	"github.com/sells-group/market-cli/pkg/indexer"
)

// PeerLookup returns the current row of a miner. *table.Table implements it.
type PeerLookup interface {
	Get(id string) (model.Miner, bool)
}

// Index reports whether a miner advertises content to the network indexer.
// It needs the peer ID found by the ask source.
type Index struct {
	base
	route resilience.Route[indexer.Client]
	peers PeerLookup
}

// NewIndex creates the index enricher.
func NewIndex(route resilience.Route[indexer.Client], peers PeerLookup) *Index {
	return &Index{base: base{source: model.SourceIndex}, route: route, peers: peers}
}

// Filters restricts candidates to miners with a known peer ID.
func (x *Index) Filters() []table.Filter {
	return []table.Filter{{Column: "peerId", Op: table.OpNotNull}}
}

// Enrich looks the miner's peer up. A provider the indexer has never heard
// of is a successful "not indexed" result.
func (x *Index) Enrich(ctx context.Context, id string) (model.Enrichment, error) {
	row, ok := x.peers.Get(id)
	if !ok || row.Ask.PeerID == nil || *row.Ask.PeerID == "" {
		err := eris.Errorf("index: miner %s has no peer id", id)
		return x.Sentinel(reason(err)), err
	}
	peerID := *row.Ask.PeerID

	p, err := resilience.Call(ctx, x.route, "Provider",
		func(ctx context.Context, c indexer.Client) (*indexer.Provider, error) {
			return c.Provider(ctx, peerID)
		})
	if errors.Is(err, indexer.ErrNotFound) {
		return model.IndexInfo{Indexed: model.Ptr(false)}, nil
	}
	if err != nil {
		return x.Sentinel(reason(err)), eris.Wrapf(err, "index: %s", id)
	}

	info := model.IndexInfo{
		Indexed:           model.Ptr(true),
		LastAdvertisement: p.LastAdvertisementTime,
	}
	if p.Publisher != nil && p.Publisher.ID != "" {
		info.Publisher = model.Ptr(p.Publisher.ID)
	}
	return info, nil
}

// BreakerStates reports the indexer endpoints' breakers.
func (x *Index) BreakerStates() map[string]resilience.CircuitState {
	return routeStates(x.route)
}
