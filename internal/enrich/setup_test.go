package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-cli/internal/config"
	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
)

func testConfig() *config.Config {
	on := config.RefreshConfig{Enabled: true, TTLMins: 30, BatchSize: 5, Concurrency: 5}
	return &config.Config{
		Sources: config.SourcesConfig{Ask: on, Power: on, Reputation: on, Index: on},
		Resilience: config.ResilienceConfig{
			BreakerThreshold: 3,
			BreakerResetSecs: 30,
		},
		Reputation: config.HTTPSourceConfig{BaseURL: "http://127.0.0.1:1", FallbackURL: "http://127.0.0.1:2", TimeoutSecs: 1},
		Indexer:    config.HTTPSourceConfig{BaseURL: "http://127.0.0.1:3", TimeoutSecs: 1},
	}
}

func sources(set *Set) []model.Source {
	var out []model.Source
	for _, e := range set.Enrichers {
		out = append(out, e.Source())
	}
	return out
}

func TestSetup_AllSources(t *testing.T) {
	rpc := jsonrpc.NewServer()
	rpc.Register("Filecoin", &fakeNode{})
	srv := httptest.NewServer(rpc)
	defer srv.Close()

	cfg := testConfig()
	cfg.Lotus = config.LotusConfig{PrimaryURL: srv.URL, FallbackURL: srv.URL, TimeoutSecs: 2}

	set, err := Setup(context.Background(), cfg, peerMap{})
	require.NoError(t, err)
	defer set.Close()

	assert.Equal(t, model.AllSources, sources(set))
	require.NotNil(t, set.Breakers)

	ask := set.Enrichers[0].(*Ask)
	assert.Equal(t, "lotus-primary", ask.route.Primary.Name)
	require.True(t, ask.route.HasFallback())
	assert.Equal(t, "lotus-fallback", ask.route.Fallback.Name)
	// Ask and power share the chain endpoints' breakers.
	assert.Same(t, ask.route.Primary.Breaker, set.Enrichers[1].(*Power).route.Primary.Breaker)

	rep := set.Enrichers[2].(*Reputation)
	assert.True(t, rep.route.HasFallback())
	assert.False(t, set.Enrichers[3].(*Index).route.HasFallback())
}

func TestSetup_DisabledSources(t *testing.T) {
	cfg := testConfig()
	cfg.Sources.Ask.Enabled = false
	cfg.Sources.Power.Enabled = false
	cfg.Resilience.BreakerThreshold = 0

	set, err := Setup(context.Background(), cfg, peerMap{})
	require.NoError(t, err)
	defer set.Close()

	assert.Equal(t, []model.Source{model.SourceReputation, model.SourceIndex}, sources(set))
	assert.Nil(t, set.Breakers)
	assert.Empty(t, set.Enrichers[0].(*Reputation).BreakerStates())
}

func TestSetup_RequiresLotusURL(t *testing.T) {
	cfg := testConfig()

	_, err := Setup(context.Background(), cfg, peerMap{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lotus.primary_url")
}

func TestSetup_IndexNeedsPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Sources.Ask.Enabled = false
	cfg.Sources.Power.Enabled = false

	_, err := Setup(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestSetup_ChainCallThroughRPC(t *testing.T) {
	rpc := jsonrpc.NewServer()
	rpc.Register("Filecoin", &fakeNode{peer: model.Ptr("12D3KooWPeer"), price: 77})
	srv := httptest.NewServer(http.Handler(rpc))
	defer srv.Close()

	cfg := testConfig()
	cfg.Sources.Power.Enabled = false
	cfg.Sources.Reputation.Enabled = false
	cfg.Sources.Index.Enabled = false
	cfg.Lotus = config.LotusConfig{PrimaryURL: srv.URL, TimeoutSecs: 2}

	set, err := Setup(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer set.Close()

	enr, err := set.Enrichers[0].Enrich(context.Background(), "f01234")
	require.NoError(t, err)
	ask := enr.(model.AskInfo)
	assert.Equal(t, "12D3KooWPeer", *ask.PeerID)
	assert.Equal(t, "77", ask.Price.String())
	assert.Equal(t, resilience.CircuitClosed, set.Breakers.States()["lotus-primary"])
}

func TestSetup_UnreadablePrimaryFallsBack(t *testing.T) {
	var primaryHits atomic.Int32
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits.Add(1)
		w.Write([]byte(`<html>bad gateway page</html>`)) //nolint:errcheck
	}))
	defer garbage.Close()

	rpc := jsonrpc.NewServer()
	rpc.Register("Filecoin", &fakeNode{peer: model.Ptr("12D3KooWPeer"), price: 55})
	healthy := httptest.NewServer(http.Handler(rpc))
	defer healthy.Close()

	cfg := testConfig()
	cfg.Sources.Power.Enabled = false
	cfg.Sources.Reputation.Enabled = false
	cfg.Sources.Index.Enabled = false
	cfg.Lotus = config.LotusConfig{PrimaryURL: garbage.URL, FallbackURL: healthy.URL, TimeoutSecs: 2}

	set, err := Setup(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer set.Close()

	enr, err := set.Enrichers[0].Enrich(context.Background(), "f01234")
	require.NoError(t, err)
	ask := enr.(model.AskInfo)
	assert.Empty(t, ask.Failure)
	assert.Equal(t, "55", ask.Price.String())
	assert.Positive(t, primaryHits.Load())
}
