// Package enrich implements one Enricher per external source. Each call
// goes through a resilience.Route, so a timeout or endpoint failure on the
// primary is retried once against the fallback.
package enrich

import (
	"github.com/filecoin-project/go-address"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
)

// base holds what every enricher shares.
type base struct {
	source model.Source
}

func (b base) Source() model.Source { return b.source }

func (b base) Sentinel(reason string) model.Enrichment {
	return model.Sentinel(b.source, reason)
}

func (b base) Decode(payload []byte) (model.Enrichment, error) {
	return model.DecodeEnrichment(b.source, payload)
}

// reason is the failure text stored on a sentinel group.
func reason(err error) string {
	return resilience.Classify(err).String()
}

// minerAddress converts "f01234" into an ID address.
func minerAddress(id string) (address.Address, error) {
	ord, err := model.ParseOrdinal(id)
	if err != nil {
		return address.Undef, err
	}
	return address.NewIDAddress(ord)
}

func routeStates[C any](r resilience.Route[C]) map[string]resilience.CircuitState {
	states := map[string]resilience.CircuitState{}
	if r.Primary.Breaker != nil {
		states[r.Primary.Name] = r.Primary.Breaker.State()
	}
	if r.Fallback != nil && r.Fallback.Breaker != nil {
		states[r.Fallback.Name] = r.Fallback.Breaker.State()
	}
	return states
}
