package model

import "github.com/rotisserie/eris"

// Source names one external enrichment provider.
type Source string

const (
	// SourceAsk is the storage ask queried through chain state (price, piece sizes).
	SourceAsk Source = "ask"
	// SourcePower is miner power, sector counts, and actor balance from chain state.
	SourcePower Source = "power"
	// SourceReputation is the third-party reputation index.
	SourceReputation Source = "reputation"
	// SourceIndex is the network content index (IPNI).
	SourceIndex Source = "index"
)

// AllSources lists every known source in a stable order.
var AllSources = []Source{SourceAsk, SourcePower, SourceReputation, SourceIndex}

func (s Source) String() string { return string(s) }

// ParseSource validates a source name.
func ParseSource(name string) (Source, error) {
	for _, s := range AllSources {
		if string(s) == name {
			return s, nil
		}
	}
	return "", eris.Errorf("model: unknown source %q", name)
}
