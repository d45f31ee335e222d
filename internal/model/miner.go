package model

import (
	"maps"
	"strings"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/rotisserie/eris"
)

// SentinelPrice replaces ask prices when a miner's ask cannot be fetched.
// It is larger than any real ask, so failed miners sort last by price.
var SentinelPrice = big.Mul(big.NewInt(1_000_000_000_000_000), big.NewInt(1_000_000_000_000_000))

// storedStates are the annotation states that mean data was sealed with the miner.
var storedStates = map[string]bool{
	"active":         true,
	"active-sealing": true,
	"sealing":        true,
}

// Miner is one storage provider row in the entity table. Pointer fields are
// nullable; enrichment groups are replaced wholesale and never mutated in place.
type Miner struct {
	ID         string     `json:"miner"`
	Ordinal    uint64     `json:"minerNum"`
	Annotation Annotation `json:"annotation"`

	Ask        AskInfo        `json:"ask"`
	Power      PowerInfo      `json:"power"`
	Reputation ReputationInfo `json:"reputation"`
	Index      IndexInfo      `json:"index"`

	Refreshed map[Source]time.Time `json:"refreshed"`
}

// Annotation is the static, hand-maintained status of a miner.
type Annotation struct {
	State     string `json:"annotationState"`
	Extra     string `json:"annotationExtra"`
	Stored    bool   `json:"stored"`
	Retrieved bool   `json:"retrieved"`
}

// NewAnnotation derives the stored flag from the annotation state.
func NewAnnotation(state, extra string, retrieved bool) Annotation {
	return Annotation{
		State:     state,
		Extra:     extra,
		Stored:    storedStates[state],
		Retrieved: retrieved,
	}
}

// NewMiner creates an empty row for the given miner address.
func NewMiner(id string) (Miner, error) {
	ord, err := ParseOrdinal(id)
	if err != nil {
		return Miner{}, err
	}
	return Miner{ID: id, Ordinal: ord, Refreshed: map[Source]time.Time{}}, nil
}

// ParseOrdinal returns the actor ID embedded in a miner address such as
// "f01234". Both mainnet (f) and testnet (t) prefixes are accepted.
func ParseOrdinal(id string) (uint64, error) {
	s := strings.TrimSpace(id)
	if len(s) < 3 || (s[0] != 'f' && s[0] != 't') {
		return 0, eris.Errorf("model: invalid miner id %q", id)
	}
	// Ordinals are network independent; parse under the mainnet prefix.
	addr, err := address.NewFromString(string(address.MainnetPrefix) + s[1:])
	if err != nil {
		return 0, eris.Wrapf(err, "model: parse miner id %q", id)
	}
	ord, err := address.IDFromAddress(addr)
	if err != nil {
		return 0, eris.Wrapf(err, "model: miner id %q is not an id address", id)
	}
	return ord, nil
}

// LastRefreshed returns when the source last wrote this row.
func (m *Miner) LastRefreshed(src Source) (time.Time, bool) {
	t, ok := m.Refreshed[src]
	return t, ok
}

// Clone returns a copy whose refresh map can be modified independently.
func (m Miner) Clone() Miner {
	out := m
	out.Refreshed = maps.Clone(m.Refreshed)
	if out.Refreshed == nil {
		out.Refreshed = map[Source]time.Time{}
	}
	return out
}
