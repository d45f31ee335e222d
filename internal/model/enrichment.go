package model

import (
	"encoding/json"
	"time"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/rotisserie/eris"
)

// Enrichment is the group of fields one source owns on a Miner.
type Enrichment interface {
	Source() Source
	ApplyTo(m *Miner)
}

// AskInfo is the miner's current storage ask.
type AskInfo struct {
	PeerID        *string  `json:"peerId"`
	Price         *big.Int `json:"priceRaw"`
	VerifiedPrice *big.Int `json:"verifiedPrice"`
	MinPieceSize  *uint64  `json:"minPieceSize"`
	MaxPieceSize  *uint64  `json:"maxPieceSize"`
	Failure       string   `json:"askFailure,omitempty"`
}

func (AskInfo) Source() Source     { return SourceAsk }
func (a AskInfo) ApplyTo(m *Miner) { m.Ask = a }

// FailedAsk is the sentinel ask: both prices set to SentinelPrice.
func FailedAsk(reason string) AskInfo {
	p, v := SentinelPrice, SentinelPrice
	return AskInfo{Price: &p, VerifiedPrice: &v, Failure: reason}
}

// PowerInfo is the miner's power claim, sector counts, and balance.
type PowerInfo struct {
	RawPower        *big.Int `json:"rawPower"`
	QualityAdjPower *big.Int `json:"qualityAdjPower"`
	Balance         *big.Int `json:"balance"`
	LiveSectors     *uint64  `json:"liveSectors"`
	ActiveSectors   *uint64  `json:"activeSectors"`
	FaultySectors   *uint64  `json:"faultySectors"`
	Failure         string   `json:"powerFailure,omitempty"`
}

func (PowerInfo) Source() Source     { return SourcePower }
func (p PowerInfo) ApplyTo(m *Miner) { m.Power = p }

// ReputationInfo is the miner's entry in the reputation index.
type ReputationInfo struct {
	Score           *float64 `json:"score"`
	Rank            *int64   `json:"rank"`
	DealsTotal      *int64   `json:"dealsTotal"`
	DealSuccessRate *float64 `json:"dealSuccessRate"`
	Reachability    *string  `json:"reachability"`
	Failure         string   `json:"reputationFailure,omitempty"`
}

func (ReputationInfo) Source() Source     { return SourceReputation }
func (r ReputationInfo) ApplyTo(m *Miner) { m.Reputation = r }

// IndexInfo reports whether the miner advertises content to the network indexer.
type IndexInfo struct {
	Indexed           *bool      `json:"indexed"`
	LastAdvertisement *time.Time `json:"lastAdvertisement"`
	Publisher         *string    `json:"publisher"`
	Failure           string     `json:"indexFailure,omitempty"`
}

func (IndexInfo) Source() Source     { return SourceIndex }
func (i IndexInfo) ApplyTo(m *Miner) { m.Index = i }

// Sentinel returns the failure group of a source: null fields, except the
// ask prices which take SentinelPrice.
func Sentinel(src Source, reason string) Enrichment {
	switch src {
	case SourceAsk:
		return FailedAsk(reason)
	case SourcePower:
		return PowerInfo{Failure: reason}
	case SourceReputation:
		return ReputationInfo{Failure: reason}
	default:
		return IndexInfo{Failure: reason}
	}
}

// DecodeEnrichment unmarshals a cached field group of src.
func DecodeEnrichment(src Source, payload []byte) (Enrichment, error) {
	switch src {
	case SourceAsk:
		return decode[AskInfo](payload)
	case SourcePower:
		return decode[PowerInfo](payload)
	case SourceReputation:
		return decode[ReputationInfo](payload)
	case SourceIndex:
		return decode[IndexInfo](payload)
	}
	return nil, eris.Errorf("model: unknown source %q", src)
}

func decode[T Enrichment](payload []byte) (Enrichment, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, eris.Wrapf(err, "model: decode %T", v)
	}
	return v, nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
