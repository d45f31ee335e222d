// Package lotus provides a JSON-RPC client for the subset of the Filecoin
// full node API used to enrich miners: miner info, storage asks, power,
// sector counts and actor balances.
package lotus

import (
	"context"
	"net/http"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/rotisserie/eris"
)

// ErrNotSupported is returned when the remote node does not expose a method.
var ErrNotSupported = eris.New("lotus: method not supported")

// TipSetKey selects the chain head a state query runs against. Each element
// is a CID in its JSON form ({"/": "bafy..."}).
type TipSetKey []map[string]string

// EmptyTSK queries the current head.
var EmptyTSK = TipSetKey{}

// MinerInfo is the on-chain information of a miner actor.
type MinerInfo struct {
	Owner      address.Address `json:"Owner"`
	Worker     address.Address `json:"Worker"`
	PeerId     *string         `json:"PeerId"` //nolint:revive
	Multiaddrs [][]byte        `json:"Multiaddrs"`
	SectorSize abi.SectorSize  `json:"SectorSize"`
}

// StorageAsk is a miner's current deal terms.
type StorageAsk struct {
	Price         abi.TokenAmount     `json:"Price"`
	VerifiedPrice abi.TokenAmount     `json:"VerifiedPrice"`
	MinPieceSize  abi.PaddedPieceSize `json:"MinPieceSize"`
	MaxPieceSize  abi.PaddedPieceSize `json:"MaxPieceSize"`
	Miner         address.Address     `json:"Miner"`
	Timestamp     abi.ChainEpoch      `json:"Timestamp"`
	Expiry        abi.ChainEpoch      `json:"Expiry"`
	SeqNo         uint64              `json:"SeqNo"`
}

// SignedStorageAsk is a StorageAsk with the miner's signature.
type SignedStorageAsk struct {
	Ask       *StorageAsk    `json:"Ask"`
	Signature map[string]any `json:"Signature"`
}

// Claim is a power claim.
type Claim struct {
	RawBytePower    abi.StoragePower `json:"RawBytePower"`
	QualityAdjPower abi.StoragePower `json:"QualityAdjPower"`
}

// MinerPower is a miner's claim alongside the network total.
type MinerPower struct {
	MinerPower  Claim `json:"MinerPower"`
	TotalPower  Claim `json:"TotalPower"`
	HasMinPower bool  `json:"HasMinPower"`
}

// MinerSectors counts a miner's sectors by state.
type MinerSectors struct {
	Live   uint64 `json:"Live"`
	Active uint64 `json:"Active"`
	Faulty uint64 `json:"Faulty"`
}

// FullNode is the node API subset used by the enrichers.
type FullNode interface {
	StateMinerInfo(ctx context.Context, maddr address.Address, tsk TipSetKey) (MinerInfo, error)
	ClientQueryAsk(ctx context.Context, peerID string, maddr address.Address) (*SignedStorageAsk, error)
	StateMinerPower(ctx context.Context, maddr address.Address, tsk TipSetKey) (*MinerPower, error)
	StateMinerSectorCount(ctx context.Context, maddr address.Address, tsk TipSetKey) (MinerSectors, error)
	WalletBalance(ctx context.Context, addr address.Address) (big.Int, error)
}

// FullNodeStruct is filled in by the JSON-RPC client.
type FullNodeStruct struct {
	Internal struct {
		StateMinerInfo        func(context.Context, address.Address, TipSetKey) (MinerInfo, error)
		ClientQueryAsk        func(context.Context, string, address.Address) (*SignedStorageAsk, error)
		StateMinerPower       func(context.Context, address.Address, TipSetKey) (*MinerPower, error)
		StateMinerSectorCount func(context.Context, address.Address, TipSetKey) (MinerSectors, error)
		WalletBalance         func(context.Context, address.Address) (big.Int, error)
	}
}

var _ FullNode = (*FullNodeStruct)(nil)

func (s *FullNodeStruct) StateMinerInfo(ctx context.Context, maddr address.Address, tsk TipSetKey) (MinerInfo, error) {
	if s.Internal.StateMinerInfo == nil {
		return MinerInfo{}, ErrNotSupported
	}
	return s.Internal.StateMinerInfo(ctx, maddr, tsk)
}

func (s *FullNodeStruct) ClientQueryAsk(ctx context.Context, peerID string, maddr address.Address) (*SignedStorageAsk, error) {
	if s.Internal.ClientQueryAsk == nil {
		return nil, ErrNotSupported
	}
	return s.Internal.ClientQueryAsk(ctx, peerID, maddr)
}

func (s *FullNodeStruct) StateMinerPower(ctx context.Context, maddr address.Address, tsk TipSetKey) (*MinerPower, error) {
	if s.Internal.StateMinerPower == nil {
		return nil, ErrNotSupported
	}
	return s.Internal.StateMinerPower(ctx, maddr, tsk)
}

func (s *FullNodeStruct) StateMinerSectorCount(ctx context.Context, maddr address.Address, tsk TipSetKey) (MinerSectors, error) {
	if s.Internal.StateMinerSectorCount == nil {
		return MinerSectors{}, ErrNotSupported
	}
	return s.Internal.StateMinerSectorCount(ctx, maddr, tsk)
}

func (s *FullNodeStruct) WalletBalance(ctx context.Context, addr address.Address) (big.Int, error) {
	if s.Internal.WalletBalance == nil {
		return big.Zero(), ErrNotSupported
	}
	return s.Internal.WalletBalance(ctx, addr)
}

// Option configures Dial.
type Option func(*dialOpts)

type dialOpts struct {
	token   string
	timeout time.Duration
}

// WithToken sends the token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(o *dialOpts) { o.token = token }
}

// WithTimeout bounds each request at the transport level. Callers normally
// bound calls with their context instead.
func WithTimeout(d time.Duration) Option {
	return func(o *dialOpts) { o.timeout = d }
}

// Dial connects to a node at addr (http(s) or ws(s)). The returned closer
// must be called to release the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (FullNode, jsonrpc.ClientCloser, error) {
	o := dialOpts{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	header := http.Header{}
	if o.token != "" {
		header.Set("Authorization", "Bearer "+o.token)
	}

	var res FullNodeStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Filecoin",
		[]interface{}{&res.Internal},
		header,
		jsonrpc.WithTimeout(o.timeout),
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "lotus: dial %s", addr)
	}
	return &res, closer, nil
}
