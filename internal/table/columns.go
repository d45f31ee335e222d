package table

import (
	"cmp"
	"fmt"
	mathbig "math/big"
	"strconv"
	"strings"
	"time"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
)

// Kind is the value type of a column.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindUint
	KindInt
	KindFloat
	KindBig
	KindTime
)

// Column is a named, typed accessor over a Miner. get returns nil for null.
type Column struct {
	Name string
	Kind Kind
	get  func(m *model.Miner) any
}

// Value returns the column value for m, or nil when the field is null.
func (c Column) Value(m *model.Miner) any { return c.get(m) }

var columns = map[string]Column{}

func register(name string, kind Kind, get func(m *model.Miner) any) {
	columns[name] = Column{Name: name, Kind: kind, get: get}
}

func init() {
	register("miner", KindString, func(m *model.Miner) any { return m.ID })
	register("minerNum", KindUint, func(m *model.Miner) any { return m.Ordinal })
	register("annotationState", KindString, func(m *model.Miner) any { return m.Annotation.State })
	register("annotationExtra", KindString, func(m *model.Miner) any { return m.Annotation.Extra })
	register("stored", KindBool, func(m *model.Miner) any { return m.Annotation.Stored })
	register("retrieved", KindBool, func(m *model.Miner) any { return m.Annotation.Retrieved })

	register("peerId", KindString, func(m *model.Miner) any { return deref(m.Ask.PeerID) })
	register("priceRaw", KindBig, func(m *model.Miner) any { return bigValue(m.Ask.Price) })
	register("verifiedPrice", KindBig, func(m *model.Miner) any { return bigValue(m.Ask.VerifiedPrice) })
	register("priceFil", KindFloat, func(m *model.Miner) any { return filValue(m.Ask.Price) })
	register("verifiedPriceFil", KindFloat, func(m *model.Miner) any { return filValue(m.Ask.VerifiedPrice) })
	register("minPieceSize", KindUint, func(m *model.Miner) any { return deref(m.Ask.MinPieceSize) })
	register("maxPieceSize", KindUint, func(m *model.Miner) any { return deref(m.Ask.MaxPieceSize) })

	register("rawPower", KindBig, func(m *model.Miner) any { return bigValue(m.Power.RawPower) })
	register("qualityAdjPower", KindBig, func(m *model.Miner) any { return bigValue(m.Power.QualityAdjPower) })
	register("balance", KindBig, func(m *model.Miner) any { return bigValue(m.Power.Balance) })
	register("liveSectors", KindUint, func(m *model.Miner) any { return deref(m.Power.LiveSectors) })
	register("activeSectors", KindUint, func(m *model.Miner) any { return deref(m.Power.ActiveSectors) })
	register("faultySectors", KindUint, func(m *model.Miner) any { return deref(m.Power.FaultySectors) })

	register("score", KindFloat, func(m *model.Miner) any { return deref(m.Reputation.Score) })
	register("rank", KindInt, func(m *model.Miner) any { return deref(m.Reputation.Rank) })
	register("dealsTotal", KindInt, func(m *model.Miner) any { return deref(m.Reputation.DealsTotal) })
	register("dealSuccessRate", KindFloat, func(m *model.Miner) any { return deref(m.Reputation.DealSuccessRate) })
	register("reachability", KindString, func(m *model.Miner) any { return deref(m.Reputation.Reachability) })

	register("indexed", KindBool, func(m *model.Miner) any { return deref(m.Index.Indexed) })
	register("lastAdvertisement", KindTime, func(m *model.Miner) any { return deref(m.Index.LastAdvertisement) })
	register("publisher", KindString, func(m *model.Miner) any { return deref(m.Index.Publisher) })

	for _, src := range model.AllSources {
		register(RefreshedColumn(src), KindTime, func(m *model.Miner) any {
			if t, ok := m.Refreshed[src]; ok {
				return t
			}
			return nil
		})
	}
}

// RefreshedColumn names the last-refresh timestamp column of a source.
func RefreshedColumn(src model.Source) string { return "refreshed." + string(src) }

// Lookup resolves a column by name.
func Lookup(name string) (Column, error) {
	c, ok := columns[name]
	if !ok {
		return Column{}, eris.Errorf("table: unknown column %q", name)
	}
	return c, nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func bigValue(p *big.Int) any {
	if p == nil || p.Int == nil {
		return nil
	}
	return *p
}

// attoPerFil is the number of attoFIL in one FIL.
var attoPerFil = new(mathbig.Float).SetInt(mathbig.NewInt(0).Exp(mathbig.NewInt(10), mathbig.NewInt(18), nil))

// filValue converts an attoFIL amount to FIL. The sentinel price converts
// too, so it still sorts after every real ask.
func filValue(p *big.Int) any {
	if p == nil || p.Int == nil {
		return nil
	}
	f, _ := new(mathbig.Float).Quo(new(mathbig.Float).SetInt(p.Int), attoPerFil).Float64()
	return f
}

// compare orders two non-null values of the same kind.
func compare(kind Kind, a, b any) int {
	switch kind {
	case KindString:
		return strings.Compare(a.(string), b.(string))
	case KindBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case KindUint:
		return cmp.Compare(a.(uint64), b.(uint64))
	case KindInt:
		return cmp.Compare(a.(int64), b.(int64))
	case KindFloat:
		return cmp.Compare(a.(float64), b.(float64))
	case KindBig:
		return big.Cmp(a.(big.Int), b.(big.Int))
	case KindTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return 0
}

// compareNullable orders values with null before any value.
func compareNullable(kind Kind, a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return compare(kind, a, b)
}

// coerce converts a filter operand to the column's value type. Strings are
// parsed, which lets view files and query strings use plain text.
func coerce(kind Kind, v any) (any, error) {
	if s, ok := v.(string); ok && kind != KindString {
		return parse(kind, s)
	}
	switch kind {
	case KindString:
		return fmt.Sprint(v), nil
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindUint:
		switch n := v.(type) {
		case uint64:
			return n, nil
		case uint:
			return uint64(n), nil
		case int:
			if n >= 0 {
				return uint64(n), nil
			}
		case int64:
			if n >= 0 {
				return uint64(n), nil
			}
		}
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case uint64:
			return int64(n), nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindBig:
		switch n := v.(type) {
		case big.Int:
			return n, nil
		case *big.Int:
			if n != nil {
				return *n, nil
			}
		case int:
			return big.NewInt(int64(n)), nil
		case int64:
			return big.NewInt(n), nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	}
	return nil, eris.Errorf("table: cannot use %v (%T) as column value", v, v)
}

func parse(kind Kind, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(s)
		return b, eris.Wrapf(err, "table: parse bool %q", s)
	case KindUint:
		n, err := strconv.ParseUint(s, 10, 64)
		return n, eris.Wrapf(err, "table: parse uint %q", s)
	case KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, eris.Wrapf(err, "table: parse int %q", s)
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		return f, eris.Wrapf(err, "table: parse float %q", s)
	case KindBig:
		b, err := big.FromString(s)
		return b, eris.Wrapf(err, "table: parse big int %q", s)
	case KindTime:
		t, err := time.Parse(time.RFC3339, s)
		return t, eris.Wrapf(err, "table: parse time %q", s)
	}
	return s, nil
}
