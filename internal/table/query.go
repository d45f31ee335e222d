package table

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
)

// Op is a filter operator.
type Op string

const (
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpIsNull  Op = "is null"
	OpNotNull Op = "is not null"
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
)

var ops = []Op{OpEq, OpNe, OpIsNull, OpNotNull, OpLt, OpLe, OpGt, OpGe}

// Filter restricts a snapshot to rows whose column satisfies Op against Value.
// Null never compares equal, so OpNe matches null rows.
type Filter struct {
	Column string `yaml:"column" json:"column"`
	Op     Op     `yaml:"op" json:"op"`
	Value  any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// SortKey orders a snapshot by one column.
type SortKey struct {
	Column string `yaml:"column" json:"column"`
	Desc   bool   `yaml:"desc,omitempty" json:"desc,omitempty"`
}

// Query describes a snapshot read: all filters must match (implicit AND),
// rows are ordered by Sort, and at most Limit rows are returned (0 = all).
// Columns is carried for readers that project rows; Snapshot ignores it.
type Query struct {
	Columns []string  `yaml:"columns,omitempty" json:"columns,omitempty"`
	Filters []Filter  `yaml:"filters" json:"filters"`
	Sort    []SortKey `yaml:"sort" json:"sort"`
	Limit   int       `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// ParseOp validates an operator name, accepting "=" as "==".
func ParseOp(s string) (Op, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "=" {
		return OpEq, nil
	}
	for _, op := range ops {
		if string(op) == s {
			return op, nil
		}
	}
	return "", eris.Errorf("table: unknown operator %q", s)
}

// ParseSortDir maps "asc"/"desc" to a SortKey direction.
func ParseSortDir(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return false, nil
	case "desc":
		return true, nil
	}
	return false, eris.Errorf("table: unknown sort direction %q", s)
}

type compiledFilter struct {
	col   Column
	op    Op
	value any
}

func compileFilters(filters []Filter) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		col, err := Lookup(f.Column)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(ops, f.Op) {
			return nil, eris.Errorf("table: unknown operator %q on %s", f.Op, f.Column)
		}
		cf := compiledFilter{col: col, op: f.Op}
		if f.Op != OpIsNull && f.Op != OpNotNull {
			v, err := coerce(col.Kind, f.Value)
			if err != nil {
				return nil, eris.Wrapf(err, "table: filter on %s", f.Column)
			}
			cf.value = v
		}
		out = append(out, cf)
	}
	return out, nil
}

func (f compiledFilter) match(m *model.Miner) bool {
	v := f.col.Value(m)
	switch f.op {
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	case OpNe:
		return v == nil || compare(f.col.Kind, v, f.value) != 0
	}
	if v == nil {
		return false
	}
	c := compare(f.col.Kind, v, f.value)
	switch f.op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

type compiledSortKey struct {
	col  Column
	desc bool
}

// Sort orders rows in place by keys. Ties keep their relative order.
func Sort(rows []model.Miner, keys []SortKey) error {
	compiled := make([]compiledSortKey, 0, len(keys))
	for _, k := range keys {
		col, err := Lookup(k.Column)
		if err != nil {
			return err
		}
		compiled = append(compiled, compiledSortKey{col: col, desc: k.Desc})
	}
	slices.SortStableFunc(rows, func(a, b model.Miner) int {
		for _, k := range compiled {
			c := compareNullable(k.col.Kind, k.col.Value(&a), k.col.Value(&b))
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}
