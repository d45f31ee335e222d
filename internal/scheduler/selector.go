package scheduler

import (
	"time"

	"github.com/samber/lo"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/table"
)

// DefaultSort orders candidates within a staleness group: stored and
// retrieved miners first, then by ordinal.
var DefaultSort = []table.SortKey{
	{Column: "stored", Desc: true},
	{Column: "retrieved", Desc: true},
	{Column: "minerNum"},
}

// Selector picks the next miners to refresh for one source.
type Selector struct {
	Source    model.Source
	TTL       time.Duration
	BatchSize int
	// Filters restrict candidates (e.g. the index source needs a peer ID).
	Filters []table.Filter
	// Sort orders each staleness group. Nil means DefaultSort.
	Sort []table.SortKey
}

// Batch is the outcome of one selection.
type Batch struct {
	IDs []string
	// Never and Stale count all candidates found before truncation.
	Never int
	Stale int
}

// Query returns the table query that yields this source's candidate rows.
func (s Selector) Query() table.Query {
	return table.Query{Filters: s.Filters}
}

func (s Selector) sortKeys() []table.SortKey {
	if s.Sort == nil {
		return DefaultSort
	}
	return s.Sort
}

// IsStale reports whether a miner refreshed at last is due at now. A zero
// time means never refreshed. The comparison is strict: a row exactly TTL
// old is still fresh.
func (s Selector) IsStale(last, now time.Time) bool {
	return last.IsZero() || now.Sub(last) > s.TTL
}

// Select returns up to BatchSize candidate IDs: every never-refreshed row,
// then every stale row, each group in sort order. rows is not modified.
func (s Selector) Select(rows []model.Miner, now time.Time) (Batch, error) {
	never, stale := lo.FilterReject(rows, func(m model.Miner, _ int) bool {
		_, ok := m.LastRefreshed(s.Source)
		return !ok
	})
	stale = lo.Filter(stale, func(m model.Miner, _ int) bool {
		last, _ := m.LastRefreshed(s.Source)
		return s.IsStale(last, now)
	})

	if err := table.Sort(never, s.sortKeys()); err != nil {
		return Batch{}, err
	}
	if err := table.Sort(stale, s.sortKeys()); err != nil {
		return Batch{}, err
	}

	b := Batch{Never: len(never), Stale: len(stale)}
	ordered := append(never, stale...)
	if s.BatchSize > 0 && len(ordered) > s.BatchSize {
		ordered = ordered[:s.BatchSize]
	}
	b.IDs = lo.Map(ordered, func(m model.Miner, _ int) string { return m.ID })
	return b, nil
}
