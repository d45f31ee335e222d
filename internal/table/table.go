// Package table is the in-memory entity table shared by the refresh loops
// and the read API.
package table

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/sells-group/market-cli/internal/model"
)

// Patch is a point update: Enrichment replaces the field group of its source
// and RefreshedAt stamps that source. Other groups are left untouched.
type Patch struct {
	ID          string
	Enrichment  model.Enrichment
	RefreshedAt time.Time
}

// Table holds one row per miner, keyed by miner ID.
type Table struct {
	mu   sync.RWMutex
	rows map[string]*model.Miner
}

// New creates an empty table.
func New() *Table {
	return &Table{rows: make(map[string]*model.Miner)}
}

// Load inserts rows. A row whose ID is already present only replaces the
// static annotation; duplicates within rows are merged.
func (t *Table) Load(rows []model.Miner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		existing, ok := t.rows[r.ID]
		if !ok {
			c := r.Clone()
			t.rows[r.ID] = &c
			continue
		}
		existing.Annotation = mergeAnnotation(existing.Annotation, r.Annotation)
	}
}

func mergeAnnotation(old, next model.Annotation) model.Annotation {
	out := next
	if out.State == "" {
		out.State, out.Extra = old.State, old.Extra
	}
	out.Stored = out.Stored || old.Stored
	out.Retrieved = out.Retrieved || old.Retrieved
	return out
}

// Update applies a patch. Unknown IDs are inserted as new rows.
func (t *Table) Update(p Patch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[p.ID]
	if !ok {
		m, err := model.NewMiner(p.ID)
		if err != nil {
			return err
		}
		row = &m
		t.rows[p.ID] = row
	}
	if row.Refreshed == nil {
		row.Refreshed = map[model.Source]time.Time{}
	}
	if p.Enrichment != nil {
		p.Enrichment.ApplyTo(row)
		row.Refreshed[p.Enrichment.Source()] = p.RefreshedAt
	}
	return nil
}

// Get returns a copy of one row.
func (t *Table) Get(id string) (model.Miner, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		return model.Miner{}, false
	}
	return row.Clone(), true
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// IDs returns every miner ID ordered by ordinal.
func (t *Table) IDs() []string {
	rows, _ := t.Snapshot(Query{})
	return lo.Map(rows, func(m model.Miner, _ int) string { return m.ID })
}

// Snapshot returns copies of the rows matching q, ordered by q.Sort. Rows
// that tie on every sort key are ordered by ordinal.
func (t *Table) Snapshot(q Query) ([]model.Miner, error) {
	filters, err := compileFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	rows := make([]model.Miner, 0, len(t.rows))
	for _, r := range t.rows {
		if matchAll(filters, r) {
			rows = append(rows, r.Clone())
		}
	}
	t.mu.RUnlock()

	slices.SortFunc(rows, func(a, b model.Miner) int {
		return cmp.Or(cmp.Compare(a.Ordinal, b.Ordinal), cmp.Compare(a.ID, b.ID))
	})
	if err := Sort(rows, q.Sort); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func matchAll(filters []compiledFilter, m *model.Miner) bool {
	for _, f := range filters {
		if !f.match(m) {
			return false
		}
	}
	return true
}
