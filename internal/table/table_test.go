package table

import (
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-cli/internal/model"
)

func miner(t *testing.T, id string, ann model.Annotation) model.Miner {
	t.Helper()
	m, err := model.NewMiner(id)
	require.NoError(t, err)
	m.Annotation = ann
	return m
}

func ids(rows []model.Miner) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func seeded(t *testing.T) *Table {
	t.Helper()
	tbl := New()
	tbl.Load([]model.Miner{
		miner(t, "f01000", model.NewAnnotation("active", "ok", true)),
		miner(t, "f0200", model.NewAnnotation("error", "timeout", false)),
		miner(t, "f03000", model.NewAnnotation("sealing", "", false)),
	})
	return tbl
}

func TestLoad_MergesDuplicates(t *testing.T) {
	tbl := New()
	tbl.Load([]model.Miner{
		miner(t, "f01000", model.NewAnnotation("active", "x", false)),
		miner(t, "f01000", model.Annotation{Retrieved: true}),
	})

	require.Equal(t, 1, tbl.Len())
	m, ok := tbl.Get("f01000")
	require.True(t, ok)
	assert.Equal(t, "active", m.Annotation.State)
	assert.True(t, m.Annotation.Stored)
	assert.True(t, m.Annotation.Retrieved)
}

func TestLoad_KeepsEnrichment(t *testing.T) {
	tbl := seeded(t)
	now := time.Unix(1000, 0)
	require.NoError(t, tbl.Update(Patch{
		ID:          "f01000",
		Enrichment:  model.ReputationInfo{Score: model.Ptr(97.5)},
		RefreshedAt: now,
	}))

	tbl.Load([]model.Miner{miner(t, "f01000", model.NewAnnotation("sealing", "", false))})

	m, _ := tbl.Get("f01000")
	require.NotNil(t, m.Reputation.Score)
	assert.Equal(t, 97.5, *m.Reputation.Score)
	assert.Equal(t, "sealing", m.Annotation.State)
	assert.Equal(t, now, m.Refreshed[model.SourceReputation])
}

func TestUpdate_LeavesOtherGroupsUntouched(t *testing.T) {
	tbl := seeded(t)
	price := big.NewInt(500)
	require.NoError(t, tbl.Update(Patch{ID: "f0200", Enrichment: model.AskInfo{Price: &price}, RefreshedAt: time.Unix(1, 0)}))
	require.NoError(t, tbl.Update(Patch{ID: "f0200", Enrichment: model.PowerInfo{LiveSectors: model.Ptr(uint64(7))}, RefreshedAt: time.Unix(2, 0)}))

	m, _ := tbl.Get("f0200")
	require.NotNil(t, m.Ask.Price)
	assert.Equal(t, int64(500), m.Ask.Price.Int64())
	assert.Equal(t, uint64(7), *m.Power.LiveSectors)
	assert.Len(t, m.Refreshed, 2)
}

func TestUpdate_InsertsUnknown(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Update(Patch{ID: "f0999", Enrichment: model.IndexInfo{Indexed: model.Ptr(true)}, RefreshedAt: time.Unix(1, 0)}))
	m, ok := tbl.Get("f0999")
	require.True(t, ok)
	assert.Equal(t, uint64(999), m.Ordinal)

	assert.Error(t, tbl.Update(Patch{ID: "bogus"}))
}

func TestSnapshot_DefaultOrderIsOrdinal(t *testing.T) {
	rows, err := seeded(t).Snapshot(Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"f0200", "f01000", "f03000"}, ids(rows))
}

func TestSnapshot_FiltersAndSort(t *testing.T) {
	tbl := seeded(t)

	rows, err := tbl.Snapshot(Query{
		Filters: []Filter{{Column: "stored", Op: OpEq, Value: "true"}},
		Sort:    []SortKey{{Column: "minerNum", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"f03000", "f01000"}, ids(rows))

	rows, err = tbl.Snapshot(Query{
		Filters: []Filter{
			{Column: "stored", Op: OpEq, Value: true},
			{Column: "retrieved", Op: OpNe, Value: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"f03000"}, ids(rows))

	rows, err = tbl.Snapshot(Query{Filters: []Filter{{Column: "minerNum", Op: OpGe, Value: 1000}}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"f01000"}, ids(rows))
}

func TestSnapshot_NullHandling(t *testing.T) {
	tbl := seeded(t)
	price := big.NewInt(10)
	require.NoError(t, tbl.Update(Patch{ID: "f03000", Enrichment: model.AskInfo{Price: &price}, RefreshedAt: time.Unix(5, 0)}))

	rows, err := tbl.Snapshot(Query{Filters: []Filter{{Column: "priceRaw", Op: OpIsNull}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f0200", "f01000"}, ids(rows))

	rows, err = tbl.Snapshot(Query{Filters: []Filter{{Column: "refreshed.ask", Op: OpNotNull}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f03000"}, ids(rows))

	// Null sorts first ascending, last descending.
	rows, err = tbl.Snapshot(Query{Sort: []SortKey{{Column: "priceRaw"}}})
	require.NoError(t, err)
	assert.Equal(t, "f03000", rows[2].ID)
	rows, err = tbl.Snapshot(Query{Sort: []SortKey{{Column: "priceRaw", Desc: true}}})
	require.NoError(t, err)
	assert.Equal(t, "f03000", rows[0].ID)

	rows, err = tbl.Snapshot(Query{Filters: []Filter{{Column: "priceRaw", Op: OpNe, Value: "10"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f0200", "f01000"}, ids(rows))
}

func TestColumns_PriceInFil(t *testing.T) {
	tbl := seeded(t)
	half, two, zero := big.NewInt(500_000_000_000_000_000), big.NewInt(2_000_000_000_000_000_000), big.Zero()
	require.NoError(t, tbl.Update(Patch{ID: "f0200", Enrichment: model.AskInfo{Price: &two, VerifiedPrice: &zero}, RefreshedAt: time.Unix(1, 0)}))
	require.NoError(t, tbl.Update(Patch{ID: "f01000", Enrichment: model.AskInfo{Price: &half}, RefreshedAt: time.Unix(1, 0)}))
	require.NoError(t, tbl.Update(Patch{ID: "f03000", Enrichment: model.FailedAsk("timeout"), RefreshedAt: time.Unix(1, 0)}))

	col, err := Lookup("priceFil")
	require.NoError(t, err)
	assert.Equal(t, KindFloat, col.Kind)

	m, _ := tbl.Get("f0200")
	assert.Equal(t, 2.0, col.Value(&m))
	verified, err := Lookup("verifiedPriceFil")
	require.NoError(t, err)
	assert.Equal(t, 0.0, verified.Value(&m))

	m, _ = tbl.Get("f01000")
	assert.Equal(t, 0.5, col.Value(&m))
	assert.Nil(t, verified.Value(&m))

	rows, err := tbl.Snapshot(Query{Sort: []SortKey{{Column: "priceFil"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f01000", "f0200", "f03000"}, ids(rows))

	rows, err = tbl.Snapshot(Query{Filters: []Filter{{Column: "priceFil", Op: OpLt, Value: "1"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f01000"}, ids(rows))
}

func TestSnapshot_MultiKeySort(t *testing.T) {
	tbl := seeded(t)
	rows, err := tbl.Snapshot(Query{Sort: []SortKey{
		{Column: "stored", Desc: true},
		{Column: "retrieved", Desc: true},
		{Column: "minerNum"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f01000", "f03000", "f0200"}, ids(rows))
}

func TestSnapshot_InvalidQuery(t *testing.T) {
	tbl := seeded(t)
	_, err := tbl.Snapshot(Query{Filters: []Filter{{Column: "nope", Op: OpEq, Value: 1}}})
	assert.Error(t, err)
	_, err = tbl.Snapshot(Query{Filters: []Filter{{Column: "stored", Op: "~", Value: 1}}})
	assert.Error(t, err)
	_, err = tbl.Snapshot(Query{Filters: []Filter{{Column: "minerNum", Op: OpEq, Value: "abc"}}})
	assert.Error(t, err)
	_, err = tbl.Snapshot(Query{Sort: []SortKey{{Column: "nope"}}})
	assert.Error(t, err)
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	tbl := seeded(t)
	rows, err := tbl.Snapshot(Query{})
	require.NoError(t, err)
	rows[0].Refreshed[model.SourceAsk] = time.Unix(1, 0)
	rows[0].Annotation.State = "mutated"

	m, _ := tbl.Get(rows[0].ID)
	assert.Empty(t, m.Refreshed)
	assert.NotEqual(t, "mutated", m.Annotation.State)
}

func TestTable_ConcurrentUpdateAndSnapshot(t *testing.T) {
	tbl := seeded(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tbl.Update(Patch{ID: "f01000", Enrichment: model.PowerInfo{LiveSectors: model.Ptr(uint64(i))}, RefreshedAt: time.Unix(int64(i), 0)})
		}()
		go func() {
			defer wg.Done()
			_, err := tbl.Snapshot(Query{Sort: []SortKey{{Column: "liveSectors"}}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, tbl.Len())
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp("=")
	require.NoError(t, err)
	assert.Equal(t, OpEq, op)
	op, err = ParseOp("IS NULL")
	require.NoError(t, err)
	assert.Equal(t, OpIsNull, op)
	_, err = ParseOp("like")
	assert.Error(t, err)

	desc, err := ParseSortDir("desc")
	require.NoError(t, err)
	assert.True(t, desc)
	_, err = ParseSortDir("sideways")
	assert.Error(t, err)
}
