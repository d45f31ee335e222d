package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReporter struct{ h SourceHealth }

func (r staticReporter) Status() SourceHealth { return r.h }

type rowCount int

func (n rowCount) Len() int { return int(n) }

func TestCollector_Collect(t *testing.T) {
	m := NewMetrics()
	c := NewCollector(rowCount(7), m,
		staticReporter{SourceHealth{Source: "ask", Outstanding: 3, Refreshed: 10}},
		staticReporter{SourceHealth{Source: "power", Refreshed: 4}},
	)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Rows)
	assert.Equal(t, fixed, snap.CollectedAt)
	require.Len(t, snap.Sources, 2)

	ask, ok := snap.Source("ask")
	require.True(t, ok)
	assert.Equal(t, int64(10), ask.Refreshed)

	_, ok = snap.Source("index")
	assert.False(t, ok)

	body := scrape(t, m)
	assert.Contains(t, body, "market_table_rows 7")
	assert.Contains(t, body, `market_refresh_outstanding{source="ask"} 3`)
}

func TestCollector_NoRowsNoMetrics(t *testing.T) {
	c := NewCollector(nil, nil, staticReporter{SourceHealth{Source: "index"}})

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Rows)
	assert.Len(t, snap.Sources, 1)
}

func TestCollector_CancelledContext(t *testing.T) {
	c := NewCollector(rowCount(1), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
