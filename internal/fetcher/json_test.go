package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectJSONArray(t *testing.T) {
	got, err := CollectJSONArray[string](context.Background(), strings.NewReader(`["f01234", "f05678"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"f01234", "f05678"}, got)
}

func TestCollectJSONArray_Empty(t *testing.T) {
	got, err := CollectJSONArray[string](context.Background(), strings.NewReader(``))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = CollectJSONArray[string](context.Background(), strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCollectJSONArray_NotArray(t *testing.T) {
	_, err := CollectJSONArray[string](context.Background(), strings.NewReader(`{"f01234": "active"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestCollectJSONArray_BadElement(t *testing.T) {
	_, err := CollectJSONArray[string](context.Background(), strings.NewReader(`["f01234", 7]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode element")
}

func TestDecodeJSONArray_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// More elements than the channel buffer, so the producer must block.
	input := "[" + strings.Repeat(`"f01",`, 200) + `"f01"]`
	items, errs := DecodeJSONArray[string](ctx, strings.NewReader(input))
	for range items {
	}
	err := <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestDecodeJSONObject(t *testing.T) {
	m, err := DecodeJSONObject[map[string]string](strings.NewReader(`{"f01234": "active, sealing 4 sectors"}`))
	require.NoError(t, err)
	assert.Equal(t, "active, sealing 4 sectors", (*m)["f01234"])

	_, err = DecodeJSONObject[map[string]string](strings.NewReader(`[`))
	assert.Error(t, err)
}
