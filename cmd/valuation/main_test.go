package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
)

func TestProductList(t *testing.T) {
	ids, err := productList("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	a, b := id.New(), id.New()
	ids, err = productList(a.String() + "," + b.String())
	require.NoError(t, err)
	assert.Equal(t, []id.ID{a, b}, ids)

	_, err = productList("not-a-uuid")
	assert.Error(t, err)
}

func TestOptionalMethod(t *testing.T) {
	m, err := optionalMethod("")
	require.NoError(t, err)
	assert.Equal(t, valuation.Method(""), m)

	m, err = optionalMethod("LIFO")
	require.NoError(t, err)
	assert.Equal(t, valuation.MethodLIFO, m)

	_, err = optionalMethod("AVCO")
	assert.Error(t, err)
}

func TestImportRowDecoding(t *testing.T) {
	pid := id.New()
	raw := `[{"productId":"` + pid.String() + `","quantity":10,"unitCost":"5.50",` +
		`"acquisitionDate":"2024-01-01T00:00:00Z","metadata":{"supplier":"acme"}}]`

	var rows []importRow
	require.NoError(t, json.Unmarshal([]byte(raw), &rows))
	require.Len(t, rows, 1)

	in := valuation.AddLayerInput(rows[0])
	assert.Equal(t, pid, in.ProductID)
	assert.Equal(t, int64(10), in.Quantity)
	assert.Equal(t, "5.5", in.UnitCost.String())
	assert.Nil(t, in.ExpiryDate)
	assert.Equal(t, "acme", in.Metadata["supplier"])
}

func TestCommandsHaveUsage(t *testing.T) {
	for name, cmd := range commands {
		assert.NotEmpty(t, cmd.usage, name)
		assert.NotNil(t, cmd.run, name)
	}
}
