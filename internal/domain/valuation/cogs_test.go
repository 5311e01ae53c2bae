package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

func sale(productID id.ID, at string, qty int64) StockMovement {
	return StockMovement{ID: id.New(), ProductID: productID, Type: MovementOut, Quantity: qty, CreatedAt: date(at)}
}

func consumed(l CostLayer, units int64) CostLayer {
	l.RemainingQuantity -= units
	return l
}

func TestSimulateCOGS_SingleMovement(t *testing.T) {
	pid := id.New()
	a, b := layersAB(pid)
	// the ledger as it stands today, after the sale depleted it
	layers := Layers{consumed(a, 10), consumed(b, 2)}

	res, err := SimulateCOGS(pid, layers, []StockMovement{sale(pid, "2024-02-15", 12)},
		date("2024-02-01"), date("2024-02-28"), MethodFIFO, FallbackZero)

	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Quantity)
	assert.True(t, types.MustMoney("64").Equal(res.Cost), "cost %s", res.Cost)
	assert.Equal(t, 1, res.Movements)
	assert.Empty(t, res.Warnings)

	// the replay works on a copy
	assert.Equal(t, int64(0), layers[0].RemainingQuantity)
	assert.Equal(t, int64(8), layers[1].RemainingQuantity)
}

func TestSimulateCOGS_PreRangeMovementsDepleteOnly(t *testing.T) {
	pid := id.New()
	a, b := layersAB(pid)
	movements := []StockMovement{
		sale(pid, "2024-02-15", 12),
		sale(pid, "2024-01-10", 6),
	}

	res, err := SimulateCOGS(pid, Layers{a, b}, movements,
		date("2024-02-01"), date("2024-02-28"), MethodFIFO, FallbackZero)

	require.NoError(t, err)
	// January sale took 6 of A; February takes 4 of A and 8 of B
	assert.Equal(t, int64(12), res.Quantity)
	assert.True(t, types.MustMoney("76").Equal(res.Cost), "cost %s", res.Cost)
	assert.Equal(t, 1, res.Movements)
}

func TestSimulateCOGS_MovementOnlySeesLayersAcquiredByThen(t *testing.T) {
	pid := id.New()
	a, b := layersAB(pid)

	// LIFO on 2024-01-20 cannot reach B, acquired on 2024-02-01
	res, err := SimulateCOGS(pid, Layers{a, b}, []StockMovement{sale(pid, "2024-01-20", 3)},
		date("2024-01-01"), date("2024-03-01"), MethodLIFO, FallbackZero)

	require.NoError(t, err)
	assert.True(t, types.MustMoney("15").Equal(res.Cost))
}

func TestSimulateCOGS_IgnoresNonOutboundAndOutOfRange(t *testing.T) {
	pid := id.New()
	a, b := layersAB(pid)
	in := sale(pid, "2024-02-10", 5)
	in.Type = MovementIn
	late := sale(pid, "2024-03-10", 5)

	res, err := SimulateCOGS(pid, Layers{a, b}, []StockMovement{in, late},
		date("2024-02-01"), date("2024-02-28"), MethodFIFO, FallbackZero)

	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Quantity)
	assert.True(t, res.Cost.IsZero())
}

func TestSimulateCOGS_InactiveLayers(t *testing.T) {
	pid := id.New()
	a, b := layersAB(pid)

	unused := a
	unused.IsActive = false

	res, err := SimulateCOGS(pid, Layers{unused, b}, []StockMovement{sale(pid, "2024-02-15", 2)},
		date("2024-02-01"), date("2024-02-28"), MethodFIFO, FallbackZero)
	require.NoError(t, err)
	assert.True(t, types.MustMoney("14").Equal(res.Cost), "an unconsumed inactive layer is ignored")

	used := consumed(a, 2)
	used.IsActive = false

	res, err = SimulateCOGS(pid, Layers{used, b}, []StockMovement{sale(pid, "2024-02-15", 2)},
		date("2024-02-01"), date("2024-02-28"), MethodFIFO, FallbackZero)
	require.NoError(t, err)
	assert.True(t, types.MustMoney("10").Equal(res.Cost), "a consumed inactive layer keeps its history")
}

func TestSimulateCOGS_FallbackPolicies(t *testing.T) {
	pid := id.New()
	a, _ := layersAB(pid)
	movements := []StockMovement{
		sale(pid, "2024-01-10", 4),
		sale(pid, "2024-01-20", 8), // only 6 of A are left
	}
	from, to := date("2024-01-01"), date("2024-01-31")

	t.Run("zero", func(t *testing.T) {
		res, err := SimulateCOGS(pid, Layers{a}, movements, from, to, MethodFIFO, FallbackZero)
		require.NoError(t, err)
		assert.Equal(t, int64(12), res.Quantity)
		assert.True(t, types.MustMoney("50").Equal(res.Cost), "cost %s", res.Cost)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, int64(2), res.Warnings[0].Uncovered)
		assert.Equal(t, int64(8), res.Warnings[0].Requested)
		assert.Equal(t, movements[1].ID, res.Warnings[0].MovementID)
	})

	t.Run("last known cost", func(t *testing.T) {
		res, err := SimulateCOGS(pid, Layers{a}, movements, from, to, MethodFIFO, FallbackLastKnownCost)
		require.NoError(t, err)
		assert.True(t, types.MustMoney("60").Equal(res.Cost), "cost %s", res.Cost)
		require.Len(t, res.Warnings, 1)
		assert.True(t, types.MustMoney("5").Equal(res.Warnings[0].FallbackUnitCost))
	})

	t.Run("fail", func(t *testing.T) {
		_, err := SimulateCOGS(pid, Layers{a}, movements, from, to, MethodFIFO, FallbackFail)
		require.Error(t, err)
		assert.True(t, apperror.IsCostBasisIncomplete(err))
	})
}

func TestSimulateCOGS_LastKnownCostWithoutHistory(t *testing.T) {
	pid := id.New()
	later := testLayer(pid, 1, "2024-03-01", 5, "9")

	res, err := SimulateCOGS(pid, Layers{later}, []StockMovement{sale(pid, "2024-02-01", 3)},
		date("2024-01-01"), date("2024-12-31"), MethodFIFO, FallbackLastKnownCost)

	require.NoError(t, err)
	// nothing was acquired by the movement date, so there is no known cost
	assert.True(t, res.Cost.IsZero())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, int64(3), res.Warnings[0].Uncovered)
}

func TestSimulateCOGS_WeightedAverage(t *testing.T) {
	pid := id.New()
	a, b := layersAB(pid)

	res, err := SimulateCOGS(pid, Layers{a, b}, []StockMovement{sale(pid, "2024-02-15", 10)},
		date("2024-02-01"), date("2024-02-28"), MethodWeightedAverage, FallbackZero)

	require.NoError(t, err)
	assert.True(t, types.MustMoney("60").Equal(res.Cost))
}

func TestParseFallbackPolicy(t *testing.T) {
	p, err := ParseFallbackPolicy("Last_Known_Cost")
	assert.NoError(t, err)
	assert.Equal(t, FallbackLastKnownCost, p)

	_, err = ParseFallbackPolicy("guess")
	assert.Error(t, err)
}
