package valuation

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// ConsumptionRecord is the portion of a consumption drawn from one layer.
//
// Under FIFO/LIFO UnitCost is the layer's own cost. Under weighted average every
// record carries the pool's blended cost at UnitCostPlaces, so the sum of
// Quantity*UnitCost over the records may differ from ConsumptionPlan.TotalCost
// in the last places; TotalCost is computed from the exact pool value.
type ConsumptionRecord struct {
	LayerID  id.ID       `json:"layerId"`
	Quantity int64       `json:"quantity"`
	UnitCost types.Money `json:"unitCost"`
}

// ConsumptionPlan is a computed, not yet persisted, consumption.
type ConsumptionPlan struct {
	ProductID id.ID               `json:"productId"`
	Method    Method              `json:"method"`
	Quantity  int64               `json:"quantity"`
	Records   []ConsumptionRecord `json:"consumedLayers"`
	TotalCost types.Money         `json:"totalCost"`
	UnitCost  types.Money         `json:"unitCost"`

	// Updated holds the touched layers with their new RemainingQuantity.
	// Version still carries the value read, for the optimistic check on write.
	Updated Layers `json:"-"`
}

// PlanConsumption computes how qty units are drawn from layers under method.
// Only consumable layers are considered. The input is never mutated: if the pool
// is short the plan fails with InsufficientStock and nothing has changed.
func PlanConsumption(productID id.ID, layers Layers, qty int64, method Method) (ConsumptionPlan, error) {
	if qty <= 0 {
		return ConsumptionPlan{}, apperror.NewValidation("quantity must be positive").
			WithDetail("quantity", qty)
	}
	if !method.IsValid() {
		return ConsumptionPlan{}, apperror.NewValidation("unknown valuation method").
			WithDetail("method", string(method))
	}

	ordered := SelectOrder(layers.Candidates(), method)
	available := ordered.RemainingQuantity()
	if available < qty {
		return ConsumptionPlan{}, apperror.NewInsufficientStock(productID.String(), qty, available)
	}

	plan, uncovered := drawUpTo(ordered, qty, method)
	plan.ProductID = productID
	if uncovered != 0 {
		// unreachable once availability is checked
		return ConsumptionPlan{}, apperror.NewInsufficientStock(productID.String(), qty, available)
	}
	return plan, nil
}

// drawUpTo consumes at most qty units from already ordered, consumable layers.
// It returns the plan for what was covered and the number of uncovered units.
func drawUpTo(ordered Layers, qty int64, method Method) (ConsumptionPlan, int64) {
	plan := ConsumptionPlan{
		Method:    method,
		TotalCost: types.Zero(),
		UnitCost:  types.Zero(),
	}

	available := ordered.RemainingQuantity()
	covered := qty
	if available < covered {
		covered = available
	}
	plan.Quantity = covered
	if covered == 0 {
		return plan, qty
	}

	if method.UsesLayerOrder() {
		drawInOrder(&plan, ordered, covered)
	} else {
		drawBlended(&plan, ordered, covered)
	}
	return plan, qty - covered
}

// drawInOrder walks FIFO/LIFO ordered layers taking min(left, remaining) from each.
func drawInOrder(plan *ConsumptionPlan, ordered Layers, qty int64) {
	left := qty
	total := types.Zero()
	for _, layer := range ordered {
		if left == 0 {
			break
		}
		take := min(left, layer.RemainingQuantity)
		if take == 0 {
			continue
		}

		total = total.Add(types.MulUnits(layer.UnitCost, take))
		layer.RemainingQuantity -= take
		left -= take

		plan.Records = append(plan.Records, ConsumptionRecord{
			LayerID:  layer.ID,
			Quantity: take,
			UnitCost: layer.UnitCost,
		})
		plan.Updated = append(plan.Updated, layer)
	}

	plan.TotalCost = types.RoundMoney(total)
	plan.UnitCost = types.DivUnits(total, qty)
}

// drawBlended costs qty units at the pool's blended unit cost and spreads the
// deduction over the layers in proportion to their remaining quantity.
func drawBlended(plan *ConsumptionPlan, ordered Layers, qty int64) {
	poolQty := ordered.RemainingQuantity()
	poolValue := ordered.RemainingValue()
	unitCost := types.DivUnits(poolValue, poolQty)

	plan.UnitCost = unitCost
	plan.TotalCost = types.MulUnits(poolValue, qty).DivRound(decimal.NewFromInt(poolQty), types.MoneyPlaces)

	takes := allocateProportionally(ordered, qty)
	for i, layer := range ordered {
		if takes[i] == 0 {
			continue
		}
		layer.RemainingQuantity -= takes[i]
		plan.Records = append(plan.Records, ConsumptionRecord{
			LayerID:  layer.ID,
			Quantity: takes[i],
			UnitCost: unitCost,
		})
		plan.Updated = append(plan.Updated, layer)
	}
}

// allocateProportionally splits qty over layers by the largest-remainder method:
// each layer first gets floor(qty*r/total), then the leftover units go one each to
// the layers with the largest fractional shares, earlier layers winning ties.
// Requires 0 < qty <= total. Every share stays within the layer's remaining quantity.
func allocateProportionally(layers Layers, qty int64) []int64 {
	total := big.NewInt(layers.RemainingQuantity())
	q := big.NewInt(qty)

	takes := make([]int64, len(layers))
	fracs := make([]*big.Int, len(layers))
	var assigned int64
	for i, l := range layers {
		num := new(big.Int).Mul(q, big.NewInt(l.RemainingQuantity))
		share, frac := new(big.Int).QuoRem(num, total, new(big.Int))
		takes[i] = share.Int64()
		fracs[i] = frac
		assigned += takes[i]
	}

	left := qty - assigned
	if left == 0 {
		return takes
	}

	idx := make([]int, len(layers))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return fracs[idx[a]].Cmp(fracs[idx[b]]) > 0
	})
	for _, i := range idx {
		if left == 0 {
			break
		}
		if takes[i] < layers[i].RemainingQuantity {
			takes[i]++
			left--
		}
	}
	return takes
}

// applyRemaining writes the RemainingQuantity of updated layers into layers, matched by ID.
func applyRemaining(layers Layers, updated Layers) {
	if len(updated) == 0 {
		return
	}
	byID := make(map[id.ID]int64, len(updated))
	for _, u := range updated {
		byID[u.ID] = u.RemainingQuantity
	}
	for i := range layers {
		if r, ok := byID[layers[i].ID]; ok {
			layers[i].RemainingQuantity = r
		}
	}
}
