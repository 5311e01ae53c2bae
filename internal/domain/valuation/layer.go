package valuation

import (
	"time"

	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// CostLayer is one acquisition batch of a product.
// Quantity, UnitCost and AcquisitionDate never change after creation;
// RemainingQuantity is decremented by consumption.
type CostLayer struct {
	ID                id.ID          `db:"id" json:"id"`
	Seq               int64          `db:"seq" json:"seq"`
	ProductID         id.ID          `db:"product_id" json:"productId"`
	Quantity          int64          `db:"quantity" json:"quantity"`
	UnitCost          types.Money    `db:"unit_cost" json:"unitCost"`
	RemainingQuantity int64          `db:"remaining_quantity" json:"remainingQuantity"`
	AcquisitionDate   time.Time      `db:"acquisition_date" json:"acquisitionDate"`
	ExpiryDate        *time.Time     `db:"expiry_date" json:"expiryDate,omitempty"`
	IsActive          bool           `db:"is_active" json:"isActive"`
	Metadata          map[string]any `db:"metadata" json:"metadata,omitempty"`
	Version           int64          `db:"version" json:"version"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
}

// RemainingValue is RemainingQuantity * UnitCost.
func (l CostLayer) RemainingValue() types.Money {
	return types.MulUnits(l.UnitCost, l.RemainingQuantity)
}

// IsConsumable reports whether new consumption may draw from the layer.
func (l CostLayer) IsConsumable() bool {
	return l.IsActive && l.RemainingQuantity > 0
}

// WasConsumed reports whether any unit of the layer has left stock.
func (l CostLayer) WasConsumed() bool {
	return l.RemainingQuantity < l.Quantity
}

// AvailableAt reports whether the layer had been acquired by t.
func (l CostLayer) AvailableAt(t time.Time) bool {
	return !l.AcquisitionDate.After(t)
}

// Layers is a product's set of cost layers.
type Layers []CostLayer

// Clone returns a deep-enough copy: mutating RemainingQuantity on the copy
// never affects the receiver.
func (ls Layers) Clone() Layers {
	out := make(Layers, len(ls))
	copy(out, ls)
	return out
}

// Candidates returns the layers new consumption may draw from.
func (ls Layers) Candidates() Layers {
	out := make(Layers, 0, len(ls))
	for _, l := range ls {
		if l.IsConsumable() {
			out = append(out, l)
		}
	}
	return out
}

// RemainingQuantity sums RemainingQuantity.
func (ls Layers) RemainingQuantity() int64 {
	var total int64
	for _, l := range ls {
		total += l.RemainingQuantity
	}
	return total
}

// RemainingValue sums RemainingQuantity * UnitCost. Exact.
func (ls Layers) RemainingValue() types.Money {
	total := types.Zero()
	for _, l := range ls {
		total = total.Add(l.RemainingValue())
	}
	return total
}

// AverageUnitCost returns the blended unit cost of the remaining pool,
// or zero for an empty pool.
func (ls Layers) AverageUnitCost() types.Money {
	return types.DivUnits(ls.RemainingValue(), ls.RemainingQuantity())
}

// AcquiredBy keeps layers with AcquisitionDate <= t.
func (ls Layers) AcquiredBy(t time.Time) Layers {
	out := make(Layers, 0, len(ls))
	for _, l := range ls {
		if l.AvailableAt(t) {
			out = append(out, l)
		}
	}
	return out
}
