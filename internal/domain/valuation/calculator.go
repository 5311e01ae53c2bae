package valuation

import (
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// Product is the slice of the inventory module's product the engine reads.
type Product struct {
	ID                id.ID `db:"id" json:"id"`
	StockQuantity     int64 `db:"stock_quantity" json:"stockQuantity"`
	LowStockThreshold int64 `db:"low_stock_threshold" json:"lowStockThreshold"`
}

// Valuation is a point-in-time value of one product's stock.
type Valuation struct {
	ProductID      id.ID       `json:"productId"`
	Method         Method      `json:"method"`
	UnitCost       types.Money `json:"unitCost"`
	TotalValue     types.Money `json:"totalValue"`
	CurrentStock   int64       `json:"currentStock"`
	CoveredUnits   int64       `json:"coveredUnits"`
	BelowThreshold bool        `json:"belowThreshold"`
	AsOf           *time.Time  `json:"asOf,omitempty"`
}

// ValuateLayers values product.StockQuantity units against the product's layers.
//
// FIFO/LIFO walk the ordered active layers until the stock is covered; the unit cost
// is the blend of what was walked. Weighted average values the whole stock at the
// pool's blended cost. When asOf is set, only layers acquired by then count.
// No stock or no layers yields zeros.
func ValuateLayers(product Product, layers Layers, method Method, asOf *time.Time) Valuation {
	v := Valuation{
		ProductID:      product.ID,
		Method:         method,
		UnitCost:       types.Zero(),
		TotalValue:     types.Zero(),
		CurrentStock:   product.StockQuantity,
		BelowThreshold: product.StockQuantity <= product.LowStockThreshold,
		AsOf:           asOf,
	}

	pool := layers.Candidates()
	if asOf != nil {
		pool = pool.AcquiredBy(*asOf)
	}

	stock := product.StockQuantity
	poolQty := pool.RemainingQuantity()
	if stock <= 0 || poolQty == 0 {
		return v
	}

	if method.UsesLayerOrder() {
		total, covered := walkValue(SelectOrder(pool, method), stock)
		v.CoveredUnits = covered
		v.TotalValue = types.RoundMoney(total)
		v.UnitCost = types.DivUnits(total, covered)
		return v
	}

	poolValue := pool.RemainingValue()
	v.CoveredUnits = min(stock, poolQty)
	v.UnitCost = types.DivUnits(poolValue, poolQty)
	v.TotalValue = types.MulUnits(poolValue, stock).DivRound(decimal.NewFromInt(poolQty), types.MoneyPlaces)
	return v
}

// walkValue accumulates min(left, remaining)*unitCost over ordered layers until
// units are covered, returning the exact value and the units actually covered.
func walkValue(ordered Layers, units int64) (types.Money, int64) {
	total := types.Zero()
	left := units
	for _, l := range ordered {
		if left == 0 {
			break
		}
		take := min(left, l.RemainingQuantity)
		total = total.Add(types.MulUnits(l.UnitCost, take))
		left -= take
	}
	return total, units - left
}

// Summary aggregates valuations across products.
type Summary struct {
	Method        Method      `json:"method"`
	TotalValue    types.Money `json:"totalValue"`
	TotalQuantity int64       `json:"totalQuantity"`
	ProductCount  int         `json:"productCount"`
	BelowCount    int         `json:"belowThresholdCount"`
	Items         []Valuation `json:"items"`
}

// Summarize sums per-product valuations.
func Summarize(method Method, items []Valuation) Summary {
	s := Summary{
		Method:     method,
		TotalValue: types.Zero(),
		Items:      items,
	}
	for _, v := range items {
		s.TotalValue = s.TotalValue.Add(v.TotalValue)
		s.TotalQuantity += v.CurrentStock
		s.ProductCount++
		if v.BelowThreshold {
			s.BelowCount++
		}
	}
	return s
}
