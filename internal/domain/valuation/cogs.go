package valuation

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// MovementType is the kind of a stock movement recorded by the inventory module.
type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementTransfer   MovementType = "TRANSFER"
)

// StockMovement is an immutable movement record. The engine only reads them.
type StockMovement struct {
	ID        id.ID        `db:"id" json:"id"`
	ProductID id.ID        `db:"product_id" json:"productId"`
	Type      MovementType `db:"type" json:"type"`
	Quantity  int64        `db:"quantity" json:"quantity"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// FallbackPolicy decides how COGS costs units of an outbound movement that the
// layers available at its timestamp cannot cover.
type FallbackPolicy string

const (
	// FallbackZero costs uncovered units at zero.
	FallbackZero FallbackPolicy = "zero"

	// FallbackLastKnownCost costs uncovered units at the last unit cost seen in the
	// replay, or the newest layer acquired by the movement time, or zero.
	FallbackLastKnownCost FallbackPolicy = "last_known_cost"

	// FallbackFail aborts the calculation with CostBasisIncomplete.
	FallbackFail FallbackPolicy = "fail"
)

// ParseFallbackPolicy validates a policy name.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch p := FallbackPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FallbackZero, FallbackLastKnownCost, FallbackFail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cost basis fallback policy %q", s)
	}
}

// CostBasisIncomplete describes an outbound movement recorded without enough
// historical layer coverage.
type CostBasisIncomplete struct {
	MovementID       id.ID       `json:"movementId"`
	MovementAt       time.Time   `json:"movementAt"`
	Requested        int64       `json:"requested"`
	Uncovered        int64       `json:"uncovered"`
	FallbackUnitCost types.Money `json:"fallbackUnitCost"`
}

// COGSResult is the cost of goods sold for one product over a period.
type COGSResult struct {
	ProductID id.ID                 `json:"productId"`
	Method    Method                `json:"method"`
	From      time.Time             `json:"from"`
	To        time.Time             `json:"to"`
	Quantity  int64                 `json:"quantity"`
	Cost      types.Money           `json:"cost"`
	Movements int                   `json:"movements"`
	Warnings  []CostBasisIncomplete `json:"warnings,omitempty"`
}

// SimulateCOGS replays outbound movements against a local copy of the product's
// layers and sums the cost of those inside [from, to].
//
// Every layer that took part in history (active, or inactive but consumed) starts
// at its original quantity. Movements before from are replayed only to deplete the
// copy. Each movement draws from layers acquired at or before its timestamp, and
// the depletion carries forward to later movements. layers is not modified.
func SimulateCOGS(productID id.ID, layers Layers, movements []StockMovement, from, to time.Time, method Method, policy FallbackPolicy) (COGSResult, error) {
	result := COGSResult{
		ProductID: productID,
		Method:    method,
		From:      from,
		To:        to,
		Cost:      types.Zero(),
	}

	local := historicalPool(layers)
	outs := outboundUntil(movements, to)

	var lastKnown *types.Money
	for _, m := range outs {
		eligible := SelectOrder(local.AcquiredBy(m.CreatedAt).Candidates(), method)
		plan, uncovered := drawUpTo(eligible, m.Quantity, method)
		applyRemaining(local, plan.Updated)

		if plan.Quantity > 0 {
			uc := plan.UnitCost
			lastKnown = &uc
		}

		if m.CreatedAt.Before(from) {
			continue
		}

		cost := plan.TotalCost
		if uncovered > 0 {
			if policy == FallbackFail {
				return COGSResult{}, apperror.NewCostBasisIncomplete(productID.String(), m.ID, uncovered).
					WithDetail("movement_at", m.CreatedAt)
			}

			fallback := fallbackUnitCost(policy, lastKnown, local, m.CreatedAt)
			cost = cost.Add(types.RoundMoney(types.MulUnits(fallback, uncovered)))
			result.Warnings = append(result.Warnings, CostBasisIncomplete{
				MovementID:       m.ID,
				MovementAt:       m.CreatedAt,
				Requested:        m.Quantity,
				Uncovered:        uncovered,
				FallbackUnitCost: fallback,
			})
		}

		result.Quantity += m.Quantity
		result.Cost = result.Cost.Add(cost)
		result.Movements++
	}

	return result, nil
}

// historicalPool copies layers that can have backed past movements, reset to
// their original quantity and made consumable for the replay.
func historicalPool(layers Layers) Layers {
	out := make(Layers, 0, len(layers))
	for _, l := range layers {
		if !l.IsActive && !l.WasConsumed() {
			continue
		}
		l.RemainingQuantity = l.Quantity
		l.IsActive = true
		out = append(out, l)
	}
	return out
}

// outboundUntil keeps positive OUT movements at or before to, ascending by time.
func outboundUntil(movements []StockMovement, to time.Time) []StockMovement {
	out := make([]StockMovement, 0, len(movements))
	for _, m := range movements {
		if m.Type != MovementOut || m.Quantity <= 0 || m.CreatedAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func fallbackUnitCost(policy FallbackPolicy, lastKnown *types.Money, local Layers, at time.Time) types.Money {
	if policy != FallbackLastKnownCost {
		return types.Zero()
	}
	if lastKnown != nil {
		return *lastKnown
	}

	acquired := SelectOrder(local.AcquiredBy(at), MethodLIFO)
	if len(acquired) > 0 {
		return acquired[0].UnitCost
	}
	return types.Zero()
}
