package valuation

import (
	"context"
	"fmt"
	"time"

	"costledger/internal/core/id"
)

// Cache stores computed valuations. Implementations expire entries after their TTL
// and drop every entry of a product on InvalidateProduct. The service invalidates
// after each committed mutation of the product's layers.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (Valuation, bool, error)
	Set(ctx context.Context, key CacheKey, v Valuation) error
	InvalidateProduct(ctx context.Context, productID id.ID) error
}

// CacheKey identifies one cached valuation.
type CacheKey struct {
	ProductID id.ID
	Method    Method
	AsOf      *time.Time
}

// Field renders the per-product part of the key.
func (k CacheKey) Field() string {
	if k.AsOf == nil {
		return fmt.Sprintf("%s|now", k.Method)
	}
	return fmt.Sprintf("%s|%d", k.Method, k.AsOf.UTC().UnixNano())
}

type nopCache struct{}

func (nopCache) Get(context.Context, CacheKey) (Valuation, bool, error) { return Valuation{}, false, nil }
func (nopCache) Set(context.Context, CacheKey, Valuation) error         { return nil }
func (nopCache) InvalidateProduct(context.Context, id.ID) error         { return nil }
