package valuation

import (
	"context"
	"time"

	"costledger/internal/core/id"
)

// LayerRepository persists cost layers.
// Mutating methods must be called inside a transaction from tx.Manager.
type LayerRepository interface {
	// LockProduct takes the exclusive, transaction-scoped lock on a product's layer set.
	LockProduct(ctx context.Context, productID id.ID) error

	// Create inserts a layer and fills in Seq, Version and CreatedAt.
	Create(ctx context.Context, layer *CostLayer) error

	// CreateBatch inserts many layers at once (opening balances).
	CreateBatch(ctx context.Context, layers []CostLayer) error

	// Get returns one layer or NotFound.
	Get(ctx context.Context, layerID id.ID) (CostLayer, error)

	// ListByProduct returns the product's layers ordered by (acquisition_date, seq).
	ListByProduct(ctx context.Context, productID id.ID, filter LayerFilter) (Layers, error)

	// ListForUpdate returns the product's active layers with remaining stock,
	// row-locked until the transaction ends.
	ListForUpdate(ctx context.Context, productID id.ID) (Layers, error)

	// UpdateRemaining writes new remaining quantities. Each layer's Version must still
	// match the stored one, otherwise ConcurrentModification is returned and the
	// caller's transaction must be rolled back.
	UpdateRemaining(ctx context.Context, layers Layers) error

	// Deactivate soft-deletes a layer, checking Version like UpdateRemaining.
	Deactivate(ctx context.Context, layer CostLayer) error

	// ListProductIDs returns every product that owns at least one layer.
	ListProductIDs(ctx context.Context) ([]id.ID, error)
}

// LayerFilter narrows ListByProduct.
type LayerFilter struct {
	ActiveOnly     bool
	AcquiredBefore *time.Time // inclusive
}

// ProductReader reads products owned by the inventory module.
type ProductReader interface {
	// GetProduct returns the product or NotFound.
	GetProduct(ctx context.Context, productID id.ID) (Product, error)

	// GetProducts returns the existing products among ids; missing ids are skipped.
	GetProducts(ctx context.Context, productIDs []id.ID) ([]Product, error)
}

// MovementReader reads stock movements recorded by the inventory module.
type MovementReader interface {
	// ListOutbound returns OUT movements of the product created at or before until,
	// ascending by created_at.
	ListOutbound(ctx context.Context, productID id.ID, until time.Time) ([]StockMovement, error)
}
