// Package valuation provides the cost-layer inventory valuation engine: the ledger of
// acquisition batches per product, FIFO/LIFO/weighted-average consumption, point-in-time
// valuation and cost of goods sold.
package valuation

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/retry"
	"costledger/internal/core/tx"
	"costledger/internal/core/types"
	"costledger/pkg/logger"
)

var tracer = otel.Tracer("costledger/valuation")

// Deps are the collaborators of Service.
type Deps struct {
	Layers    LayerRepository
	Products  ProductReader
	Movements MovementReader
	TxManager tx.ReadOnlyManager

	// Audit receives a record for every mutation, inside its transaction. Optional.
	Audit AuditSink

	// Cache holds computed valuations. Optional.
	Cache Cache
}

// Config tunes Service behaviour.
type Config struct {
	// DefaultMethod is used when a call passes an empty Method.
	DefaultMethod Method

	// Fallback decides how COGS costs units missing a historical cost basis.
	Fallback FallbackPolicy

	// Retry bounds re-execution of mutations that hit a concurrent modification.
	Retry retry.Policy

	// Workers caps parallel per-product computations in ValuateAll.
	Workers int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMethod: MethodFIFO,
		Fallback:      FallbackZero,
		Retry:         retry.DefaultPolicy(),
		Workers:       8,
	}
}

// Service is the entry point used by the inventory and accounting modules.
type Service struct {
	layers    LayerRepository
	products  ProductReader
	movements MovementReader
	txm       tx.ReadOnlyManager
	audit     AuditSink
	cache     Cache
	cfg       Config
}

// NewService creates a valuation service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Audit == nil {
		deps.Audit = nopSink{}
	}
	if deps.Cache == nil {
		deps.Cache = nopCache{}
	}
	if !cfg.DefaultMethod.IsValid() {
		cfg.DefaultMethod = MethodFIFO
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackZero
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Service{
		layers:    deps.Layers,
		products:  deps.Products,
		movements: deps.Movements,
		txm:       deps.TxManager,
		audit:     deps.Audit,
		cache:     deps.Cache,
		cfg:       cfg,
	}
}

// AddLayerInput describes one acquisition batch.
type AddLayerInput struct {
	ProductID       id.ID          `validate:"required"`
	Quantity        int64          `validate:"gt=0"`
	UnitCost        types.Money    `validate:"-"`
	AcquisitionDate time.Time      // zero means now
	ExpiryDate      *time.Time     `validate:"-"`
	Metadata        map[string]any `validate:"-"`
}

// AddLayer records a new acquisition batch with RemainingQuantity = Quantity.
// Product.StockQuantity is not touched; callers that need both updated atomically
// call AddLayer with their transaction in ctx.
func (s *Service) AddLayer(ctx context.Context, in AddLayerInput) (CostLayer, error) {
	ctx, span := tracer.Start(ctx, "valuation.AddLayer", trace.WithAttributes(
		attribute.String("product_id", in.ProductID.String()),
		attribute.Int64("quantity", in.Quantity),
	))
	defer span.End()

	if err := validateAddLayer(in); err != nil {
		return CostLayer{}, err
	}

	layer := newLayer(in)
	_, err := s.mutate(ctx, []id.ID{in.ProductID}, func(ctx context.Context) ([]AuditRecord, error) {
		if _, err := s.products.GetProduct(ctx, in.ProductID); err != nil {
			return nil, err
		}
		created := layer
		if err := s.layers.Create(ctx, &created); err != nil {
			return nil, fmt.Errorf("create layer: %w", err)
		}
		layer = created
		return []AuditRecord{{Action: AuditLayerAdded, ProductID: in.ProductID, Payload: created}}, nil
	})
	if err != nil {
		return CostLayer{}, err
	}

	logger.Info(ctx, "cost layer added",
		"product_id", layer.ProductID,
		"layer_id", layer.ID,
		"quantity", layer.Quantity,
		"unit_cost", layer.UnitCost.String(),
	)
	return layer, nil
}

// ImportLayers loads many acquisition batches in one transaction, e.g. opening
// balances. Either every layer is created or none is.
func (s *Service) ImportLayers(ctx context.Context, inputs []AddLayerInput) ([]CostLayer, error) {
	ctx, span := tracer.Start(ctx, "valuation.ImportLayers", trace.WithAttributes(
		attribute.Int("layers", len(inputs)),
	))
	defer span.End()

	if len(inputs) == 0 {
		return nil, nil
	}
	for i, in := range inputs {
		if err := validateAddLayer(in); err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				appErr.WithDetail("index", i)
			}
			return nil, err
		}
	}

	layers := make([]CostLayer, len(inputs))
	byProduct := make(map[id.ID][]CostLayer)
	for i, in := range inputs {
		layers[i] = newLayer(in)
		byProduct[in.ProductID] = append(byProduct[in.ProductID], layers[i])
	}
	productIDs := make([]id.ID, 0, len(byProduct))
	for pid := range byProduct {
		productIDs = append(productIDs, pid)
	}

	_, err := s.mutate(ctx, productIDs, func(ctx context.Context) ([]AuditRecord, error) {
		found, err := s.products.GetProducts(ctx, productIDs)
		if err != nil {
			return nil, fmt.Errorf("get products: %w", err)
		}
		if missing := missingProduct(productIDs, found); !id.IsNil(missing) {
			return nil, apperror.NewNotFound("product", missing)
		}
		if err := s.layers.CreateBatch(ctx, layers); err != nil {
			return nil, fmt.Errorf("create layers: %w", err)
		}

		recs := make([]AuditRecord, 0, len(productIDs))
		for _, pid := range productIDs {
			recs = append(recs, AuditRecord{Action: AuditLayersImported, ProductID: pid, Payload: byProduct[pid]})
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "cost layers imported", "layers", len(layers), "products", len(productIDs))
	return layers, nil
}

// GetLayersForProduct returns the product's layers ordered by acquisition date
// then insertion order. The slice is a fresh copy on every call.
func (s *Service) GetLayersForProduct(ctx context.Context, productID id.ID, activeOnly bool) (Layers, error) {
	if id.IsNil(productID) {
		return nil, apperror.NewValidation("product id is required")
	}

	var layers Layers
	err := s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		if _, err := s.products.GetProduct(ctx, productID); err != nil {
			return err
		}
		var err error
		layers, err = s.layers.ListByProduct(ctx, productID, LayerFilter{ActiveOnly: activeOnly})
		return err
	})
	if err != nil {
		return nil, err
	}
	return layers, nil
}

// DeactivateLayer soft-deletes a layer. Inactive layers take no new consumption
// but stay visible to COGS if they were already consumed. Deactivating an inactive
// layer is a no-op.
func (s *Service) DeactivateLayer(ctx context.Context, layerID id.ID) error {
	ctx, span := tracer.Start(ctx, "valuation.DeactivateLayer", trace.WithAttributes(
		attribute.String("layer_id", layerID.String()),
	))
	defer span.End()

	if id.IsNil(layerID) {
		return apperror.NewValidation("layer id is required")
	}

	// The owning product is needed to take its lock; it never changes.
	var productID id.ID
	err := s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		layer, err := s.layers.Get(ctx, layerID)
		productID = layer.ProductID
		return err
	})
	if err != nil {
		return err
	}

	_, err = s.mutate(ctx, []id.ID{productID}, func(ctx context.Context) ([]AuditRecord, error) {
		layer, err := s.layers.Get(ctx, layerID)
		if err != nil {
			return nil, err
		}
		if !layer.IsActive {
			return nil, nil
		}
		if err := s.layers.Deactivate(ctx, layer); err != nil {
			return nil, err
		}
		return []AuditRecord{{Action: AuditLayerDeactivated, ProductID: productID, Payload: layer}}, nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "cost layer deactivated", "layer_id", layerID, "product_id", productID)
	return nil
}

// ConsumeInput requests quantity units of a product to leave stock.
type ConsumeInput struct {
	ProductID id.ID  `validate:"required"`
	Quantity  int64  `validate:"gt=0"`
	Method    Method `validate:"-"` // empty means Config.DefaultMethod
}

// ConsumptionResult is a persisted consumption.
type ConsumptionResult struct {
	ConsumptionPlan
	Attempts int `json:"attempts"`
}

// Consume deducts quantity units from the product's active layers under the method
// and returns the per-layer breakdown and total cost.
//
// The operation is all-or-nothing: layers are read under the product lock, the pool
// is checked for sufficiency, and only then are deductions written. A concurrent
// modification retries the whole operation with fresh reads.
func (s *Service) Consume(ctx context.Context, in ConsumeInput) (ConsumptionResult, error) {
	ctx, span := tracer.Start(ctx, "valuation.Consume", trace.WithAttributes(
		attribute.String("product_id", in.ProductID.String()),
		attribute.Int64("quantity", in.Quantity),
		attribute.String("method", string(in.Method)),
	))
	defer span.End()

	if err := validateStruct(in); err != nil {
		return ConsumptionResult{}, err
	}
	method, err := s.resolveMethod(in.Method)
	if err != nil {
		return ConsumptionResult{}, err
	}

	var plan ConsumptionPlan
	attempts, err := s.mutate(ctx, []id.ID{in.ProductID}, func(ctx context.Context) ([]AuditRecord, error) {
		if _, err := s.products.GetProduct(ctx, in.ProductID); err != nil {
			return nil, err
		}
		layers, err := s.layers.ListForUpdate(ctx, in.ProductID)
		if err != nil {
			return nil, fmt.Errorf("list layers for update: %w", err)
		}

		plan, err = PlanConsumption(in.ProductID, layers, in.Quantity, method)
		if err != nil {
			return nil, err
		}
		if err := s.layers.UpdateRemaining(ctx, plan.Updated); err != nil {
			return nil, err
		}
		return []AuditRecord{{Action: AuditLayersConsumed, ProductID: in.ProductID, Payload: plan}}, nil
	})
	if err != nil {
		if apperror.IsInsufficientStock(err) {
			logger.Warn(ctx, "consumption rejected: insufficient stock",
				"product_id", in.ProductID, "quantity", in.Quantity, "method", method)
		}
		return ConsumptionResult{}, err
	}

	logger.Info(ctx, "cost layers consumed",
		"product_id", in.ProductID,
		"method", method,
		"quantity", plan.Quantity,
		"total_cost", plan.TotalCost.String(),
		"layers", len(plan.Records),
		"attempts", attempts,
	)
	return ConsumptionResult{ConsumptionPlan: plan, Attempts: attempts}, nil
}

// ValuateProduct values the product's current stock under the method. asOf, when set,
// restricts the layers to those acquired by then. Products without stock or layers
// value at zero.
func (s *Service) ValuateProduct(ctx context.Context, productID id.ID, method Method, asOf *time.Time) (Valuation, error) {
	ctx, span := tracer.Start(ctx, "valuation.ValuateProduct", trace.WithAttributes(
		attribute.String("product_id", productID.String()),
	))
	defer span.End()

	if id.IsNil(productID) {
		return Valuation{}, apperror.NewValidation("product id is required")
	}
	method, err := s.resolveMethod(method)
	if err != nil {
		return Valuation{}, err
	}

	// a caller's transaction may hold uncommitted layer writes, so it bypasses the cache
	cached := !s.txm.InTransaction(ctx)
	key := CacheKey{ProductID: productID, Method: method, AsOf: asOf}
	if cached {
		if v, ok, err := s.cache.Get(ctx, key); err != nil {
			logger.Warn(ctx, "valuation cache read failed", "product_id", productID, "error", err)
		} else if ok {
			return v, nil
		}
	}

	var v Valuation
	err = s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		product, err := s.products.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		v, err = s.valuate(ctx, product, method, asOf)
		return err
	})
	if err != nil {
		return Valuation{}, err
	}

	if cached {
		if err := s.cache.Set(ctx, key, v); err != nil {
			logger.Warn(ctx, "valuation cache write failed", "product_id", productID, "error", err)
		}
	}
	return v, nil
}

// ValuateAll values every listed product (every product owning layers when
// productIDs is empty) and sums the results. An unknown id fails with NotFound.
// Products are valued in parallel, except inside a caller's transaction;
// each computation owns its own slot, nothing else is shared.
func (s *Service) ValuateAll(ctx context.Context, productIDs []id.ID, method Method) (Summary, error) {
	ctx, span := tracer.Start(ctx, "valuation.ValuateAll")
	defer span.End()

	method, err := s.resolveMethod(method)
	if err != nil {
		return Summary{}, err
	}

	if len(productIDs) == 0 {
		productIDs, err = s.layers.ListProductIDs(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("list products with layers: %w", err)
		}
	}
	products, err := s.products.GetProducts(ctx, productIDs)
	if err != nil {
		return Summary{}, fmt.Errorf("get products: %w", err)
	}
	if missing := missingProduct(productIDs, products); !id.IsNil(missing) {
		return Summary{}, apperror.NewNotFound("product", missing)
	}
	sort.Slice(products, func(i, j int) bool {
		return bytes.Compare(products[i].ID[:], products[j].ID[:]) < 0
	})

	// a caller's transaction is a single connection; its queries must not overlap
	workers := s.cfg.Workers
	if s.txm.InTransaction(ctx) {
		workers = 1
	}

	items := make([]Valuation, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range products {
		g.Go(func() error {
			return s.txm.ReadOnly(gctx, func(ctx context.Context) error {
				v, err := s.valuate(ctx, p, method, nil)
				if err != nil {
					return fmt.Errorf("valuate product %s: %w", p.ID, err)
				}
				items[i] = v
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summarize(method, items)
	span.SetAttributes(attribute.Int("products", summary.ProductCount))
	return summary, nil
}

func (s *Service) valuate(ctx context.Context, product Product, method Method, asOf *time.Time) (Valuation, error) {
	layers, err := s.layers.ListByProduct(ctx, product.ID, LayerFilter{ActiveOnly: true, AcquiredBefore: asOf})
	if err != nil {
		return Valuation{}, fmt.Errorf("list layers: %w", err)
	}
	return ValuateLayers(product, layers, method, asOf), nil
}

// CalculateCOGS returns quantity sold and its cost for OUT movements of the product
// created within [from, to]. Movements lacking historical cost basis are costed by
// the configured fallback policy and reported as warnings.
func (s *Service) CalculateCOGS(ctx context.Context, productID id.ID, from, to time.Time, method Method) (COGSResult, error) {
	ctx, span := tracer.Start(ctx, "valuation.CalculateCOGS", trace.WithAttributes(
		attribute.String("product_id", productID.String()),
	))
	defer span.End()

	if id.IsNil(productID) {
		return COGSResult{}, apperror.NewValidation("product id is required")
	}
	if from.After(to) {
		return COGSResult{}, apperror.NewValidation("start date must not be after end date").
			WithDetail("from", from).WithDetail("to", to)
	}
	method, err := s.resolveMethod(method)
	if err != nil {
		return COGSResult{}, err
	}

	var (
		layers    Layers
		movements []StockMovement
	)
	err = s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		if _, err := s.products.GetProduct(ctx, productID); err != nil {
			return err
		}
		var err error
		layers, err = s.layers.ListByProduct(ctx, productID, LayerFilter{AcquiredBefore: &to})
		if err != nil {
			return fmt.Errorf("list layers: %w", err)
		}
		movements, err = s.movements.ListOutbound(ctx, productID, to)
		if err != nil {
			return fmt.Errorf("list outbound movements: %w", err)
		}
		return nil
	})
	if err != nil {
		return COGSResult{}, err
	}

	result, err := SimulateCOGS(productID, layers, movements, from, to, method, s.cfg.Fallback)
	if err != nil {
		return COGSResult{}, err
	}

	for _, w := range result.Warnings {
		logger.Warn(ctx, "cost basis incomplete",
			"product_id", productID,
			"movement_id", w.MovementID,
			"uncovered", w.Uncovered,
			"fallback_unit_cost", w.FallbackUnitCost.String(),
			"policy", s.cfg.Fallback,
		)
	}
	return result, nil
}

// Drift compares a product's on-hand quantity with its valuation pool.
type Drift struct {
	ProductID     id.ID `json:"productId"`
	StockQuantity int64 `json:"stockQuantity"`
	LayerQuantity int64 `json:"layerQuantity"`
	Difference    int64 `json:"difference"` // StockQuantity - LayerQuantity
}

// InSync reports whether stock and pool agree.
func (d Drift) InSync() bool { return d.Difference == 0 }

// Reconcile reports, per product, the difference between Product.StockQuantity and
// the remaining quantity of its active layers. Both are read in one snapshot.
// An unknown id fails with NotFound.
func (s *Service) Reconcile(ctx context.Context, productIDs []id.ID) ([]Drift, error) {
	var drifts []Drift
	err := s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		ids := productIDs
		if len(ids) == 0 {
			var err error
			if ids, err = s.layers.ListProductIDs(ctx); err != nil {
				return fmt.Errorf("list products with layers: %w", err)
			}
		}
		products, err := s.products.GetProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("get products: %w", err)
		}
		if missing := missingProduct(ids, products); !id.IsNil(missing) {
			return apperror.NewNotFound("product", missing)
		}
		for _, p := range products {
			layers, err := s.layers.ListByProduct(ctx, p.ID, LayerFilter{ActiveOnly: true})
			if err != nil {
				return fmt.Errorf("list layers: %w", err)
			}
			pool := layers.RemainingQuantity()
			drifts = append(drifts, Drift{
				ProductID:     p.ID,
				StockQuantity: p.StockQuantity,
				LayerQuantity: pool,
				Difference:    p.StockQuantity - pool,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range drifts {
		if !d.InSync() {
			logger.Warn(ctx, "stock and cost layers diverge",
				"product_id", d.ProductID, "stock", d.StockQuantity, "layers", d.LayerQuantity)
		}
	}
	return drifts, nil
}

// mutate is the transactional boundary of every ledger mutation. It runs fn in a
// transaction that holds the locks of productIDs (taken in a fixed order), records
// fn's audit records in the same transaction, retries the whole unit on concurrent
// modification, and drops cached valuations of the products once the writes commit.
//
// When ctx already carries a caller's transaction the caller owns commit and retry,
// so fn runs once.
func (s *Service) mutate(ctx context.Context, productIDs []id.ID, fn func(ctx context.Context) ([]AuditRecord, error)) (int, error) {
	ids := make([]id.ID, len(productIDs))
	copy(ids, productIDs)
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	policy := s.cfg.Retry
	if s.txm.InTransaction(ctx) {
		policy.MaxAttempts = 1
	}

	notify := func(attempt int, err error, delay time.Duration) {
		logger.Warn(ctx, "ledger conflict, retrying",
			"products", len(ids), "attempt", attempt, "delay", delay, "error", err)
	}

	attempts, err := retry.Do(ctx, policy, apperror.IsConcurrentModification, notify, func(ctx context.Context) error {
		return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			for _, pid := range ids {
				if err := s.layers.LockProduct(ctx, pid); err != nil {
					return err
				}
			}
			recs, err := fn(ctx)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := s.audit.Record(ctx, rec); err != nil {
					return fmt.Errorf("audit %s: %w", rec.Action, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return attempts, err
	}

	// inside a caller's transaction the writes become visible only on its commit
	s.txm.AfterCommit(ctx, func(ctx context.Context) {
		for _, pid := range ids {
			if err := s.cache.InvalidateProduct(ctx, pid); err != nil {
				logger.Warn(ctx, "valuation cache invalidation failed", "product_id", pid, "error", err)
			}
		}
	})
	return attempts, nil
}

func (s *Service) resolveMethod(m Method) (Method, error) {
	if m == "" {
		return s.cfg.DefaultMethod, nil
	}
	if !m.IsValid() {
		return "", apperror.NewValidation("unknown valuation method").WithDetail("method", string(m))
	}
	return m, nil
}

func newLayer(in AddLayerInput) CostLayer {
	acquired := in.AcquisitionDate
	if acquired.IsZero() {
		acquired = time.Now().UTC()
	}
	return CostLayer{
		ID:                id.New(),
		ProductID:         in.ProductID,
		Quantity:          in.Quantity,
		UnitCost:          in.UnitCost,
		RemainingQuantity: in.Quantity,
		AcquisitionDate:   acquired,
		ExpiryDate:        in.ExpiryDate,
		IsActive:          true,
		Metadata:          in.Metadata,
	}
}

func missingProduct(want []id.ID, found []Product) id.ID {
	have := make(map[id.ID]struct{}, len(found))
	for _, p := range found {
		have[p.ID] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return w
		}
	}
	return id.ID{}
}
