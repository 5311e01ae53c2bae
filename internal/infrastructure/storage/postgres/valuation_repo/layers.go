// Package valuation_repo provides the PostgreSQL implementations of the valuation
// engine's repositories.
package valuation_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
	"costledger/internal/infrastructure/storage/postgres"
)

const layersTable = "cost_layers"

// Compile-time check that LayerRepo implements valuation.LayerRepository.
var _ valuation.LayerRepository = (*LayerRepo)(nil)

var (
	layerColumns = postgres.ExtractDBColumns[valuation.CostLayer]()

	// insertColumns leave seq, version and created_at to column defaults.
	insertColumns = without(layerColumns, "seq", "version", "created_at")
)

// LayerRepo implements valuation.LayerRepository.
type LayerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewLayerRepo creates a new cost layer repository.
func NewLayerRepo(txm *postgres.TxManager) *LayerRepo {
	return &LayerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// LockProduct takes a transaction-scoped advisory lock keyed by the product id.
// Every writer of the product's layers takes it first, so writers are serialized
// even when the product has no layer rows yet.
func (r *LayerRepo) LockProduct(ctx context.Context, productID id.ID) error {
	if r.txm.GetTx(ctx) == nil {
		return fmt.Errorf("lock product requires transaction context")
	}
	_, err := r.txm.GetQuerier(ctx).Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))", productID.String())
	if err != nil {
		return fmt.Errorf("lock product %s: %w", productID, err)
	}
	return nil
}

// Create inserts a layer and fills in the generated seq, version and created_at.
func (r *LayerRepo) Create(ctx context.Context, layer *valuation.CostLayer) error {
	sql, args, err := r.insertQuery(layer).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	row := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...)
	if err := row.Scan(&layer.Seq, &layer.Version, &layer.CreatedAt); err != nil {
		return fmt.Errorf("insert %s: %w", layersTable, err)
	}
	return nil
}

func (r *LayerRepo) insertQuery(layer *valuation.CostLayer) squirrel.InsertBuilder {
	data := postgres.StructToMap(layer)
	values := make(map[string]any, len(insertColumns))
	for _, c := range insertColumns {
		values[c] = data[c]
	}
	return r.builder.Insert(layersTable).
		SetMap(values).
		Suffix("RETURNING seq, version, created_at")
}

// CreateBatch bulk-loads layers with COPY. Seq is assigned by the column default in
// slice order; the returned layers carry version 1 and created_at but no seq.
func (r *LayerRepo) CreateBatch(ctx context.Context, layers []valuation.CostLayer) error {
	if len(layers) == 0 {
		return nil
	}

	now := time.Now().UTC()
	columns := append(append([]string(nil), insertColumns...), "version", "created_at")
	rows := make([][]any, 0, len(layers))
	for i := range layers {
		layers[i].Version = 1
		layers[i].CreatedAt = now
		rows = append(rows, postgres.StructValues(layers[i], columns))
	}

	inserter := postgres.NewBatchInserter(r.txm)
	if _, err := inserter.CopyFromSlice(ctx, layersTable, columns, rows); err != nil {
		return fmt.Errorf("copy layers: %w", err)
	}
	return nil
}

// Get returns one layer or NotFound.
func (r *LayerRepo) Get(ctx context.Context, layerID id.ID) (valuation.CostLayer, error) {
	sql, args, err := r.builder.Select(layerColumns...).
		From(layersTable).
		Where(squirrel.Eq{"id": layerID}).
		ToSql()
	if err != nil {
		return valuation.CostLayer{}, fmt.Errorf("build select: %w", err)
	}

	var layer valuation.CostLayer
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &layer, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return valuation.CostLayer{}, apperror.NewNotFound("cost layer", layerID)
		}
		return valuation.CostLayer{}, fmt.Errorf("get layer: %w", err)
	}
	return layer, nil
}

// ListByProduct returns the product's layers in acquisition order.
func (r *LayerRepo) ListByProduct(ctx context.Context, productID id.ID, filter valuation.LayerFilter) (valuation.Layers, error) {
	return r.selectLayers(ctx, r.listQuery(productID, filter))
}

func (r *LayerRepo) listQuery(productID id.ID, filter valuation.LayerFilter) squirrel.SelectBuilder {
	q := r.builder.Select(layerColumns...).
		From(layersTable).
		Where(squirrel.Eq{"product_id": productID}).
		OrderBy("acquisition_date", "seq")

	if filter.ActiveOnly {
		q = q.Where(squirrel.Eq{"is_active": true})
	}
	if filter.AcquiredBefore != nil {
		q = q.Where(squirrel.LtOrEq{"acquisition_date": *filter.AcquiredBefore})
	}
	return q
}

// ListForUpdate returns the consumable layers row-locked until the transaction ends.
func (r *LayerRepo) ListForUpdate(ctx context.Context, productID id.ID) (valuation.Layers, error) {
	if r.txm.GetTx(ctx) == nil {
		return nil, fmt.Errorf("list for update requires transaction context")
	}
	return r.selectLayers(ctx, r.forUpdateQuery(productID))
}

func (r *LayerRepo) forUpdateQuery(productID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(layerColumns...).
		From(layersTable).
		Where(squirrel.Eq{"product_id": productID, "is_active": true}).
		Where(squirrel.Gt{"remaining_quantity": 0}).
		OrderBy("acquisition_date", "seq").
		Suffix("FOR UPDATE")
}

func (r *LayerRepo) selectLayers(ctx context.Context, q squirrel.SelectBuilder) (valuation.Layers, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var layers valuation.Layers
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &layers, sql, args...); err != nil {
		return nil, fmt.Errorf("select layers: %w", err)
	}
	return layers, nil
}

// UpdateRemaining writes new remaining quantities in one round-trip. Each statement
// is guarded by the version read; any statement matching no row fails the whole
// call with ConcurrentModification.
func (r *LayerRepo) UpdateRemaining(ctx context.Context, layers valuation.Layers) error {
	if len(layers) == 0 {
		return nil
	}

	queries := make([]postgres.BatchQuery, 0, len(layers))
	for _, l := range layers {
		sql, args, err := r.updateRemainingQuery(l).ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		queries = append(queries, postgres.BatchQuery{SQL: sql, Args: args})
	}

	tags, err := postgres.NewBatchExecutor(r.txm).ExecuteBatch(ctx, queries)
	if err != nil {
		return fmt.Errorf("update remaining: %w", err)
	}
	for i, tag := range tags {
		if tag.RowsAffected() == 0 {
			return apperror.NewConcurrentModification(layersTable, layers[i].ID).
				WithDetail("version", layers[i].Version)
		}
	}
	return nil
}

func (r *LayerRepo) updateRemainingQuery(l valuation.CostLayer) squirrel.UpdateBuilder {
	return r.builder.Update(layersTable).
		Set("remaining_quantity", l.RemainingQuantity).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": l.ID, "version": l.Version, "is_active": true})
}

// Deactivate soft-deletes a layer with the same version check.
func (r *LayerRepo) Deactivate(ctx context.Context, layer valuation.CostLayer) error {
	sql, args, err := r.builder.Update(layersTable).
		Set("is_active", false).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": layer.ID, "version": layer.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("deactivate layer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(layersTable, layer.ID)
	}
	return nil
}

// ListProductIDs returns every product owning at least one layer.
func (r *LayerRepo) ListProductIDs(ctx context.Context) ([]id.ID, error) {
	sql, args, err := r.builder.Select("DISTINCT product_id").
		From(layersTable).
		OrderBy("product_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var ids []id.ID
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ids, sql, args...); err != nil {
		return nil, fmt.Errorf("list product ids: %w", err)
	}
	return ids, nil
}

func without(cols []string, drop ...string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, ok := skip[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
