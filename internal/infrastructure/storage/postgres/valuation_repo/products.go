package valuation_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
	"costledger/internal/infrastructure/storage/postgres"
)

const productsTable = "products"

var _ valuation.ProductReader = (*ProductRepo)(nil)

var productColumns = postgres.ExtractDBColumns[valuation.Product]()

// ProductRepo reads the inventory module's products.
type ProductRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewProductRepo creates a new product reader.
func NewProductRepo(txm *postgres.TxManager) *ProductRepo {
	return &ProductRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetProduct returns the product or NotFound.
func (r *ProductRepo) GetProduct(ctx context.Context, productID id.ID) (valuation.Product, error) {
	sql, args, err := r.builder.Select(productColumns...).
		From(productsTable).
		Where(squirrel.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return valuation.Product{}, fmt.Errorf("build select: %w", err)
	}

	var p valuation.Product
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return valuation.Product{}, apperror.NewNotFound("product", productID)
		}
		return valuation.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// GetProducts returns the existing products among productIDs, ordered by id.
func (r *ProductRepo) GetProducts(ctx context.Context, productIDs []id.ID) ([]valuation.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	sql, args, err := r.manyQuery(productIDs).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var products []valuation.Product
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &products, sql, args...); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return products, nil
}

func (r *ProductRepo) manyQuery(productIDs []id.ID) squirrel.SelectBuilder {
	return r.builder.Select(productColumns...).
		From(productsTable).
		Where(squirrel.Eq{"id": productIDs}).
		OrderBy("id")
}
