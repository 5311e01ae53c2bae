package valuation_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
	"costledger/internal/infrastructure/storage/postgres"
)

const movementsTable = "stock_movements"

var _ valuation.MovementReader = (*MovementRepo)(nil)

// MovementRepo reads stock movements. The engine never writes them.
type MovementRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewMovementRepo creates a new movement reader.
func NewMovementRepo(txm *postgres.TxManager) *MovementRepo {
	return &MovementRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// ListOutbound returns OUT movements created at or before until, oldest first.
func (r *MovementRepo) ListOutbound(ctx context.Context, productID id.ID, until time.Time) ([]valuation.StockMovement, error) {
	sql, args, err := r.outboundQuery(productID, until).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var movements []valuation.StockMovement
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("list outbound movements: %w", err)
	}
	return movements, nil
}

func (r *MovementRepo) outboundQuery(productID id.ID, until time.Time) squirrel.SelectBuilder {
	return r.builder.Select("id", "product_id", "type", "quantity", "created_at").
		From(movementsTable).
		Where(squirrel.Eq{"product_id": productID, "type": string(valuation.MovementOut)}).
		Where(squirrel.LtOrEq{"created_at": until}).
		OrderBy("created_at", "id")
}
