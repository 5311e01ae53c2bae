package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// BatchInserter provides bulk insert operations using the COPY protocol.
// Used for opening-balance imports where thousands of layers arrive at once.
type BatchInserter struct {
	txManager *TxManager
}

// NewBatchInserter creates a new batch inserter.
func NewBatchInserter(txManager *TxManager) *BatchInserter {
	return &BatchInserter{txManager: txManager}
}

// CopyFromSlice performs bulk insert from a slice of rows.
func (b *BatchInserter) CopyFromSlice(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx := b.txManager.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("CopyFromSlice requires transaction context")
	}

	return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// BatchExecutor sends many statements in a single round-trip.
type BatchExecutor struct {
	txManager *TxManager
}

// NewBatchExecutor creates a new batch executor.
func NewBatchExecutor(txManager *TxManager) *BatchExecutor {
	return &BatchExecutor{txManager: txManager}
}

// BatchQuery represents a query in a batch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// ExecuteBatch executes queries in order and returns their command tags, so callers
// can check rows affected per statement.
func (e *BatchExecutor) ExecuteBatch(ctx context.Context, queries []BatchQuery) ([]pgconn.CommandTag, error) {
	tx := e.txManager.GetTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("ExecuteBatch requires transaction context")
	}

	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q.SQL, q.Args...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	tags := make([]pgconn.CommandTag, 0, len(queries))
	for i := range queries {
		tag, err := results.Exec()
		if err != nil {
			return nil, fmt.Errorf("batch query %d failed: %w", i, err)
		}
		tags = append(tags, tag)
	}

	return tags, nil
}
