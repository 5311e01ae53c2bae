package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appctx "costledger/internal/core/context"
	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
)

// Compile-time check that AuditService can be injected as the service's audit sink.
var _ valuation.AuditSink = (*AuditService)(nil)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry represents a single row of sys_audit.
type AuditEntry struct {
	ID                id.ID                 `db:"id"`
	ProductID         id.ID                 `db:"product_id"`
	Action            valuation.AuditAction `db:"action"`
	ActorID           string                `db:"actor_id"`
	ActorSource       string                `db:"actor_source"`
	RequestID         string                `db:"request_id"`
	Changes           json.RawMessage       `db:"changes"`
	ChangesCompressed []byte                `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo       `db:"compression_algo"`
	CreatedAt         time.Time             `db:"created_at"`
}

// AuditService writes ledger mutations to sys_audit inside the mutation's transaction.
// Large payloads (bulk imports, wide consumptions) are stored zstd-compressed.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes
}

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
	}, nil
}

// Record implements valuation.AuditSink.
func (s *AuditService) Record(ctx context.Context, rec valuation.AuditRecord) error {
	changes, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return s.Log(ctx, AuditEntry{
		ProductID: rec.ProductID,
		Action:    rec.Action,
		Changes:   changes,
	})
}

// Log records an audit entry. It must run inside a transaction so that the entry
// commits or rolls back with the mutation it describes.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	tx := s.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("audit log requires transaction context")
	}

	entry = s.prepare(ctx, entry)

	_, err := tx.Exec(ctx, `
		INSERT INTO sys_audit (
			id, product_id, action, actor_id, actor_source, request_id,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID, entry.ProductID, entry.Action, entry.ActorID, entry.ActorSource, entry.RequestID,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// prepare fills ids, actor, timestamp and compresses oversized payloads.
func (s *AuditService) prepare(ctx context.Context, entry AuditEntry) AuditEntry {
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if actor := appctx.GetActor(ctx); actor != nil && entry.ActorID == "" {
		entry.ActorID = actor.ID
		entry.ActorSource = actor.Source
	}
	if entry.RequestID == "" {
		entry.RequestID = appctx.GetRequestID(ctx)
	}

	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) > s.compressThreshold {
		entry.ChangesCompressed = s.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}
	return entry
}

// decode restores a compressed payload in place.
func (s *AuditService) decode(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	decompressed, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	e.Changes = decompressed
	e.ChangesCompressed = nil
	return nil
}

// ProductHistory returns the newest audit entries of a product, decompressed.
func (s *AuditService) ProductHistory(ctx context.Context, productID id.ID, limit int) ([]AuditEntry, error) {
	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT id, product_id, action, actor_id, actor_source, request_id,
			   changes, changes_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		err := rows.Scan(
			&e.ID, &e.ProductID, &e.Action, &e.ActorID, &e.ActorSource, &e.RequestID,
			&e.Changes, &e.ChangesCompressed, &e.CompressionAlgo, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := s.decode(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
