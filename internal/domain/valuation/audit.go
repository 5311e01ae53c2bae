package valuation

import (
	"context"

	"costledger/internal/core/id"
)

// AuditAction names a ledger mutation.
type AuditAction string

const (
	AuditLayerAdded       AuditAction = "layer_added"
	AuditLayersImported   AuditAction = "layers_imported"
	AuditLayersConsumed   AuditAction = "layers_consumed"
	AuditLayerDeactivated AuditAction = "layer_deactivated"
)

// AuditRecord describes one committed-or-rolled-back-together ledger mutation.
type AuditRecord struct {
	Action    AuditAction
	ProductID id.ID
	Payload   any
}

// AuditSink receives audit records inside the mutation's transaction, so a failed
// sink write rolls the mutation back with it.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, rec AuditRecord) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, rec AuditRecord) error {
	return f(ctx, rec)
}

// MultiSink fans a record out to every sink, stopping at the first error.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, rec AuditRecord) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

type nopSink struct{}

func (nopSink) Record(context.Context, AuditRecord) error { return nil }
