package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "costledger/internal/core/context"
	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
)

func TestAuditService_PrepareCompressesLargePayloads(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	ctx := appctx.WithActor(context.Background(), &appctx.Actor{ID: "u-1", Source: "import"})
	large := []byte(`{"layers":"` + strings.Repeat("x", 20*1024) + `"}`)

	entry := s.prepare(ctx, AuditEntry{ProductID: id.New(), Changes: large})

	assert.Equal(t, CompressionZstd, entry.CompressionAlgo)
	assert.Nil(t, entry.Changes)
	assert.Less(t, len(entry.ChangesCompressed), len(large))
	assert.Equal(t, "u-1", entry.ActorID)
	assert.Equal(t, "import", entry.ActorSource)
	assert.False(t, id.IsNil(entry.ID))

	require.NoError(t, s.decode(&entry))
	assert.Equal(t, large, []byte(entry.Changes))
}

func TestAuditService_PrepareKeepsSmallPayloads(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	entry := s.prepare(context.Background(), AuditEntry{Changes: []byte(`{"quantity":1}`)})

	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.Nil(t, entry.ChangesCompressed)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestEventFor(t *testing.T) {
	pid := id.New()

	event, ok := EventFor(valuation.AuditRecord{Action: valuation.AuditLayersConsumed, ProductID: pid})
	require.True(t, ok)
	assert.Equal(t, EventLayersConsumed, event.EventType)
	assert.Equal(t, "Product", event.AggregateType)
	assert.Equal(t, pid, event.AggregateID)

	_, ok = EventFor(valuation.AuditRecord{Action: "renamed"})
	assert.False(t, ok)
}
