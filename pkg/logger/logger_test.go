package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "costledger/internal/core/context"
)

func TestFromContext_AddsActorAndTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := &Logger{zap.New(core).Sugar()}

	ctx := WithLogger(context.Background(), base)
	ctx = appctx.WithActor(ctx, &appctx.Actor{ID: "u-7", Source: "order-fulfillment"})
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{TraceID: "t-1", RequestID: "r-1"})

	Info(ctx, "layers consumed", "product_id", "p-1")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "u-7", fields["actor_id"])
		assert.Equal(t, "order-fulfillment", fields["actor_source"])
		assert.Equal(t, "t-1", fields["trace_id"])
		assert.Equal(t, "p-1", fields["product_id"])
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "loud", OutputPaths: []string{"stderr"}})
	assert.NoError(t, err)
	assert.NotNil(t, l)
	assert.False(t, l.Desugar().Core().Enabled(zap.DebugLevel))
}

func TestFromContext_AddsSpanIdentifiers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := WithLogger(context.Background(), &Logger{zap.New(core).Sugar()})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x01},
		SpanID:     trace.SpanID{0x0b, 0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	Warn(ctx, "slow query")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["otel_trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	assert.NotContains(t, fields, "actor_id")
}

func TestWithContext_NothingToAdd(t *testing.T) {
	l := Nop()
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestNew_StampsService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	l, err := New(Config{Level: "debug", Service: "costledger", OutputPaths: []string{path}})
	require.NoError(t, err)

	l.WithComponent("relay").Infow("purged published outbox messages", "count", 3)
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "costledger", entry["service"])
	assert.Equal(t, "relay", entry["component"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Contains(t, entry, "ts")
}
