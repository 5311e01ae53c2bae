package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/core/id"
	"costledger/internal/infrastructure/storage/postgres"
	"costledger/pkg/logger"
)

func sampleMessage() *postgres.OutboxMessage {
	return &postgres.OutboxMessage{
		ID:          id.New(),
		AggregateID: id.New(),
		EventType:   postgres.EventLayersConsumed,
		Payload:     []byte(`{"quantity":15}`),
		CreatedAt:   time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestEnvelope(t *testing.T) {
	msg := sampleMessage()

	body, err := envelope(msg)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, msg.ID.String(), got["id"])
	assert.Equal(t, "LayersConsumed", got["eventType"])
	assert.Equal(t, msg.AggregateID.String(), got["productId"])
	assert.Equal(t, map[string]any{"quantity": float64(15)}, got["payload"])
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, "costledger.events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	msg := sampleMessage()
	require.NoError(t, redisPublisher(rdb, "costledger.events").Handle(ctx, msg))

	received, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, received.Payload, msg.ID.String())
	assert.Contains(t, received.Payload, `"eventType":"LayersConsumed"`)
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := redisPublisher(rdb, "costledger.events").Handle(context.Background(), sampleMessage())
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, logPublisher(logger.Nop()).Handle(context.Background(), sampleMessage()))
}
