// Package main is the entry point for the outbox relay worker.
// It delivers ledger events written by the valuation engine to the Redis events channel.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"costledger/internal/app"
	"costledger/internal/config"
	"costledger/internal/infrastructure/storage/postgres"
	"costledger/pkg/logger"
)

// publishedRetention is how long delivered messages stay in sys_outbox.
const publishedRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting costledger outbox worker")

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to start", "error", err)
	}
	defer a.Close()

	worker := NewRelayWorker(a, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// RelayWorker polls sys_outbox and publishes pending events.
type RelayWorker struct {
	relay        *postgres.OutboxRelay
	pool         *postgres.Pool
	pollInterval time.Duration
	log          *logger.Logger
}

func NewRelayWorker(a *app.App, log *logger.Logger) *RelayWorker {
	log = log.WithComponent("outbox-relay")

	var handler postgres.OutboxHandler
	if a.Redis != nil {
		handler = redisPublisher(a.Redis, a.Config.EventsChannel)
	} else {
		log.Warn("REDIS_ADDR not set, events are logged instead of published")
		handler = logPublisher(log)
	}

	return &RelayWorker{
		relay:        postgres.NewOutboxRelay(a.Pool, a.Config.OutboxBatchSize, handler),
		pool:         a.Pool,
		pollInterval: a.Config.OutboxPollInterval,
		log:          log,
	}
}

// Run polls until ctx is cancelled.
func (w *RelayWorker) Run(ctx context.Context) {
	ctx = logger.WithLogger(ctx, w.log)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupOutbox(ctx)
		}
	}
}

func (w *RelayWorker) processOutbox(ctx context.Context) {
	n, err := w.relay.ProcessBatch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Errorw("outbox batch failed", "error", err)
		}
		return
	}
	if n > 0 {
		w.log.Debugw("processed outbox batch", "count", n)
	}
}

func (w *RelayWorker) cleanupOutbox(ctx context.Context) {
	if w.pool != nil {
		w.pool.LogStats(ctx)
	}
	n, err := w.relay.PurgePublished(ctx, publishedRetention)
	if err != nil {
		w.log.Warnw("outbox cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("purged published outbox messages", "count", n)
	}
}

// eventEnvelope is the message body published on the events channel.
type eventEnvelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"productId"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func envelope(msg *postgres.OutboxMessage) ([]byte, error) {
	return json.Marshal(eventEnvelope{
		ID:          msg.ID.String(),
		EventType:   msg.EventType,
		AggregateID: msg.AggregateID.String(),
		Payload:     msg.Payload,
		CreatedAt:   msg.CreatedAt,
	})
}

func redisPublisher(rdb *redis.Client, channel string) postgres.OutboxHandler {
	return postgres.OutboxHandlerFunc(func(ctx context.Context, msg *postgres.OutboxMessage) error {
		body, err := envelope(msg)
		if err != nil {
			return err
		}
		return rdb.Publish(ctx, channel, body).Err()
	})
}

func logPublisher(log *logger.Logger) postgres.OutboxHandler {
	return postgres.OutboxHandlerFunc(func(_ context.Context, msg *postgres.OutboxMessage) error {
		log.Infow("ledger event",
			"event_type", msg.EventType,
			"product_id", msg.AggregateID,
			"payload", string(msg.Payload),
		)
		return nil
	})
}
