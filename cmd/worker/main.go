package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/notes-ai-platform/internal/auth"
	"github.com/suPer8Hu/notes-ai-platform/internal/config"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
	"github.com/suPer8Hu/notes-ai-platform/internal/store/rabbitmq"
	"github.com/suPer8Hu/notes-ai-platform/internal/store/redisstore"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

const (
	maxRedeliveries = 5
	redeliveryDelay = 2 * time.Second
	fetchTokenTTL   = time.Minute
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func fatal(msg string, args ...any) {
	logger.L.Error(msg, args...)
	os.Exit(1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", "err", err)
	}
	logCloser := logger.Setup(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logCloser.Close()
	log := logger.L.With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rds.Ping(ctx); err != nil {
		fatal("redis ping", "addr", cfg.RedisAddr, "err", err)
	}
	defer rds.Close()

	// the worker has no database; it reads snapshots back from the API as
	// the owning user
	fetcher := syncqueue.NewHTTPFetcher(cfg.SyncFetchBaseURL, func(ownerID uint64) (string, error) {
		return auth.SignJWT(ownerID, cfg.JWTSecret, fetchTokenTTL)
	})

	queue := syncqueue.New(fetcher, rds.Cache(cfg.SyncCacheTTL), syncqueue.Options{
		SettleDelay:     cfg.SyncSettleDelay,
		RetryDelay:      cfg.SyncRetryDelay,
		MaxAttempts:     cfg.SyncMaxAttempts,
		ResultTTL:       cfg.SyncResultTTL,
		CleanupInterval: cfg.SyncCleanupInterval,
		Logger:          log,
	})
	queue.Start(ctx)
	defer queue.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		fatal("rabbit dial", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		fatal("rabbit channel", "err", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		fatal("queue declare", "err", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		fatal("qos", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		fatal("consume", "err", err)
	}

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency, "fetch_base", cfg.SyncFetchBaseURL)

	// channel publishes are not safe for concurrent use
	var pubMu sync.Mutex
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, log.With("worker", workerID), queue, ch, &pubMu, cfg.RabbitQueue, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down", "status", queue.Status())
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				close(deliveries)
				wg.Wait()
				return
			}
			deliveries <- d
		}
	}
}

// handleDelivery hands one sync message to the local queue. Malformed
// messages go to the DLQ; messages the queue cannot take right now are parked
// in the retry queue until they have been redelivered too often.
func handleDelivery(ctx context.Context, log *slog.Logger, q *syncqueue.Queue, ch *amqp.Channel, pubMu *sync.Mutex, queueName string, d amqp.Delivery) {
	e, err := rabbitmq.DecodeSyncMessage(d.Body)
	if err != nil {
		log.Warn("bad sync message", "err", err)
		_ = d.Nack(false, false)
		return
	}

	id, err := q.Enqueue(e)
	if err == nil {
		log.Debug("sync message queued", "id", id, "family", e.Family().String(), "operation", e.Operation)
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", "err", err)
		}
		return
	}

	attempts := rabbitmq.Attempts(d.Headers)
	if attempts >= maxRedeliveries {
		log.Error("sync message dead-lettered", "family", e.Family().String(), "attempts", attempts, "err", err)
		_ = d.Nack(false, false)
		return
	}

	pubMu.Lock()
	perr := rabbitmq.RetryLater(context.WithoutCancel(ctx), ch, queueName, d, redeliveryDelay)
	pubMu.Unlock()
	if perr != nil {
		log.Error("retry publish failed", "err", perr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
