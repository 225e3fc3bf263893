package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/notes-ai-platform/internal/chat"
	"github.com/suPer8Hu/notes-ai-platform/internal/config"
	"github.com/suPer8Hu/notes-ai-platform/internal/db"
	"github.com/suPer8Hu/notes-ai-platform/internal/httpapi"
	"github.com/suPer8Hu/notes-ai-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/notes-ai-platform/internal/lock"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
	"github.com/suPer8Hu/notes-ai-platform/internal/store/rabbitmq"
	"github.com/suPer8Hu/notes-ai-platform/internal/store/redisstore"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
	"github.com/suPer8Hu/notes-ai-platform/internal/workspace"
)

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

	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		fatal("open db", "err", err)
	}
	if err := db.Migrate(gdb, &chat.Session{}, &workspace.Item{}); err != nil {
		fatal("migrate", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatRepo := chat.NewRepo(gdb)
	wsRepo := workspace.NewRepo(gdb)

	// authoritative fetchers, one per entity type
	fetchers := syncqueue.NewRegistry()
	for _, et := range workspace.EntityTypes() {
		fetchers.Register(et, syncqueue.FetcherFunc(wsRepo.FetchFamily))
	}
	fetchers.Register(chat.EntityType, syncqueue.FetcherFunc(chatRepo.FetchFamily))

	var cache syncqueue.Cache
	switch cfg.SyncCache {
	case config.SyncCacheRedis:
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			fatal("redis ping", "addr", cfg.RedisAddr, "err", err)
		}
		defer rds.Close()
		cache = rds.Cache(cfg.SyncCacheTTL)
	default:
		cache = syncqueue.NewMemoryCache()
	}

	var (
		notifier syncqueue.Notifier
		queue    *syncqueue.Queue
	)
	switch cfg.SyncMode {
	case config.SyncModeRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			fatal("rabbit publisher", "err", err)
		}
		defer pub.Close()
		notifier = pub
	default:
		queue = syncqueue.New(fetchers, cache, syncqueue.Options{
			SettleDelay:     cfg.SyncSettleDelay,
			RetryDelay:      cfg.SyncRetryDelay,
			MaxAttempts:     cfg.SyncMaxAttempts,
			ResultTTL:       cfg.SyncResultTTL,
			CleanupInterval: cfg.SyncCleanupInterval,
		})
		queue.Start(ctx)
		defer queue.Close()
		notifier = queue
	}

	locks := lock.New(lock.WithDefaultTimeout(cfg.ChatLockTimeout))

	h := &handlers.Handler{
		DB:        gdb,
		Cfg:       cfg,
		ChatSvc:   chat.NewService(chatRepo, locks, notifier, cfg.ChatContextWindowSize, cfg.ChatHistoryLimit),
		Workspace: workspace.NewService(wsRepo, notifier),
		Fetchers:  fetchers,
		Cache:     cache,
		Notifier:  notifier,
		Queue:     queue,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.L.Info("api listening", "addr", cfg.HTTPAddr, "sync_mode", cfg.SyncMode, "sync_cache", cfg.SyncCache)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http server", "err", err)
		}
	}()

	<-ctx.Done()
	logger.L.Info("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("http shutdown", "err", err)
	}
}
