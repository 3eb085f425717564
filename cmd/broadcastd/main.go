package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/campuskit/broadcast/internal/audit"
	"github.com/campuskit/broadcast/internal/config"
	"github.com/campuskit/broadcast/internal/email"
	"github.com/campuskit/broadcast/internal/handler"
	"github.com/campuskit/broadcast/internal/kafka"
	"github.com/campuskit/broadcast/internal/logger"
	"github.com/campuskit/broadcast/internal/messaging"
	"github.com/campuskit/broadcast/internal/metrics"
	"github.com/campuskit/broadcast/internal/router"
	"github.com/campuskit/broadcast/internal/scheduler"
	"github.com/campuskit/broadcast/internal/service"
	"github.com/campuskit/broadcast/internal/storage"
	"github.com/campuskit/broadcast/internal/tracing"
)

func main() {
	l := logger.NewLogger()
	slog.SetDefault(l)

	metrics.Init()

	if err := godotenv.Load(); err != nil {
		l.Warn("No .env file loaded", "err", err)
	}

	cfg := config.Load()
	ctx := context.Background()

	tracerShutdown, err := tracing.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		l.Error("Failed to initialize tracing", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			l.Error("Tracer shutdown failed", slog.Any("err", err))
		}
	}()

	db, err := storage.Connect(cfg.DB)
	if err != nil {
		l.Error("Failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.Migrate {
		if err := storage.Migrate(ctx, db); err != nil {
			l.Error("Migration failed", "err", err)
			os.Exit(1)
		}
		l.Info("Schema migration applied")
	}

	// Storage layer
	broadcastStore := storage.NewBroadcastStorage(db)
	userStore := storage.NewUserStorage(db)
	messageStore := storage.NewMessageStorage(db)
	recorder := audit.NewRecorder(db, l)

	// Lifecycle event producer
	var wg sync.WaitGroup
	events := buildEventProducer(cfg.Kafka, l, &wg)
	events.Start(ctx)

	// Email transport
	var sender email.Sender
	if cfg.Email.APIKey != "" {
		sender = email.NewResendSender(cfg.Email.APIKey, cfg.Email.From, l)
	} else {
		l.Warn("RESEND_API_KEY not set, email delivery disabled")
		sender = email.NewDisabledSender(l)
	}
	emailQueue := email.NewQueue(events, l)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
	}

	// Service layer
	authSvc := service.NewAuthService(userStore, cfg.JWTSecret, l)
	resolver := service.NewRecipientResolver(userStore, l)
	messenger := messaging.NewSystemMessenger(messageStore, l)
	dispatcher := service.NewMessageDispatcher(messenger, recorder, cfg.Dispatch.Workers, cfg.Dispatch.Rate, l)
	planner := service.NewEmailPlanner(emailQueue, recorder, l)
	flusher := service.NewQueueFlusher(broadcastStore, userStore, messageStore, sender, recorder, events, l)
	reporter := service.NewHistoryReporter(broadcastStore, messageStore, l)
	broadcastSvc := service.NewBroadcastService(
		resolver, dispatcher, planner, flusher, reporter,
		broadcastStore, recorder, recorder, recorder, events, l)
	healthSvc := service.NewHealthService(broadcastStore, l)

	broadcastHandler := handler.NewBroadcastHandler(broadcastSvc, l)
	healthHandler := handler.NewHealthHandler(healthSvc, l)

	r := router.NewRouter(router.Deps{
		Broadcast: broadcastHandler,
		Health:    healthHandler,
		Auth:      authSvc,
		Redis:     redisClient,
		SendLimit: int64(cfg.Redis.RateLimit),
		Logger:    l,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	flushCron, err := scheduler.New(cfg.Cron.Spec, cfg.Cron.Limit, cfg.Cron.Force, broadcastSvc, l)
	if err != nil {
		l.Error("Invalid FLUSH_CRON spec", "spec", cfg.Cron.Spec, "err", err)
		os.Exit(1)
	}
	flushCron.Start()

	go func() {
		l.Info("Server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Failed to start server", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down server...")

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxTimeout); err != nil {
		l.Error("Shutdown failed", "err", err)
	} else {
		l.Info("Server exited cleanly")
	}

	flushCron.Stop()
	events.Close(ctxTimeout)
}

// buildEventProducer wires the sarama async producer, or a noop one when no
// brokers are configured.
func buildEventProducer(cfg config.KafkaConfig, l *slog.Logger, wg *sync.WaitGroup) kafka.EventProducer {
	if len(cfg.Brokers) == 0 {
		return kafka.NewNoopProducer(l)
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll // Acks from all replicas
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.ClientID = "broadcastd-producer"

	asyncProducer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		l.Error("Failed to create sarama producer", slog.Any("error", err))
		os.Exit(1)
	}
	return kafka.NewEventProducer(asyncProducer, cfg.EventsTopic, l, wg)
}
