package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/internal/app/bus"
	"chatsync/internal/app/engine"
	"chatsync/internal/app/optimistic"
	"chatsync/internal/app/reconciler"
	"chatsync/internal/infra/api"
	"chatsync/internal/infra/broker/kafka"
	"chatsync/internal/infra/config"
	mongostore "chatsync/internal/infra/db/mongo"
	ginserver "chatsync/internal/infra/http/gin"
	"chatsync/internal/infra/inbox"
	"chatsync/internal/infra/obs"
	"chatsync/internal/infra/push/ws"
	"chatsync/internal/infra/storage/s3"
)

const (
	snapshotTTL     = 7 * 24 * time.Hour
	inboxRetention  = 24 * time.Hour
	startupDeadline = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger(getenv("APP_ENV", "dev"), "info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chatsync stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("chatsync stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	events := bus.New()
	deps := engine.Deps{
		API: api.New(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout, logger.With("component", "api")),
		Dialer: &ws.Dialer{
			URL:    cfg.PushURL,
			Token:  cfg.APIToken,
			Logger: logger.With("component", "push"),
		},
		Bus:    events,
		Logger: logger,
	}

	var seen kafka.Inbox = inbox.NewMemory(inboxRetention)
	if cfg.MongoURI != "" {
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}()
		deps.Snapshots = mongostore.NewSnapshotStore(client.DB, snapshotTTL)
		seen = inbox.NewStore(client.DB, cfg.KafkaGroupID, inboxRetention)
		logger.Info("mongo enabled", "database", cfg.MongoDB)
	}

	if cfg.S3Endpoint != "" {
		resolver, err := s3.NewResolver(s3.Options{
			Endpoint:   cfg.S3Endpoint,
			UseSSL:     cfg.S3UseSSL,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			PresignTTL: cfg.S3PresignTTL,
			Logger:     logger.With("component", "s3"),
		})
		if err != nil {
			return fmt.Errorf("configure s3: %w", err)
		}
		deps.Images = resolver
		logger.Info("s3 image resolution enabled", "bucket", cfg.S3Bucket)
	}

	eng, err := engine.New(engine.Config{
		UserID:            cfg.UserID,
		Filters:           cfg.Filters,
		PageSize:          cfg.PageSize,
		MessagePageSize:   cfg.MessagePageSize,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		UnreadDebounce:    cfg.UnreadDebounce,
	}, deps)
	if err != nil {
		return err
	}
	defer watchEvents(events, logger)()

	startCtx, cancelStart := context.WithTimeout(ctx, startupDeadline)
	err = eng.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, kafka.NotificationHandler{
			UserID: cfg.UserID,
			Inbox:  seen,
			Sink:   eng,
			Logger: logger.With("component", "kafka"),
		}, logger.With("component", "kafka"))
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		defer consumer.Close()
		go func() {
			topic := cfg.Topic(kafka.NotificationsTopic)
			if err := consumer.Run(ctx, []string{topic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", "topic", topic, "error", err)
			}
		}()
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: func() error {
			if st := eng.Status(); st.Degraded {
				return fmt.Errorf("push channel gave up after %d attempts: %s", st.ReconnectAttempts, st.LastError)
			}
			return nil
		},
	}, ginserver.Handlers{
		Chat: ginserver.ChatHandler{Engine: eng, Logger: logger.With("component", "http")},
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "user_id", cfg.UserID)
	serveErr := server.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil {
		logger.Warn("engine close failed", "error", err)
	}
	return serveErr
}

// watchEvents logs the toast and session signals a UI would act on.
func watchEvents(events *bus.Bus, logger *slog.Logger) func() {
	unsubs := []func(){
		bus.On(events, optimistic.KindMutationFailed, func(evt optimistic.MutationFailed) {
			logger.Warn("user action failed", "op", evt.Op, "target", evt.Target, "error", evt.Err)
		}),
		bus.On(events, optimistic.KindSessionExpired, func(evt optimistic.SessionExpired) {
			logger.Error("session rejected by server", "error", evt.Err)
		}),
		bus.On(events, reconciler.KindStatusChanged, func(evt reconciler.StatusChanged) {
			logger.Info("push channel status",
				"state", string(evt.Status.State),
				"attempt", evt.Status.ReconnectAttempts,
				"degraded", evt.Status.Degraded,
			)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
