package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squarecrop/internal/config"
	"squarecrop/internal/cropdb"
	"squarecrop/internal/events"
	"squarecrop/internal/health"
	"squarecrop/internal/logging"

	"cloud.google.com/go/pubsub"
)

// leaseDuration is how long a claimed outbox row stays invisible to other
// publishers.
const leaseDuration = time.Minute

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load(nil)
	if err != nil {
		fatal("invalid configuration", "err", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fatal("failed to build logger", "err", err)
	}
	slog.SetDefault(logger)

	if !cfg.LedgerEnabled() {
		fatal("CROP_DB_DSN is required")
	}
	if !cfg.EventsEnabled() {
		fatal("PUBSUB_TOPIC is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := cropdb.Open(cfg.CropDBDSN)
	if err != nil {
		fatal("failed to open crop db", "err", err)
	}
	defer db.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		fatal("failed to create pubsub client", "err", err)
	}
	defer pubsubClient.Close()

	topic := pubsubClient.Topic(cfg.PubSubTopic)
	defer topic.Stop()

	if cfg.PubSubMode == "emulator" {
		if err := events.EnsureTopicWithRetry(ctx, pubsubClient, cfg.PubSubTopic, 10, 500*time.Millisecond); err != nil {
			fatal("failed to ensure pubsub topic", "err", err)
		}
	}
	publisher := &events.Publisher{Topic: topic}

	go runPublisherLoop(ctx, db, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	mux := http.NewServeMux()
	health.Register(mux,
		health.Check{Name: "crop_db", Check: db.PingContext},
		health.Check{Name: "pubsub", Check: publisher.Ready},
	)
	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("publisher listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal("publisher server failed", "err", err)
	}
}

func runPublisherLoop(ctx context.Context, db *sql.DB, publisher *events.Publisher, pollInterval time.Duration, batchSize int) {
	for {
		n, err := drainOnce(ctx, db, publisher, batchSize)
		if err != nil && ctx.Err() == nil {
			slog.Error("outbox claim failed", "err", err)
		}
		if n > 0 {
			slog.Debug("outbox batch published", "count", n)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// drainOnce publishes one claimed batch and returns how many messages were
// sent.
func drainOnce(ctx context.Context, db *sql.DB, publisher *events.Publisher, batchSize int) (int, error) {
	messages, err := cropdb.ClaimOutboxBatch(ctx, db, batchSize, leaseDuration)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range messages {
		if err := publisher.Publish(ctx, msg.ID, msg.Payload); err != nil {
			slog.Warn("outbox publish failed", "outbox_id", msg.ID, "attempts", msg.Attempts+1, "err", err)
			_ = cropdb.RecordOutboxError(db, msg.ID, err.Error())
			continue
		}
		if err := cropdb.MarkOutboxPublished(db, msg.ID); err != nil {
			slog.Error("mark published failed for outbox", "outbox_id", msg.ID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
