package main

import (
	"context"
	"errors"
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
	"squarecrop/internal/pipeline"
	"squarecrop/internal/session"

	"cloud.google.com/go/pubsub"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var checks []health.Check
	led := &ledger{}
	if cfg.LedgerEnabled() {
		db, err := cropdb.Open(cfg.CropDBDSN)
		if err != nil {
			fatal("failed to open crop db", "err", err)
		}
		defer db.Close()
		if err := cropdb.Init(ctx, db); err != nil {
			fatal("failed to init crop db", "err", err)
		}
		led.db = db
		checks = append(checks, health.Check{Name: "crop_db", Check: db.PingContext})
	}
	if cfg.EventsEnabled() {
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
		led.publisher = publisher
		checks = append(checks, health.Check{Name: "pubsub", Check: publisher.Ready})
	}

	proc := pipeline.Processor{LoadOptions: cfg.Load, Encoding: cfg.Encoding}
	sessions := session.NewStore(cfg.SessionTTL, func(id uuid.UUID) *pipeline.Runner {
		logger := slog.With("session_id", id.String())
		return pipeline.NewRunner(proc,
			pipeline.WithLogger(logger),
			pipeline.WithSettleHook(func(snap pipeline.Snapshot) {
				led.record(context.Background(), id.String(), snap)
			}),
		)
	})
	if cfg.SessionTTL > 0 {
		go sessions.Janitor(ctx, janitorInterval(cfg.SessionTTL))
	}

	swagger, err := loadOpenAPISpec(cfg.OpenAPISpecPath)
	if err != nil {
		fatal("failed to load openapi spec", "err", err)
	}
	if err := swagger.Validate(context.Background()); err != nil {
		fatal("invalid openapi spec", "err", err)
	}

	srv := &server{
		proc:     proc,
		sessions: sessions,
		ledger:   led,
		client:   &http.Client{},
		fetch:    cfg.Fetch,
		maxBody:  cfg.Load.MaxBytes,
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(srv, swagger, checks...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "addr", httpServer.Addr, "format", cfg.Encoding.Format, "quality", cfg.Encoding.Quality)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("api server failed", "err", err)
	}
	slog.Info("api stopped")
}

func loadOpenAPISpec(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	return loader.LoadFromFile(path)
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
