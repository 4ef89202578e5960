package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"compliancekb/internal/app"
	"compliancekb/internal/config"
	"compliancekb/internal/logger"

	"github.com/nsqio/go-nsq"
)

func main() {
	// Initialize structured logger
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Infrastructure: Postgres, migrations, embedding storage, Gemini, NSQ
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()
	if deps.Embedder != nil {
		defer deps.Embedder.Close()
	}

	// 3. Wire the application
	application, err := app.New(cfg, deps.DB, deps.Vectors, deps.Embedder, deps.NSQProducer, log)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	// 4. Backfill worker: consumes embed nudges published on document upserts.
	if cfg.EnableBackfillWorker {
		consumer, err := nsq.NewConsumer(config.TopicEmbedBackfill, "backend", nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create NSQ consumer", "error", err)
		} else {
			consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
				return application.BackfillConsumer.HandleMessage(m)
			}))
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err)
			} else {
				slog.Info("NSQ backfill consumer connected")
				defer consumer.Stop()
			}
		}
	}

	// 5. Serve
	if err := application.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
