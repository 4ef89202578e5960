package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"compliancekb/features/backfill"
	"compliancekb/features/document"
	"compliancekb/features/search"
	"compliancekb/features/stats"
	"compliancekb/internal/adapter/gemini"
	"compliancekb/internal/chunk"
	"compliancekb/internal/config"
	"compliancekb/internal/middleware"
	"compliancekb/internal/retrieval"
	"compliancekb/internal/text"
	"compliancekb/internal/worker"
)

// Database is the minimal surface app.New needs from the connection. It lets
// tests pass a sqlmock-backed *sql.DB.
type Database interface {
	Ping() error
	Close() error
}

type App struct {
	Handler          http.Handler
	DocumentService  *document.Service
	BackfillConsumer *worker.BackfillConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	vectors chunk.EmbeddingStorage,
	embedder *gemini.Embedder,
	taskPub document.EventPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Repositories require the concrete *sql.DB; the interface in the
	// signature keeps the constructor mockable.
	sqlDB, ok := db.(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("app: unsupported database type %T", db)
	}

	docRepo := document.NewPostgresRepo(sqlDB)
	chunkStore := chunk.NewPostgresStore(sqlDB, vectors)

	// Feature: Document
	splitter := text.NewSplitter(cfg.ChunkMinChars, cfg.ChunkMaxChars)
	reconciler := chunk.NewReconciler(chunkStore, splitter)
	docService := document.NewService(docRepo, reconciler, taskPub)
	docHandler := document.NewHandler(docService)

	// A nil *gemini.Embedder must not end up inside the interface fields, or
	// the nil checks downstream stop working.
	var queryEmbedder retrieval.Embedder
	var fillEmbedder backfill.Embedder
	if embedder != nil {
		queryEmbedder = embedder
		fillEmbedder = embedder
	}

	// Feature: Backfill
	backfillService := backfill.NewService(chunkStore, fillEmbedder, cfg.EmbeddingModel, cfg.EmbeddingDim, cfg.EmbedMaxChars)
	backfillHandler := backfill.NewHandler(backfillService)

	// Feature: Search
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(queryEmbedder, chunkStore, queryLogger)
	searchHandler := search.NewHandler(retrievalService)

	// Feature: Stats
	statsHandler := stats.NewHandler(stats.NewService(docRepo, chunkStore))

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Upsert)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("POST /documents/{id}/rechunk", middleware.CorrelationID(enableCORS(docHandler.Rechunk)))
	mux.Handle("POST /documents/rechunk", middleware.CorrelationID(enableCORS(docHandler.RechunkAll)))

	mux.Handle("POST /batches", middleware.CorrelationID(enableCORS(docHandler.CreateBatch)))

	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	mux.Handle("POST /jobs/embedding", middleware.CorrelationID(enableCORS(backfillHandler.Run)))
	mux.Handle("GET /jobs/embedding", middleware.CorrelationID(enableCORS(backfillHandler.Status)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	backfillConsumer := worker.NewBackfillConsumer(backfillService, cfg.BackfillBatchSize)

	return &App{
		Handler:          mux,
		DocumentService:  docService,
		BackfillConsumer: backfillConsumer,
		port:             cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
