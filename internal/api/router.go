package api

import (
	"encoding/json"
	"net/http"

	"github.com/credence-ai/credence/internal/api/handlers"
	mw "github.com/credence-ai/credence/internal/api/middleware"
	"github.com/credence-ai/credence/internal/arbiter"
	"github.com/credence-ai/credence/internal/config"
	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/embedding"
	"github.com/credence-ai/credence/internal/metrics"
	"github.com/credence-ai/credence/internal/service"
	"github.com/credence-ai/credence/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router         *chi.Mux
	SyncWorker     *service.SyncWorker
	OrphanDetector *service.OrphanDetector
	Collector      *metrics.PrometheusCollector
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	factStore := store.NewFactStore(db, config.HistoryCap())
	taskStore := store.NewSyncTaskStore(db)
	mappingStore := store.NewGraphMappingStore(db)
	graphAdapter := store.NewGraphAdapter(db)

	// External clients via provider factory
	var embeddingClient domain.EmbeddingClient
	var arbiterClient domain.Arbiter

	embeddingClient, err := embedding.NewClient(config.EmbeddingProvider(), config.OpenAIAPIKey(), config.EmbeddingModel())
	if err != nil {
		logger.Warn("embedding client initialization failed", zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
	} else {
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	arbiterClient, err = arbiter.NewArbiter(config.ArbiterProvider(), config.OpenAIAPIKey())
	if err != nil {
		logger.Warn("arbiter initialization failed, falling back to timestamp-wins", zap.String("provider", config.ArbiterProvider()), zap.Error(err))
	} else {
		logger.Info("arbiter initialized", zap.String("provider", config.ArbiterProvider()))
	}

	collector := metrics.NewCollector()

	// Services
	resolver := service.NewConflictResolver(arbiterClient, logger)
	resolver.SetThresholds(config.DedupeThreshold(), config.ContradictionThreshold())
	resolver.SetArbiterTimeout(config.ArbiterTimeout())

	factSvc := service.NewFactService(factStore, taskStore, resolver, embeddingClient, logger)
	factSvc.SetCommitRetries(config.CommitRetryAttempts())
	factSvc.SetCollector(collector)

	syncWorker := service.NewSyncWorker(taskStore, mappingStore, graphAdapter, logger)
	syncWorker.SetPollInterval(config.SyncPollInterval())
	syncWorker.SetBatchSize(config.SyncBatchSize())
	syncWorker.SetWorkerCount(config.SyncWorkerCount())
	syncWorker.SetRetryAttempts(config.SyncRetryAttempts())
	syncWorker.SetRetryBackoff(config.SyncRetryBackoff())
	syncWorker.SetVisibilityTimeout(config.SyncVisibilityTimeout())
	syncWorker.SetCollector(collector)

	orphanDetector := service.NewOrphanDetector(factStore, mappingStore, graphAdapter, logger)
	orphanDetector.SetInterval(config.OrphanSweepInterval())
	orphanDetector.SetBatchSize(config.OrphanBatchSize())
	orphanDetector.SetCollector(collector)

	factSvc.SetOrphanTrigger(orphanDetector)

	// Handlers
	factHandler := handlers.NewFactHandler(factSvc)
	taskHandler := handlers.NewTaskHandler(factSvc)

	r := chi.NewRouter()

	app := &App{
		Router:         r,
		SyncWorker:     syncWorker,
		OrphanDetector: orphanDetector,
		Collector:      collector,
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.MemorySpace)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst(), config.RateLimitCleanupInterval()))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Metrics (no auth)
	r.Method(http.MethodGet, "/metrics", collector.Handler())

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(config.APIKey()))

		r.Route("/facts", func(r chi.Router) {
			r.Post("/", factHandler.Store)
			r.Get("/{id}/history", factHandler.GetHistory)
		})

		r.Delete("/entities/{id}", factHandler.DeleteEntity)

		r.Route("/sync/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Post("/{id}/retry", taskHandler.Retry)
		})
	})

	return app
}

// NewRouter returns just the chi.Mux when the caller manages lifecycles itself.
func NewRouter(db *pgxpool.Pool, logger *zap.Logger) *chi.Mux {
	return NewApp(db, logger).Router
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.FactStore         = (*store.FactStore)(nil)
	_ domain.SyncTaskStore     = (*store.SyncTaskStore)(nil)
	_ domain.GraphMappingStore = (*store.GraphMappingStore)(nil)
	_ domain.GraphAdapter      = (*store.GraphAdapter)(nil)
	_ domain.EmbeddingClient   = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient   = (*embedding.MockClient)(nil)
	_ domain.Arbiter           = (*arbiter.OpenAIArbiter)(nil)
	_ domain.Arbiter           = (*arbiter.MockArbiter)(nil)
	_ metrics.Collector        = (*metrics.PrometheusCollector)(nil)
	_ metrics.Collector        = (*metrics.NoopCollector)(nil)
)
