package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cocledger-backend/api/controllers"
	"github.com/angelmondragon/cocledger-backend/api/middleware"
	"github.com/angelmondragon/cocledger-backend/api/responses"
	"github.com/angelmondragon/cocledger-backend/internal/allocation"
	"github.com/angelmondragon/cocledger-backend/internal/coc"
	"github.com/angelmondragon/cocledger-backend/internal/reports"
	"github.com/angelmondragon/cocledger-backend/pkg/config"
	"github.com/angelmondragon/cocledger-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	ledger coc.Service,
	allocator allocation.Service,
	reportService reports.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Timeout(cfg.App.RequestTimeout),
	)

	// keep nil interfaces nil when redis is not configured
	var (
		redisPinger redis.Pinger
		idemStore   redis.IdempotencyStore
	)
	if redisClient != nil {
		redisPinger = redisClient
		idemStore = redisClient
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		responses.WriteError(req.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "route not found"))
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})

	if cfg.FeatureFlags.ExposeMetrics && gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/coc", func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Post("/receipts", controllers.RecordReceipt(ledger, logg))
		r.Get("/materials", controllers.ListMaterials(ledger, logg))

		r.Get("/batches", controllers.ListBatches(ledger, logg))
		r.Get("/batches/{batchId}/remaining", controllers.BatchRemaining(ledger, logg))
		r.Get("/batches/{batchId}/adjustments", controllers.ListAdjustments(ledger, logg))
		r.Post("/batches/{batchId}/adjustments", controllers.AdjustConsumed(ledger, logg))

		r.Get("/suggestions", controllers.Suggestions(allocator, logg))
		r.Post("/allocations", controllers.Allocate(allocator, logg))

		r.Post("/usage", controllers.CommitUsage(ledger, logg))
		r.Get("/usage", controllers.UsageHistory(ledger, logg))

		r.Get("/reports/stock.xlsx", controllers.StockReport(reportService, logg))
		r.Get("/reports/usage.xlsx", controllers.UsageReport(reportService, logg))
	})

	return r
}
