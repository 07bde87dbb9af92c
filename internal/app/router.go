package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/loans"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/receipts"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	Metrics          *observability.Metrics
	CatalogHandler   *catalog.Handler
	StockHandler     *stock.Handler
	ReceiptsHandler  *receipts.Handler
	LoansHandler     *loans.Handler
	ReturnsHandler   *returns.Handler
	ReconcileHandler *reconcile.Handler
}

// NewRouter assembles the HTTP router with the full middleware chain and all
// module routes.
func NewRouter(params RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				params.Logger.Error("health check database ping", slog.Any("error", err))
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		if params.CatalogHandler != nil {
			api.Route("/items", params.CatalogHandler.MountRoutes)
		}
		if params.StockHandler != nil {
			api.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.ReceiptsHandler != nil {
			api.Route("/receipts", params.ReceiptsHandler.MountRoutes)
		}
		if params.LoansHandler != nil {
			api.Route("/loans", params.LoansHandler.MountRoutes)
		}
		if params.ReturnsHandler != nil {
			api.Route("/returns", params.ReturnsHandler.MountRoutes)
		}
		if params.ReconcileHandler != nil {
			api.Route("/reconcile", params.ReconcileHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
