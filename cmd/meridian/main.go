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

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/loans"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/receipts"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	summaryCache := stock.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)

	catalogRepo := catalog.NewRepository(pool)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, audit, summaryCache, metrics, logger)

	receiptsRepo := receipts.NewRepository(pool)
	receiptsService := receipts.NewService(receiptsRepo, catalogRepo, audit, summaryCache, metrics, logger)

	loansRepo := loans.NewRepository(pool)
	loansService := loans.NewService(loansRepo, catalogRepo, audit, summaryCache, metrics, logger)

	returnsRepo := returns.NewRepository(pool)
	returnsService := returns.NewService(returnsRepo, catalogRepo, audit, summaryCache, metrics, logger)

	reconcileRepo := reconcile.NewRepository(pool)
	reconcileService := reconcile.NewService(reconcileRepo, metrics, logger)

	taskClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()
	enqueueReconcile := func(ctx context.Context, tenantID, location string) error {
		_, err := taskClient.EnqueueReconcile(ctx, jobs.ReconcilePayload{TenantID: tenantID, Location: location})
		return err
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		Metrics:          metrics,
		CatalogHandler:   catalog.NewHandler(logger, catalogRepo),
		StockHandler:     stock.NewHandler(logger, stockService),
		ReceiptsHandler:  receipts.NewHandler(logger, receiptsService),
		LoansHandler:     loans.NewHandler(logger, loansService),
		ReturnsHandler:   returns.NewHandler(logger, returnsService),
		ReconcileHandler: reconcile.NewHandler(logger, reconcileService, enqueueReconcile),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
