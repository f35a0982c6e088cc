package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/granary-erp/granary-erp/internal/app"
	"github.com/granary-erp/granary-erp/internal/catalog"
	"github.com/granary-erp/granary-erp/internal/notify"
	"github.com/granary-erp/granary-erp/internal/observability"
	"github.com/granary-erp/granary-erp/internal/platform/cache"
	"github.com/granary-erp/granary-erp/internal/platform/db"
	"github.com/granary-erp/granary-erp/internal/procurement"
	"github.com/granary-erp/granary-erp/internal/production"
	"github.com/granary-erp/granary-erp/internal/sales"
	"github.com/granary-erp/granary-erp/internal/shared"
	"github.com/granary-erp/granary-erp/internal/stock"
)

func main() {
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, advisory locks disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(pool)
	auditLogger := shared.NewAuditLogger(pool)
	lockManager := shared.NewLockManager(redisClient, cfg.LockTTL)

	observer := notify.NewObserver(asynqClient, metrics, logger)
	stockRepo := stock.NewRepository(pool)
	ledger := stock.NewLedger(stockRepo, observer, metrics, logger)
	engine := stock.NewDeductionEngine(cfg.StockEpsilon, logger)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, cfg.CatalogTimeout)

	productionRepo := production.NewRepository(pool)
	productionService := production.NewService(productionRepo, ledger, engine, catalogService, lockManager, idempotencyStore, auditLogger, metrics, logger)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, ledger, idempotencyStore, auditLogger, logger)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, ledger, catalogService, idempotencyStore, auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		StockHandler:       stock.NewHandler(logger, ledger),
		ProductionHandler:  production.NewHandler(logger, productionService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		CatalogHandler:     catalog.NewHandler(logger, catalogService),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
