package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/makerhub/backend/internal/admin"
	"github.com/makerhub/backend/internal/audit"
	"github.com/makerhub/backend/internal/auth"
	"github.com/makerhub/backend/internal/config"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/fulfillment"
	"github.com/makerhub/backend/internal/giftcard"
	"github.com/makerhub/backend/internal/handlers"
	"github.com/makerhub/backend/internal/jobs"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/repository"
	"github.com/makerhub/backend/internal/router"
	"github.com/makerhub/backend/internal/validate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		slog.Error("Invalid policy file", "path", cfg.PolicyFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL")

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	if cfg.RunRiverMigration {
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("River migrations applied")
	}

	validator, err := validate.New()
	if err != nil {
		slog.Error("Failed to compile request schemas", "error", err)
		os.Exit(1)
	}

	walletRepo := repository.NewWalletRepo(pool)
	transactionRepo := repository.NewTransactionRepo(pool)
	giftCardRepo := repository.NewGiftCardRepo(pool)
	orderRepo := repository.NewOrderRepo(pool)
	makerOrderRepo := repository.NewMakerOrderRepo(pool)
	auditRepo := repository.NewAuditRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	engine := ledger.NewEngine(pool, walletRepo, transactionRepo, cfg.Retry, logger)
	auditSvc := audit.NewService(auditRepo, logger)
	adminSvc := admin.NewService(pool, engine, auditSvc, cfg.Retry, policy.MaxAdjustment, logger)
	giftCardSvc := giftcard.NewService(pool, giftCardRepo, engine, auditSvc, cfg.Retry, policy.GiftCardTTL, logger)

	// Refund insert func is set after the River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn jobs.InsertRefundTxFunc
	insertRefund := func(ctx context.Context, tx pgx.Tx, args jobs.RefundOrderArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	orderSvc := fulfillment.NewService(fulfillment.Deps{
		DB:           pool,
		Orders:       orderRepo,
		MakerOrders:  makerOrderRepo,
		Ledger:       engine,
		Audit:        auditSvc,
		InsertRefund: insertRefund,
		Refunds:      fulfillment.RefundPolicy{Schedule: policy.RefundSchedule},
		Retry:        cfg.Retry,
		Logger:       logger,
	})

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers:      jobs.NewWorkers(engine, giftCardSvc, logger),
		PeriodicJobs: jobs.PeriodicJobs(cfg.GiftCardSweep),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args jobs.RefundOrderArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	tokens := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	api := router.New(router.Handlers{
		Health:    &handlers.HealthHandler{DB: pool, Logger: logger},
		Ledger:    &handlers.LedgerHandler{Ledger: engine, Validator: validator, Logger: logger},
		GiftCards: &handlers.GiftCardHandler{Cards: giftCardSvc, Validator: validator, Logger: logger},
		Admin:     &handlers.AdminHandler{Adjuster: adminSvc, Audit: auditSvc, Validator: validator, Logger: logger},
		Orders:    &handlers.OrderHandler{Orders: orderSvc, Validator: validator, Logger: logger},
	}, apiKeyRepo, tokens, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(api)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: corsHandler,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client stop failed", "error", err)
	}
}
