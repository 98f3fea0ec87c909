package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-crm/meridian/internal/commerce"
	"github.com/meridian-crm/meridian/internal/payments"
	"github.com/meridian-crm/meridian/internal/platform/config"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/server"
	"github.com/meridian-crm/meridian/internal/platform/telemetry"
	"github.com/meridian-crm/meridian/internal/webhooks"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("meridian starting",
		"version", "0.1.0",
		"port", cfg.Server.Port,
	)

	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	ctx := context.Background()

	slog.Info("connecting to database")
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
	if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations complete")

	// Reconcilers
	commerceRec := commerce.NewReconciler(pool, commerce.NewStore())
	paymentsRec := payments.NewReconciler(pool, payments.NewStore())

	// Webhook routing
	router := webhooks.NewRouter()
	webhooks.NewShopifyProcessor(commerceRec).Register(router)
	webhooks.NewStripeProcessor(paymentsRec, commerceRec).Register(router)

	// Event log
	eventStore := webhooks.NewStore()
	var recorder webhooks.Recorder
	if cfg.Webhooks.EventLog.Async {
		recorder = webhooks.NewAsyncRecorder(pool, eventStore, webhooks.RecorderConfig{
			BufferSize:    cfg.Webhooks.EventLog.BufferSize,
			BatchSize:     cfg.Webhooks.EventLog.BatchSize,
			FlushInterval: time.Duration(cfg.Webhooks.EventLog.FlushIntervalMillis) * time.Millisecond,
		})
		slog.Info("async event recorder started")
	} else {
		recorder = webhooks.NewSyncRecorder(pool, eventStore)
	}
	defer recorder.Close()

	// Signature verification
	if cfg.Webhooks.Shopify.Secret == "" {
		slog.Warn("storefront webhook secret unset, signature verification disabled")
	}
	if cfg.Webhooks.Stripe.Secret == "" {
		slog.Warn("payments webhook secret unset, signature verification disabled")
	}
	verifiers := map[webhooks.Source]webhooks.Verifier{
		webhooks.SourceShopify: webhooks.NewShopifyVerifier(cfg.Webhooks.Shopify.Secret),
		webhooks.SourceStripe: webhooks.NewStripeVerifier(
			cfg.Webhooks.Stripe.Secret,
			time.Duration(cfg.Webhooks.Stripe.ToleranceSeconds)*time.Second,
		),
	}

	replayer := webhooks.NewReplayer(pool, eventStore, router)

	handler := webhooks.NewHandler(verifiers, router, recorder).
		WithEventStore(pool, eventStore).
		WithReplayer(replayer)

	if cfg.Webhooks.Shopify.ShopDomain != "" && cfg.Webhooks.Shopify.AccessToken != "" {
		admin := webhooks.NewShopifyAdminClient(nil, cfg.Webhooks.Shopify.ShopDomain, cfg.Webhooks.Shopify.AccessToken)
		handler = handler.WithShopifyAdmin(admin, cfg.Webhooks.Shopify.CallbackBase)
		slog.Info("storefront admin client configured", "shop", cfg.Webhooks.Shopify.ShopDomain)
	}

	// Create and start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		WebhookHandler:     handler,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// Background replay sweep for failed deliveries.
	if worker := buildReplayWorker(replayer, cfg.Webhooks.Replay); worker != nil {
		g.Go(func() error { return worker.Run(ctx) })
		slog.Info("replay worker started",
			"interval_seconds", cfg.Webhooks.Replay.IntervalSeconds,
			"window_hours", cfg.Webhooks.Replay.WindowHours,
		)
	}

	slog.Info("server ready", "addr", addr)
	g.Go(func() error { return srv.Start(ctx) })
	return g.Wait()
}
