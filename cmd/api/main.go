package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/hmapp/backend/internal/auth"
	"github.com/hmapp/backend/internal/batch"
	"github.com/hmapp/backend/internal/config"
	"github.com/hmapp/backend/internal/geo"
	"github.com/hmapp/backend/internal/jobs"
	"github.com/hmapp/backend/internal/notify"
	"github.com/hmapp/backend/internal/offers"
	"github.com/hmapp/backend/internal/payments"
	"github.com/hmapp/backend/internal/registry"
	"github.com/hmapp/backend/internal/router"
	"github.com/hmapp/backend/internal/sweeps"
	"github.com/hmapp/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
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

	// Spatial index: shared Redis GEO set when configured, in-process
	// otherwise.
	var index geo.Index
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Cannot reach Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		index = geo.NewRedisIndex(rdb)
		slog.Info("Using Redis geo index", "addr", cfg.RedisAddr)
	} else {
		index = geo.NewMemoryIndex()
	}

	// Notification enqueue is set after the River client exists (breaks the
	// init cycle between services and the worker registry).
	var enqueueMu sync.Mutex
	var enqueueFn notify.EnqueueTxFunc
	enqueue := func(ctx context.Context, tx pgx.Tx, args notify.SendNotificationArgs) error {
		enqueueMu.Lock()
		fn := enqueueFn
		enqueueMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	registryRepo := registry.NewRepository(pool)
	registrySvc := registry.NewService(registryRepo, index, logger)

	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(walletRepo)

	batchRepo := batch.NewRepository(pool)
	batchSvc := batch.NewService(batchRepo, registrySvc, walletSvc, enqueue, cfg.DefaultBatchTarget, logger)

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, batchSvc, registrySvc, enqueue, cfg.OfferWindow, logger)

	paymentsRepo := payments.NewRepository(pool)
	paymentsSvc := payments.NewService(paymentsRepo, jobsSvc, walletSvc, registrySvc, enqueue, cfg, logger)

	offersRepo := offers.NewRepository(pool)
	offersSvc := offers.NewService(offersRepo, jobsRepo, jobsSvc, paymentsSvc, registrySvc, enqueue, logger)

	// Workers and periodic sweeps.
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewSendNotificationWorker(cfg.NotifierURL))
	river.AddWorker(workers, sweeps.NewOfferWindowSweepWorker(jobsSvc, offersSvc))
	river.AddWorker(workers, sweeps.NewPaymentWindowSweepWorker(paymentsSvc))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Minute),
				func() (river.JobArgs, *river.InsertOpts) {
					return sweeps.OfferWindowSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Minute),
				func() (river.JobArgs, *river.InsertOpts) {
					return sweeps.PaymentWindowSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	enqueueMu.Lock()
	enqueueFn = func(ctx context.Context, tx pgx.Tx, args notify.SendNotificationArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	enqueueMu.Unlock()

	// Auth and handlers.
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)

	webhookHandler, err := payments.NewWebhookHandler(paymentsSvc, cfg.WebhookSecret, logger)
	if err != nil {
		slog.Error("Failed to compile webhook schema", "error", err)
		os.Exit(1)
	}

	apiHandler := router.New(router.Handlers{
		Auth:     auth.NewHandler(authSvc, logger),
		Jobs:     jobs.NewHandler(jobsSvc, registrySvc, logger),
		Offers:   offers.NewHandler(offersSvc, registrySvc, logger),
		Wallet:   wallet.NewHandler(walletRepo, registrySvc, logger),
		Batch:    batch.NewHandler(batchSvc, registrySvc, logger),
		Registry: registry.NewHandler(registrySvc, logger),
		Webhook:  webhookHandler,
	}, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiHandler)

	// Start River client (processes notification and sweep jobs).
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
