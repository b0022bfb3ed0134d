package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	"github.com/sokoni-labs/sokoni-backend/internal/inventory"
	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	ordersvc "github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/internal/payments"
	"github.com/sokoni-labs/sokoni-backend/internal/sweep"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/metrics"
	"github.com/sokoni-labs/sokoni-backend/pkg/migrate"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
	"github.com/sokoni-labs/sokoni-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sweeper",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := paygate.NewClient(cfg.Paygate, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	notifier := notifications.NewLogNotifier(logg)
	ordersRepo := ordersvc.NewRepository(gormDB)

	walletService, err := wallet.NewService(gormDB)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	ordersService, err := ordersvc.NewService(ordersvc.ServiceParams{
		DB:        gormDB,
		Repo:      ordersRepo,
		Inventory: inventory.NewService(),
		Logger:    logg,
		Notifier:  notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		DB:       gormDB,
		Repo:     ordersRepo,
		Wallet:   walletService,
		Config:   cfg.Escrow,
		Logger:   logg,
		Notifier: notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		DB:       gormDB,
		Repo:     payments.NewRepository(gormDB),
		Orders:   ordersService,
		Escrow:   escrowService,
		Gateway:  gateway,
		Deduper:  redisClient,
		Logger:   logg,
		Notifier: notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	sweepMetrics := metrics.NewSweepJobMetrics(prometheus.DefaultRegisterer)

	reconcileJob, err := sweep.NewPaymentReconcileJob(sweep.PaymentReconcileJobParams{
		Logger:   logg,
		Payments: paymentsService,
		Metrics:  sweepMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconcile job", err)
		os.Exit(1)
	}
	releaseCodeJob, err := sweep.NewReleaseCodeJob(sweep.ReleaseCodeJobParams{
		Logger:  logg,
		DB:      gormDB,
		Orders:  ordersRepo,
		Escrow:  escrowService,
		Metrics: sweepMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create release code job", err)
		os.Exit(1)
	}

	lock, err := sweep.NewRedisLock(redisClient, redisClient.LockKey("sweeper"), cfg.Sweep.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	service, err := sweep.NewService(sweep.ServiceParams{
		Logger:   logg,
		Registry: sweep.NewRegistry(reconcileJob, releaseCodeJob),
		Lock:     lock,
		Metrics:  sweepMetrics,
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	go serveMetrics(ctx, logg, cfg.App.Port)

	logg.Info(ctx, "starting sweeper")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "sweeper shutting down gracefully")
}

func serveMetrics(ctx context.Context, logg *logger.Logger, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}
