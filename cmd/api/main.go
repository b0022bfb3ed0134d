package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/sokoni-labs/sokoni-backend/api/routes"
	checkoutsvc "github.com/sokoni-labs/sokoni-backend/internal/checkout"
	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	"github.com/sokoni-labs/sokoni-backend/internal/inventory"
	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	ordersvc "github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/internal/payments"
	"github.com/sokoni-labs/sokoni-backend/internal/shops"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/internal/withdrawals"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/migrate"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
	"github.com/sokoni-labs/sokoni-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	inventoryService := inventory.NewService()
	ordersRepo := ordersvc.NewRepository(gormDB)
	paymentsRepo := payments.NewRepository(gormDB)
	shopsRepo := shops.NewRepository(gormDB)

	walletService, err := wallet.NewService(gormDB)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	ordersService, err := ordersvc.NewService(ordersvc.ServiceParams{
		DB:        gormDB,
		Repo:      ordersRepo,
		Inventory: inventoryService,
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
		Repo:     paymentsRepo,
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

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		DB:        gormDB,
		Orders:    ordersRepo,
		Payments:  paymentsRepo,
		Shops:     shopsRepo,
		Inventory: inventoryService,
		Escrow:    escrowService,
		Gateway:   gateway,
		Config:    cfg.Checkout,
		Logger:    logg,
		Notifier:  notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	withdrawalsService, err := withdrawals.NewService(withdrawals.ServiceParams{
		DB:       gormDB,
		Wallet:   walletService,
		Shops:    shopsRepo,
		Gateway:  gateway,
		Config:   cfg.Wallet,
		Logger:   logg,
		Notifier: notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create withdrawals service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gateway,
			checkoutService,
			ordersService,
			escrowService,
			paymentsService,
			walletService,
			withdrawalsService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
