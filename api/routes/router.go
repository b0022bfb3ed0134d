package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sokoni-labs/sokoni-backend/api/controllers"
	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	checkoutsvc "github.com/sokoni-labs/sokoni-backend/internal/checkout"
	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	ordersvc "github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/internal/payments"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/internal/withdrawals"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
	"github.com/sokoni-labs/sokoni-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gateway *paygate.Client,
	checkoutService checkoutsvc.Service,
	ordersService ordersvc.Service,
	escrowService escrow.Service,
	paymentsService payments.Service,
	walletService wallet.Service,
	withdrawalsService withdrawals.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.ActorContext(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paygate", controllers.PaygateWebhook(paymentsService, gateway, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(ordersService, logg))
			r.Get("/{orderID}", controllers.GetOrder(ordersService, logg))
			r.Post("/{orderID}/cancel", controllers.CancelOrder(ordersService, logg))
			r.Get("/{orderID}/release-code", controllers.GetReleaseCode(escrowService, logg))
			r.Patch("/delivery/{token}", controllers.UpdateDelivery(ordersService, logg))
		})

		r.Route("/shop", func(r chi.Router) {
			r.Get("/orders", controllers.ShopListOrders(ordersService, logg))
			r.Post("/orders/{orderID}/status", controllers.ShopTransitionOrder(ordersService, logg))
			r.Post("/orders/{orderID}/waybill", controllers.ShopAttachWaybill(ordersService, logg))
			r.Post("/orders/{orderID}/verify-code", controllers.ShopVerifyReleaseCode(escrowService, logg))

			r.Get("/wallet", controllers.ShopWallet(walletService, logg))
			r.Get("/wallet/transactions", controllers.ShopWalletTransactions(walletService, logg))

			r.Post("/withdrawals", controllers.RequestWithdrawal(withdrawalsService, logg))
			r.Get("/withdrawals", controllers.ListWithdrawals(withdrawalsService, logg))
			r.Post("/withdrawals/{withdrawalID}/cancel", controllers.CancelWithdrawal(withdrawalsService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Post("/withdrawals/{withdrawalID}/process", controllers.AdminProcessWithdrawal(withdrawalsService, logg))
		r.Post("/payments/{orderID}/settle", controllers.AdminSettlePayment(paymentsService, logg))
	})

	return r
}
