package checkout

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	"github.com/sokoni-labs/sokoni-backend/internal/inventory"
	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/internal/payments"
	"github.com/sokoni-labs/sokoni-backend/internal/shops"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
)

func setupCheckoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:checkout_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  shop_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'CART',
  order_number TEXT NOT NULL UNIQUE,
  total_cents INTEGER NOT NULL DEFAULT 0,
  delivery_fee_cents INTEGER NOT NULL DEFAULT 0,
  delivery_method TEXT NOT NULL DEFAULT 'HOME_DELIVERY',
  delivery_address TEXT,
  delivery_directions TEXT,
  delivery_lat REAL,
  delivery_lng REAL,
  recipient_name TEXT,
  recipient_phone TEXT,
  delivery_token TEXT,
  waybill_number TEXT,
  waybill_photo_ref TEXT,
  release_code TEXT,
  release_code_status TEXT NOT NULL DEFAULT 'PENDING',
  release_code_expiry DATETIME,
  code_verified_at DATETIME,
  confirmed_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  listing_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  base_price_cents INTEGER NOT NULL DEFAULT 0,
  quantity INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  base_price_cents INTEGER NOT NULL DEFAULT 0,
  stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  is_available INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS stock_adjustments (
  id TEXT PRIMARY KEY,
  listing_id TEXT NOT NULL,
  delta INTEGER NOT NULL,
  quantity_after INTEGER NOT NULL,
  reason TEXT NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  tx_ref TEXT NOT NULL,
  method TEXT NOT NULL DEFAULT 'gateway',
  status TEXT NOT NULL DEFAULT 'PENDING',
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'TZS',
  expired_at DATETIME,
  verified_by TEXT,
  paid_at DATETIME,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS shops (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  city TEXT NOT NULL,
  supports_home_delivery INTEGER NOT NULL DEFAULT 1,
  supports_depot_collection INTEGER NOT NULL DEFAULT 0,
  delivery_base_fee_cents INTEGER NOT NULL DEFAULT 0,
  delivery_inter_city_fee_cents INTEGER NOT NULL DEFAULT 0,
  free_delivery_over_cents INTEGER,
  depot_lat REAL,
  depot_lng REAL,
  wallet_balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (wallet_balance_cents >= 0),
  payout_phone TEXT,
  payout_provider TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  amount_cents INTEGER NOT NULL,
  balance_before_cents INTEGER NOT NULL,
  balance_after_cents INTEGER NOT NULL,
  order_id TEXT,
  withdrawal_id TEXT,
  note TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type stubGateway struct {
	err   error
	calls int
}

func (g *stubGateway) Initiate(_ context.Context, params paygate.InitiateParams) (*paygate.InitiateResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &paygate.InitiateResult{
		TxRef:       params.TxRef,
		CheckoutURL: "https://pay.example/" + params.TxRef,
	}, nil
}

func (g *stubGateway) Currency() string { return "TZS" }

type stubNotifier struct {
	events []notifications.Event
}

func (n *stubNotifier) Notify(_ context.Context, event notifications.Event) {
	n.events = append(n.events, event)
}

func newCheckoutService(t *testing.T, db *gorm.DB, gateway Gateway, mutate ...func(*ServiceParams)) (Service, *stubNotifier) {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "checkout-test"})
	notifier := &stubNotifier{}

	walletSvc, err := wallet.NewService(db)
	require.NoError(t, err)

	ordersRepo := orders.NewRepository(db)
	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		DB:     db,
		Repo:   ordersRepo,
		Wallet: walletSvc,
		Config: config.EscrowConfig{
			CodeLength:        8,
			CodeTTL:           720 * time.Hour,
			CommissionPercent: "10",
		},
		Logger:   logg,
		Notifier: notifier,
	})
	require.NoError(t, err)

	params := ServiceParams{
		DB:        db,
		Orders:    ordersRepo,
		Payments:  payments.NewRepository(db),
		Shops:     shops.NewRepository(db),
		Inventory: inventory.NewService(),
		Escrow:    escrowSvc,
		Gateway:   gateway,
		Config:    config.CheckoutConfig{PaymentTTL: 30 * time.Minute},
		Logger:    logg,
		Notifier:  notifier,
	}
	for _, fn := range mutate {
		fn(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return svc, notifier
}

type cartSeed struct {
	stock        int
	quantity     int
	priceCents   int
	baseCents    int
	available    bool
	baseFee      int
	freeOver     *int
	supportsHome bool
}

func seedCart(t *testing.T, db *gorm.DB, buyerID uuid.UUID, seed cartSeed) (*models.Order, *models.Listing, *models.Shop) {
	t.Helper()

	shop := &models.Shop{
		ID:                    uuid.New(),
		Name:                  "Kariakoo Traders",
		City:                  "Dar es Salaam",
		SupportsHomeDelivery:  seed.supportsHome,
		DeliveryBaseFeeCents:  seed.baseFee,
		FreeDeliveryOverCents: seed.freeOver,
	}
	require.NoError(t, db.Create(shop).Error)

	listing := &models.Listing{
		ID:             uuid.New(),
		ShopID:         shop.ID,
		ProductName:    "Coffee Beans 1kg",
		PriceCents:     seed.priceCents,
		BasePriceCents: seed.baseCents,
		StockQuantity:  seed.stock,
		IsAvailable:    seed.available,
	}
	require.NoError(t, db.Create(listing).Error)

	cart := &models.Order{
		ID:          uuid.New(),
		BuyerID:     buyerID,
		ShopID:      shop.ID,
		Status:      enums.OrderStatusCart,
		OrderNumber: "TMP-" + uuid.NewString(),
	}
	require.NoError(t, db.Create(cart).Error)

	item := &models.OrderItem{
		ID:             uuid.New(),
		OrderID:        cart.ID,
		ListingID:      listing.ID,
		ProductName:    listing.ProductName,
		UnitPriceCents: listing.PriceCents,
		Quantity:       seed.quantity,
	}
	require.NoError(t, db.Create(item).Error)
	return cart, listing, shop
}

func TestCheckoutCashOnDeliveryConfirmsAndIssuesCode(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc, _ := newCheckoutService(t, db, &stubGateway{})
	buyerID := uuid.New()
	cart, listing, _ := seedCart(t, db, buyerID, cartSeed{
		stock: 2, quantity: 2, priceCents: 1500, baseCents: 1000, available: true, supportsHome: true,
	})

	result, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodCashOnDelivery,
		DeliveryMethod: enums.DeliveryMethodHome,
		BuyerCity:      "Dar es Salaam",
	})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.True(t, strings.HasPrefix(result.TxRef, "OFF-"))
	assert.Empty(t, result.CheckoutURL)

	placed := result.Orders[0]
	assert.Equal(t, enums.OrderStatusConfirmed, placed.Status)
	assert.True(t, strings.HasPrefix(placed.OrderNumber, "ORD-"))
	assert.Equal(t, 3000, placed.TotalCents)
	require.NotNil(t, placed.ReleaseCode)
	assert.Equal(t, enums.ReleaseCodeStatusPending, placed.ReleaseCodeStatus)

	var storedListing models.Listing
	require.NoError(t, db.First(&storedListing, "id = ?", listing.ID).Error)
	assert.Equal(t, 0, storedListing.StockQuantity)

	var payment models.Payment
	require.NoError(t, db.First(&payment, "order_id = ?", cart.ID).Error)
	assert.Equal(t, enums.PaymentMethodCashOnDelivery, payment.Method)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Nil(t, payment.ExpiredAt)
}

func TestCheckoutRejectsStockShortfallWithoutSideEffects(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc, _ := newCheckoutService(t, db, &stubGateway{})
	buyerID := uuid.New()
	cart, listing, _ := seedCart(t, db, buyerID, cartSeed{
		stock: 1, quantity: 2, priceCents: 1500, available: true, supportsHome: true,
	})

	_, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodCashOnDelivery,
		DeliveryMethod: enums.DeliveryMethodHome,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	issues, ok := details["issues"].([]ItemIssue)
	require.True(t, ok)
	require.Len(t, issues, 1)
	assert.Equal(t, "INSUFFICIENT_STOCK", issues[0].Reason)
	assert.Equal(t, 1, issues[0].Available)

	var storedListing models.Listing
	require.NoError(t, db.First(&storedListing, "id = ?", listing.ID).Error)
	assert.Equal(t, 1, storedListing.StockQuantity)

	var storedCart models.Order
	require.NoError(t, db.First(&storedCart, "id = ?", cart.ID).Error)
	assert.Equal(t, enums.OrderStatusCart, storedCart.Status)
}

func TestCheckoutGatewayInitiationFailureCompensates(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	gatewayErr := pkgerrors.New(pkgerrors.CodeDependency, "gateway unreachable")
	svc, _ := newCheckoutService(t, db, &stubGateway{err: gatewayErr})
	buyerID := uuid.New()
	cart, listing, _ := seedCart(t, db, buyerID, cartSeed{
		stock: 5, quantity: 2, priceCents: 2000, available: true, supportsHome: true,
	})

	_, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodGateway,
		DeliveryMethod: enums.DeliveryMethodHome,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())

	var storedListing models.Listing
	require.NoError(t, db.First(&storedListing, "id = ?", listing.ID).Error)
	assert.Equal(t, 5, storedListing.StockQuantity)

	var storedCart models.Order
	require.NoError(t, db.First(&storedCart, "id = ?", cart.ID).Error)
	assert.Equal(t, enums.OrderStatusCart, storedCart.Status)
	assert.True(t, strings.HasPrefix(storedCart.OrderNumber, "TMP-"))

	var paymentCount int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&paymentCount).Error)
	assert.Equal(t, int64(0), paymentCount)
}

// staleNumberOrdersRepo reports no assigned numbers for the first N reads,
// steering the placement at an order number that is already taken.
type staleNumberOrdersRepo struct {
	orders.Repository
	staleReads *int
}

func (r *staleNumberOrdersRepo) WithTx(tx *gorm.DB) orders.Repository {
	return &staleNumberOrdersRepo{Repository: r.Repository.WithTx(tx), staleReads: r.staleReads}
}

func (r *staleNumberOrdersRepo) HighestOrderNumber(ctx context.Context, prefix string) (string, error) {
	if *r.staleReads > 0 {
		*r.staleReads--
		return "", nil
	}
	return r.Repository.HighestOrderNumber(ctx, prefix)
}

func TestCheckoutRetriesOrderNumberCollision(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	staleReads := 1
	svc, _ := newCheckoutService(t, db, &stubGateway{}, func(params *ServiceParams) {
		params.Orders = &staleNumberOrdersRepo{Repository: params.Orders, staleReads: &staleReads}
	})
	buyerID := uuid.New()
	_, listing, _ := seedCart(t, db, buyerID, cartSeed{
		stock: 5, quantity: 1, priceCents: 1000, available: true, supportsHome: true,
	})

	// another checkout already holds this year's first number
	year := time.Now().UTC().Year()
	taken := &models.Order{
		ID:          uuid.New(),
		BuyerID:     uuid.New(),
		ShopID:      uuid.New(),
		Status:      enums.OrderStatusConfirmed,
		OrderNumber: fmt.Sprintf("ORD-%d-%06d", year, 1),
	}
	require.NoError(t, db.Create(taken).Error)

	result, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodCashOnDelivery,
		DeliveryMethod: enums.DeliveryMethodHome,
	})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, fmt.Sprintf("ORD-%d-%06d", year, 2), result.Orders[0].OrderNumber)

	var storedListing models.Listing
	require.NoError(t, db.First(&storedListing, "id = ?", listing.ID).Error)
	assert.Equal(t, 4, storedListing.StockQuantity)

	// the colliding attempt rolled back, so only one reservation was recorded
	var adjustments int64
	require.NoError(t, db.Model(&models.StockAdjustment{}).Count(&adjustments).Error)
	assert.Equal(t, int64(1), adjustments)
}

// failingPaymentsRepo rejects every payment insert.
type failingPaymentsRepo struct {
	payments.Repository
}

func (r *failingPaymentsRepo) WithTx(*gorm.DB) payments.Repository {
	return r
}

func (r *failingPaymentsRepo) Create(context.Context, *models.Payment) error {
	return fmt.Errorf("payments insert rejected")
}

func TestCheckoutOfflineSettlementFailureCompensates(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc, _ := newCheckoutService(t, db, &stubGateway{}, func(params *ServiceParams) {
		params.Payments = &failingPaymentsRepo{Repository: params.Payments}
	})
	buyerID := uuid.New()
	cart, listing, _ := seedCart(t, db, buyerID, cartSeed{
		stock: 4, quantity: 2, priceCents: 1500, available: true, supportsHome: true,
	})

	_, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodCashOnDelivery,
		DeliveryMethod: enums.DeliveryMethodHome,
	})
	require.Error(t, err)

	var storedListing models.Listing
	require.NoError(t, db.First(&storedListing, "id = ?", listing.ID).Error)
	assert.Equal(t, 4, storedListing.StockQuantity)

	var storedCart models.Order
	require.NoError(t, db.First(&storedCart, "id = ?", cart.ID).Error)
	assert.Equal(t, enums.OrderStatusCart, storedCart.Status)
	assert.True(t, strings.HasPrefix(storedCart.OrderNumber, "TMP-"))
	assert.Nil(t, storedCart.ConfirmedAt)

	var paymentCount int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&paymentCount).Error)
	assert.Equal(t, int64(0), paymentCount)
}

func TestCheckoutGatewayFansOutPaymentsSharingTxRef(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	gateway := &stubGateway{}
	svc, _ := newCheckoutService(t, db, gateway)
	buyerID := uuid.New()
	seedCart(t, db, buyerID, cartSeed{stock: 5, quantity: 1, priceCents: 1000, available: true, supportsHome: true})
	seedCart(t, db, buyerID, cartSeed{stock: 5, quantity: 2, priceCents: 2500, available: true, supportsHome: true})

	result, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodGateway,
		DeliveryMethod: enums.DeliveryMethodHome,
	})
	require.NoError(t, err)
	require.Len(t, result.Orders, 2)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, 7000, result.TotalCents)
	assert.NotEmpty(t, result.CheckoutURL)

	for _, order := range result.Orders {
		assert.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	}

	var rows []models.Payment
	require.NoError(t, db.Where("tx_ref = ?", result.TxRef).Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, enums.PaymentStatusPending, row.Status)
		require.NotNil(t, row.ExpiredAt)
	}

	// distinct sequential order numbers under the same year prefix
	assert.NotEqual(t, result.Orders[0].OrderNumber, result.Orders[1].OrderNumber)
}

func TestCheckoutEmptyCart(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc, _ := newCheckoutService(t, db, &stubGateway{})

	_, err := svc.Checkout(context.Background(), Input{
		BuyerID:        uuid.New(),
		PaymentMethod:  enums.PaymentMethodGateway,
		DeliveryMethod: enums.DeliveryMethodHome,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EMPTY_CART", details["reason"])
}

func TestCheckoutRejectsUnsupportedDeliveryMethod(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc, _ := newCheckoutService(t, db, &stubGateway{})
	buyerID := uuid.New()
	_, listing, _ := seedCart(t, db, buyerID, cartSeed{
		stock: 5, quantity: 1, priceCents: 1000, available: true, supportsHome: true,
	})

	_, err := svc.Checkout(context.Background(), Input{
		BuyerID:        buyerID,
		PaymentMethod:  enums.PaymentMethodCashOnDelivery,
		DeliveryMethod: enums.DeliveryMethodDepot,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	// rejected before any stock mutation
	var storedListing models.Listing
	require.NoError(t, db.First(&storedListing, "id = ?", listing.ID).Error)
	assert.Equal(t, 5, storedListing.StockQuantity)
}

func TestCheckoutDeliveryFeeSchedule(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc, _ := newCheckoutService(t, db, &stubGateway{})

	t.Run("base fee below threshold", func(t *testing.T) {
		buyerID := uuid.New()
		freeOver := 10000
		seedCart(t, db, buyerID, cartSeed{
			stock: 5, quantity: 1, priceCents: 2000, available: true, supportsHome: true,
			baseFee: 500, freeOver: &freeOver,
		})
		result, err := svc.Checkout(context.Background(), Input{
			BuyerID:        buyerID,
			PaymentMethod:  enums.PaymentMethodCashOnDelivery,
			DeliveryMethod: enums.DeliveryMethodHome,
			BuyerCity:      "Dar es Salaam",
		})
		require.NoError(t, err)
		assert.Equal(t, 500, result.Orders[0].DeliveryFeeCents)
		assert.Equal(t, 2500, result.Orders[0].TotalCents)
	})

	t.Run("free over threshold", func(t *testing.T) {
		buyerID := uuid.New()
		freeOver := 10000
		seedCart(t, db, buyerID, cartSeed{
			stock: 10, quantity: 6, priceCents: 2000, available: true, supportsHome: true,
			baseFee: 500, freeOver: &freeOver,
		})
		result, err := svc.Checkout(context.Background(), Input{
			BuyerID:        buyerID,
			PaymentMethod:  enums.PaymentMethodCashOnDelivery,
			DeliveryMethod: enums.DeliveryMethodHome,
			BuyerCity:      "Dar es Salaam",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Orders[0].DeliveryFeeCents)
		assert.Equal(t, 12000, result.Orders[0].TotalCents)
	})
}
