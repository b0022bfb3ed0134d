package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

func setupEscrowTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:escrow_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  shop_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'CART',
  order_number TEXT NOT NULL,
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

type stubNotifier struct {
	events []notifications.Event
}

func (n *stubNotifier) Notify(_ context.Context, event notifications.Event) {
	n.events = append(n.events, event)
}

func newEscrowService(t *testing.T, db *gorm.DB) (Service, *stubNotifier) {
	t.Helper()

	walletSvc, err := wallet.NewService(db)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	svc, err := NewService(ServiceParams{
		DB:     db,
		Repo:   orders.NewRepository(db),
		Wallet: walletSvc,
		Config: config.EscrowConfig{
			CodeLength:        8,
			CodeTTL:           720 * time.Hour,
			CommissionPercent: "10",
		},
		Logger:   logger.New(logger.Options{ServiceName: "escrow-test"}),
		Notifier: notifier,
	})
	require.NoError(t, err)
	return svc, notifier
}

type escrowSeed struct {
	status      enums.OrderStatus
	totalCents  int
	unitCents   int
	baseCents   int
	quantity    int
	code        *string
	codeStatus  enums.ReleaseCodeStatus
	codeExpiry  *time.Time
	shopBalance int
}

func seedEscrowOrder(t *testing.T, db *gorm.DB, seed escrowSeed) (*models.Order, *models.Shop) {
	t.Helper()

	shop := &models.Shop{
		ID:                 uuid.New(),
		Name:               "Zanzibar Spice House",
		City:               "Zanzibar",
		WalletBalanceCents: seed.shopBalance,
	}
	require.NoError(t, db.Create(shop).Error)

	codeStatus := seed.codeStatus
	if codeStatus == "" {
		codeStatus = enums.ReleaseCodeStatusPending
	}
	order := &models.Order{
		ID:                uuid.New(),
		BuyerID:           uuid.New(),
		ShopID:            shop.ID,
		Status:            seed.status,
		OrderNumber:       "ORD-2026-" + uuid.NewString()[:6],
		TotalCents:        seed.totalCents,
		ReleaseCode:       seed.code,
		ReleaseCodeStatus: codeStatus,
		ReleaseCodeExpiry: seed.codeExpiry,
	}
	require.NoError(t, db.Create(order).Error)

	item := &models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ListingID:      uuid.New(),
		ProductName:    "Clove Bundle",
		UnitPriceCents: seed.unitCents,
		BasePriceCents: seed.baseCents,
		Quantity:       seed.quantity,
	}
	require.NoError(t, db.Create(item).Error)
	return order, shop
}

func futureExpiry() *time.Time {
	expiry := time.Now().UTC().Add(time.Hour)
	return &expiry
}

func TestGenerateCodeIsIdempotent(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, notifier := newEscrowService(t, db)
	order, _ := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, baseCents: 800, quantity: 1,
	})

	first, err := svc.GenerateCode(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReleaseCode)
	assert.Len(t, *first.ReleaseCode, 8)
	assert.Equal(t, enums.ReleaseCodeStatusPending, first.ReleaseCodeStatus)
	require.NotNil(t, first.ReleaseCodeExpiry)

	second, err := svc.GenerateCode(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.ReleaseCode, *second.ReleaseCode)
	require.Len(t, notifier.events, 2)
	assert.Equal(t, notifications.KindReleaseCodeIssued, notifier.events[0].Kind)
}

func TestGenerateCodeRejectsUnconfirmedOrder(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	order, _ := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusPendingPayment, totalCents: 1000, unitCents: 1000, quantity: 1,
	})

	_, err := svc.GenerateCode(context.Background(), order.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestVerifyReleaseCodeCreditsSellerPayout(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, notifier := newEscrowService(t, db)
	code := "AB12CD34"
	// total 1000, zero spread, so payout is the full 1000
	order, shop := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, baseCents: 1000, quantity: 1,
		code: &code, codeExpiry: futureExpiry(),
	})

	updated, err := svc.VerifyReleaseCode(context.Background(), order.ID, code, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReleaseCodeStatusVerified, updated.ReleaseCodeStatus)
	assert.Equal(t, enums.OrderStatusDelivered, updated.Status)
	require.NotNil(t, updated.CodeVerifiedAt)
	require.NotNil(t, updated.DeliveredAt)

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 1000, storedShop.WalletBalanceCents)

	var ledger []models.WalletTransaction
	require.NoError(t, db.Where("shop_id = ?", shop.ID).Find(&ledger).Error)
	require.Len(t, ledger, 1)
	assert.Equal(t, enums.WalletTransactionTypeCredit, ledger[0].Type)
	assert.Equal(t, enums.WalletTransactionStatusCompleted, ledger[0].Status)
	assert.Equal(t, 1000, ledger[0].AmountCents)
	require.NotNil(t, ledger[0].OrderID)
	assert.Equal(t, order.ID, *ledger[0].OrderID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notifications.KindEscrowReleased, notifier.events[0].Kind)
}

func TestVerifyReleaseCodeDeductsCommissionFromSpread(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	code := "ZX98WV76"
	// sell 1200, base 1000, qty 2: spread 400, commission 10% = 40, payout 2360
	order, shop := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 2400, unitCents: 1200, baseCents: 1000, quantity: 2,
		code: &code, codeExpiry: futureExpiry(),
	})

	_, err := svc.VerifyReleaseCode(context.Background(), order.ID, code, shop.ID)
	require.NoError(t, err)

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 2360, storedShop.WalletBalanceCents)
}

func TestVerifyReleaseCodeDoubleVerifyDoesNotDoubleCredit(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	code := "QQ11WW22"
	order, shop := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, baseCents: 1000, quantity: 1,
		code: &code, codeExpiry: futureExpiry(),
	})

	_, err := svc.VerifyReleaseCode(context.Background(), order.ID, code, shop.ID)
	require.NoError(t, err)

	_, err = svc.VerifyReleaseCode(context.Background(), order.ID, code, shop.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ALREADY_VERIFIED", details["reason"])

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 1000, storedShop.WalletBalanceCents)

	var count int64
	require.NoError(t, db.Model(&models.WalletTransaction{}).Where("shop_id = ?", shop.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestVerifyReleaseCodeWrongShop(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	code := "MM33NN44"
	order, _ := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, quantity: 1,
		code: &code, codeExpiry: futureExpiry(),
	})

	_, err := svc.VerifyReleaseCode(context.Background(), order.ID, code, uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "WRONG_SHOP", details["reason"])
}

func TestVerifyReleaseCodeWrongCode(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	code := "RR55TT66"
	order, shop := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, quantity: 1,
		code: &code, codeExpiry: futureExpiry(),
	})

	_, err := svc.VerifyReleaseCode(context.Background(), order.ID, "WRONG123", shop.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_CODE", details["reason"])

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 0, storedShop.WalletBalanceCents)
}

func TestVerifyReleaseCodeExpired(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	code := "EE77FF88"
	expired := time.Now().UTC().Add(-time.Hour)
	order, shop := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, quantity: 1,
		code: &code, codeExpiry: &expired,
	})

	_, err := svc.VerifyReleaseCode(context.Background(), order.ID, code, shop.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EXPIRED", details["reason"])
}

func TestGetCodeIsBuyerOnly(t *testing.T) {
	t.Parallel()

	db := setupEscrowTestDB(t)
	svc, _ := newEscrowService(t, db)
	code := "GG99HH00"
	order, _ := seedEscrowOrder(t, db, escrowSeed{
		status: enums.OrderStatusConfirmed, totalCents: 1000, unitCents: 1000, quantity: 1,
		code: &code, codeExpiry: futureExpiry(),
	})

	view, err := svc.GetCode(context.Background(), order.ID, order.BuyerID)
	require.NoError(t, err)
	assert.Equal(t, code, view.Code)
	assert.Equal(t, enums.ReleaseCodeStatusPending, view.Status)

	_, err = svc.GetCode(context.Background(), order.ID, uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
