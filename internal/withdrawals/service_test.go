package withdrawals

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/internal/shops"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
)

func setupWithdrawalsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:withdrawals_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
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
		`CREATE TABLE IF NOT EXISTS withdrawals (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  net_amount_cents INTEGER NOT NULL,
  recipient_phone TEXT NOT NULL,
  recipient_provider TEXT NOT NULL,
  tx_ref TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'PENDING',
  balance_before_cents INTEGER NOT NULL,
  balance_after_cents INTEGER NOT NULL,
  transaction_id TEXT,
  failure_note TEXT,
  processed_at DATETIME,
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

func (g *stubGateway) Disburse(_ context.Context, params paygate.DisburseParams) (*paygate.DisburseResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &paygate.DisburseResult{Reference: params.TxRef}, nil
}

type stubNotifier struct {
	events []notifications.Event
}

func (n *stubNotifier) Notify(_ context.Context, event notifications.Event) {
	n.events = append(n.events, event)
}

func newWithdrawalService(t *testing.T, db *gorm.DB, gateway Gateway) (Service, *stubNotifier) {
	t.Helper()

	walletSvc, err := wallet.NewService(db)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	svc, err := NewService(ServiceParams{
		DB:      db,
		Wallet:  walletSvc,
		Shops:   shops.NewRepository(db),
		Gateway: gateway,
		Config: config.WalletConfig{
			WithdrawalMinCents: 1000,
			WithdrawalMaxCents: 10000000,
			PlatformFeePercent: "1",
			GatewayFeePercent:  "1.5",
		},
		Logger:   logger.New(logger.Options{ServiceName: "withdrawals-test"}),
		Notifier: notifier,
	})
	require.NoError(t, err)
	return svc, notifier
}

func seedShop(t *testing.T, db *gorm.DB, balance int) *models.Shop {
	t.Helper()

	phone := "255700112233"
	provider := "vodacom"
	shop := &models.Shop{
		ID:                 uuid.New(),
		Name:               "Arusha Leather Works",
		City:               "Arusha",
		WalletBalanceCents: balance,
		PayoutPhone:        &phone,
		PayoutProvider:     &provider,
	}
	require.NoError(t, db.Create(shop).Error)
	return shop
}

func TestRequestHoldsBalanceAndComputesFee(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	svc, _ := newWithdrawalService(t, db, &stubGateway{})
	shop := seedShop(t, db, 200000)

	withdrawal, err := svc.Request(context.Background(), RequestInput{
		ShopID:      shop.ID,
		AmountCents: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusPending, withdrawal.Status)
	// 1% platform + 1.5% gateway on 100000
	assert.Equal(t, 2500, withdrawal.FeeCents)
	assert.Equal(t, 97500, withdrawal.NetAmountCents)
	assert.Equal(t, 200000, withdrawal.BalanceBeforeCents)
	assert.Equal(t, 100000, withdrawal.BalanceAfterCents)
	assert.Equal(t, "255700112233", withdrawal.RecipientPhone)
	require.NotNil(t, withdrawal.TransactionID)

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 100000, storedShop.WalletBalanceCents)

	var hold models.WalletTransaction
	require.NoError(t, db.First(&hold, "id = ?", *withdrawal.TransactionID).Error)
	assert.Equal(t, enums.WalletTransactionTypePayout, hold.Type)
	assert.Equal(t, enums.WalletTransactionStatusPending, hold.Status)
	assert.Equal(t, -100000, hold.AmountCents)
}

func TestRequestRejectsInsufficientBalance(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	svc, _ := newWithdrawalService(t, db, &stubGateway{})
	shop := seedShop(t, db, 5000)

	_, err := svc.Request(context.Background(), RequestInput{
		ShopID:      shop.ID,
		AmountCents: 50000,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	var withdrawalCount, transactionCount int64
	require.NoError(t, db.Model(&models.Withdrawal{}).Count(&withdrawalCount).Error)
	require.NoError(t, db.Model(&models.WalletTransaction{}).Count(&transactionCount).Error)
	assert.Equal(t, int64(0), withdrawalCount)
	assert.Equal(t, int64(0), transactionCount)

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 5000, storedShop.WalletBalanceCents)
}

func TestRequestRejectsConcurrentWithdrawal(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	svc, _ := newWithdrawalService(t, db, &stubGateway{})
	shop := seedShop(t, db, 500000)

	_, err := svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 100000})
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 50000})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestProcessCompletesWithdrawal(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	gateway := &stubGateway{}
	svc, notifier := newWithdrawalService(t, db, gateway)
	shop := seedShop(t, db, 300000)

	requested, err := svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 100000})
	require.NoError(t, err)

	processed, err := svc.Process(context.Background(), requested.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, processed.Status)
	require.NotNil(t, processed.ProcessedAt)
	assert.Equal(t, 1, gateway.calls)

	var hold models.WalletTransaction
	require.NoError(t, db.First(&hold, "id = ?", *requested.TransactionID).Error)
	assert.Equal(t, enums.WalletTransactionStatusCompleted, hold.Status)

	// the hold stays spent
	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 200000, storedShop.WalletBalanceCents)

	require.NotEmpty(t, notifier.events)
	assert.Equal(t, notifications.KindPayoutCompleted, notifier.events[len(notifier.events)-1].Kind)
}

func TestProcessDefinitiveRejectionRevertsHold(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	gateway := &stubGateway{err: pkgerrors.New(pkgerrors.CodeForbidden, "transfers not enabled for merchant")}
	svc, notifier := newWithdrawalService(t, db, gateway)
	shop := seedShop(t, db, 300000)

	requested, err := svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 100000})
	require.NoError(t, err)

	failed, err := svc.Process(context.Background(), requested.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureNote)

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 300000, storedShop.WalletBalanceCents)

	var hold models.WalletTransaction
	require.NoError(t, db.First(&hold, "id = ?", *requested.TransactionID).Error)
	assert.Equal(t, enums.WalletTransactionStatusFailed, hold.Status)

	require.NotEmpty(t, notifier.events)
	assert.Equal(t, notifications.KindPayoutFailed, notifier.events[len(notifier.events)-1].Kind)
}

func TestProcessTransportFailureLeavesPending(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	gateway := &stubGateway{err: pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")}
	svc, _ := newWithdrawalService(t, db, gateway)
	shop := seedShop(t, db, 300000)

	requested, err := svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 100000})
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), requested.ID)
	require.Error(t, err)

	// money may have left the platform, the hold must stay until reviewed
	var stored models.Withdrawal
	require.NoError(t, db.First(&stored, "id = ?", requested.ID).Error)
	assert.Equal(t, enums.WithdrawalStatusPending, stored.Status)
	require.NotNil(t, stored.FailureNote)
	assert.Contains(t, *stored.FailureNote, "timeout")

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 200000, storedShop.WalletBalanceCents)

	var hold models.WalletTransaction
	require.NoError(t, db.First(&hold, "id = ?", *requested.TransactionID).Error)
	assert.Equal(t, enums.WalletTransactionStatusPending, hold.Status)
}

func TestCancelRevertsPendingHold(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	svc, _ := newWithdrawalService(t, db, &stubGateway{})
	shop := seedShop(t, db, 300000)

	requested, err := svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 100000})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), requested.ID, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCancelled, cancelled.Status)

	var storedShop models.Shop
	require.NoError(t, db.First(&storedShop, "id = ?", shop.ID).Error)
	assert.Equal(t, 300000, storedShop.WalletBalanceCents)

	// cancelled holds free the slot for a new request
	_, err = svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 50000})
	require.NoError(t, err)
}

func TestRequestEnforcesMinimumAndMaximum(t *testing.T) {
	t.Parallel()

	db := setupWithdrawalsTestDB(t)
	svc, _ := newWithdrawalService(t, db, &stubGateway{})
	shop := seedShop(t, db, 300000)

	_, err := svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 500})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	_, err = svc.Request(context.Background(), RequestInput{ShopID: shop.ID, AmountCents: 20000000})
	require.Error(t, err)
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}
