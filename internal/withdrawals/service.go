package withdrawals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/internal/shops"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/pagination"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
)

// Gateway is the disbursement surface of the payment gateway.
type Gateway interface {
	Disburse(ctx context.Context, params paygate.DisburseParams) (*paygate.DisburseResult, error)
}

// Service manages shop payout requests. The wallet hold is optimistic: the
// gross amount leaves the balance when the request is accepted and comes back
// only on definitive failure or cancellation.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Withdrawal, error)
	// Process pushes a PENDING withdrawal through the gateway. Definitive
	// gateway rejections revert the hold; transport-level failures leave the
	// row PENDING with a note for manual review.
	Process(ctx context.Context, withdrawalID uuid.UUID) (*models.Withdrawal, error)
	Cancel(ctx context.Context, withdrawalID, shopID uuid.UUID) (*models.Withdrawal, error)
	Get(ctx context.Context, withdrawalID, shopID uuid.UUID) (*models.Withdrawal, error)
	List(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.Withdrawal, string, error)
}

// RequestInput is one payout request. Phone/provider default to the shop's
// stored payout destination when empty.
type RequestInput struct {
	ShopID      uuid.UUID
	AmountCents int
	Phone       string
	Provider    string
}

// ServiceParams wires the withdrawal manager's collaborators.
type ServiceParams struct {
	DB       *gorm.DB
	Wallet   wallet.Service
	Shops    shops.Repository
	Gateway  Gateway
	Config   config.WalletConfig
	Logger   *logger.Logger
	Notifier notifications.Notifier
}

type service struct {
	db          *gorm.DB
	wallet      wallet.Service
	shops       shops.Repository
	gateway     Gateway
	minCents    int64
	maxCents    int64
	platformFee decimal.Decimal
	gatewayFee  decimal.Decimal
	logger      *logger.Logger
	notifier    notifications.Notifier
}

// NewService validates dependencies and parses the fee schedule.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("withdrawals db handle required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Shops == nil {
		return nil, fmt.Errorf("shops repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	platformFee, err := decimal.NewFromString(params.Config.PlatformFeePercent)
	if err != nil {
		return nil, fmt.Errorf("invalid platform fee percent %q: %w", params.Config.PlatformFeePercent, err)
	}
	gatewayFee, err := decimal.NewFromString(params.Config.GatewayFeePercent)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway fee percent %q: %w", params.Config.GatewayFeePercent, err)
	}
	return &service{
		db:          params.DB,
		wallet:      params.Wallet,
		shops:       params.Shops,
		gateway:     params.Gateway,
		minCents:    params.Config.WithdrawalMinCents,
		maxCents:    params.Config.WithdrawalMaxCents,
		platformFee: platformFee,
		gatewayFee:  gatewayFee,
		logger:      params.Logger,
		notifier:    params.Notifier,
	}, nil
}

func (s *service) Request(ctx context.Context, input RequestInput) (*models.Withdrawal, error) {
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if int64(input.AmountCents) < s.minCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("withdrawal amount is below the %d cents minimum", s.minCents))
	}
	if int64(input.AmountCents) > s.maxCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("withdrawal amount exceeds the %d cents maximum", s.maxCents))
	}
	ctx = s.logger.WithShopID(ctx, input.ShopID.String())

	shop, err := s.shops.GetByID(ctx, input.ShopID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading shop")
	}

	phone := input.Phone
	if phone == "" && shop.PayoutPhone != nil {
		phone = *shop.PayoutPhone
	}
	provider := input.Provider
	if provider == "" && shop.PayoutProvider != nil {
		provider = *shop.PayoutProvider
	}
	if phone == "" || provider == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout phone and provider are required")
	}

	fee := s.feeCents(input.AmountCents)
	withdrawalID := uuid.New()

	var created *models.Withdrawal
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.WithContext(ctx).
			Model(&models.Withdrawal{}).
			Where("shop_id = ? AND status IN ?", input.ShopID,
				[]enums.WithdrawalStatus{enums.WithdrawalStatusPending, enums.WithdrawalStatusProcessing}).
			Count(&open).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking open withdrawals")
		}
		if open > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "another withdrawal is already in progress")
		}

		note := fmt.Sprintf("Withdrawal hold - %s", withdrawalID)
		hold, err := s.wallet.Debit(ctx, tx, wallet.DebitInput{
			ShopID:       input.ShopID,
			AmountCents:  input.AmountCents,
			WithdrawalID: &withdrawalID,
			Note:         note,
		})
		if err != nil {
			return err
		}

		created = &models.Withdrawal{
			ID:                 withdrawalID,
			ShopID:             input.ShopID,
			AmountCents:        input.AmountCents,
			FeeCents:           fee,
			NetAmountCents:     input.AmountCents - fee,
			RecipientPhone:     phone,
			RecipientProvider:  provider,
			TxRef:              fmt.Sprintf("WDR-%s", uuid.NewString()),
			Status:             enums.WithdrawalStatusPending,
			BalanceBeforeCents: hold.BalanceBeforeCents,
			BalanceAfterCents:  hold.BalanceAfterCents,
			TransactionID:      &hold.ID,
		}
		if err := tx.WithContext(ctx).Create(created).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating withdrawal")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"withdrawal_id": created.ID.String(),
		"amount_cents":  created.AmountCents,
		"fee_cents":     created.FeeCents,
	}), "withdrawal requested")
	return created, nil
}

func (s *service) Process(ctx context.Context, withdrawalID uuid.UUID) (*models.Withdrawal, error) {
	withdrawal, err := s.load(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"withdrawal_id": withdrawal.ID.String(),
		"shop_id":       withdrawal.ShopID.String(),
	})

	// claiming PENDING -> PROCESSING makes concurrent processors safe
	claim := s.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", withdrawal.ID, enums.WithdrawalStatusPending).
		Update("status", enums.WithdrawalStatusProcessing)
	if claim.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, claim.Error, "claiming withdrawal")
	}
	if claim.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("withdrawal is %s, not PENDING", withdrawal.Status))
	}

	_, disburseErr := s.gateway.Disburse(ctx, paygate.DisburseParams{
		TxRef:       withdrawal.TxRef,
		AmountCents: int64(withdrawal.NetAmountCents),
		Phone:       withdrawal.RecipientPhone,
		Network:     withdrawal.RecipientProvider,
		Narration:   fmt.Sprintf("Sokoni payout %s", withdrawal.TxRef),
	})
	if disburseErr != nil {
		return s.handleDisburseFailure(ctx, withdrawal, disburseErr)
	}

	now := time.Now().UTC()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Model(&models.Withdrawal{}).
			Where("id = ?", withdrawal.ID).
			Updates(map[string]any{
				"status":       enums.WithdrawalStatusCompleted,
				"processed_at": now,
			}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "completing withdrawal")
		}
		if withdrawal.TransactionID != nil {
			return s.wallet.SetTransactionStatus(ctx, tx, *withdrawal.TransactionID, enums.WalletTransactionStatusCompleted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "withdrawal paid out")
	s.notifier.Notify(ctx, notifications.Event{
		Kind:   notifications.KindPayoutCompleted,
		ShopID: withdrawal.ShopID,
		Data:   map[string]any{"withdrawal_id": withdrawal.ID.String(), "net_cents": withdrawal.NetAmountCents},
	})
	return s.load(ctx, withdrawal.ID)
}

func (s *service) Cancel(ctx context.Context, withdrawalID, shopID uuid.UUID) (*models.Withdrawal, error) {
	var cancelled *models.Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var withdrawal models.Withdrawal
		if err := tx.WithContext(ctx).First(&withdrawal, "id = ? AND shop_id = ?", withdrawalID, shopID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading withdrawal")
		}

		guard := tx.WithContext(ctx).
			Model(&models.Withdrawal{}).
			Where("id = ? AND status = ?", withdrawal.ID, enums.WithdrawalStatusPending).
			Update("status", enums.WithdrawalStatusCancelled)
		if guard.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, guard.Error, "cancelling withdrawal")
		}
		if guard.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot cancel a %s withdrawal", withdrawal.Status))
		}

		if withdrawal.TransactionID != nil {
			if err := s.wallet.RevertDebit(ctx, tx, *withdrawal.TransactionID, enums.WalletTransactionStatusCancelled); err != nil {
				return err
			}
		}
		cancelled = &withdrawal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, cancelled.ID)
}

func (s *service) Get(ctx context.Context, withdrawalID, shopID uuid.UUID) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	if err := s.db.WithContext(ctx).First(&withdrawal, "id = ? AND shop_id = ?", withdrawalID, shopID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading withdrawal")
	}
	return &withdrawal, nil
}

func (s *service) List(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.Withdrawal, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	query := s.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Withdrawal
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing withdrawals")
	}
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

// handleDisburseFailure distinguishes definitive gateway rejections (revert
// the hold) from transport-level unknowns (money may have moved, hold stays).
func (s *service) handleDisburseFailure(ctx context.Context, withdrawal *models.Withdrawal, disburseErr error) (*models.Withdrawal, error) {
	note := disburseErr.Error()
	typed := pkgerrors.As(disburseErr)
	definitive := typed != nil && (typed.Code() == pkgerrors.CodeNotFound || typed.Code() == pkgerrors.CodeForbidden)

	if definitive {
		now := time.Now().UTC()
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.WithContext(ctx).
				Model(&models.Withdrawal{}).
				Where("id = ?", withdrawal.ID).
				Updates(map[string]any{
					"status":       enums.WithdrawalStatusFailed,
					"failure_note": note,
					"processed_at": now,
				}).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failing withdrawal")
			}
			if withdrawal.TransactionID != nil {
				return s.wallet.RevertDebit(ctx, tx, *withdrawal.TransactionID, enums.WalletTransactionStatusFailed)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.logger.Warn(s.logger.WithField(ctx, "failure_note", note), "gateway rejected payout, hold reverted")
		s.notifier.Notify(ctx, notifications.Event{
			Kind:   notifications.KindPayoutFailed,
			ShopID: withdrawal.ShopID,
			Data:   map[string]any{"withdrawal_id": withdrawal.ID.String(), "reason": note},
		})
		return s.load(ctx, withdrawal.ID)
	}

	// unknown outcome: the transfer may have gone through, so the hold must
	// not be reverted until an operator reconciles it
	if err := s.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ?", withdrawal.ID).
		Updates(map[string]any{
			"status":       enums.WithdrawalStatusPending,
			"failure_note": note,
		}).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording payout failure note")
	}
	s.logger.Error(ctx, "payout outcome unknown, left for manual review", disburseErr)
	return nil, disburseErr
}

func (s *service) load(ctx context.Context, withdrawalID uuid.UUID) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	if err := s.db.WithContext(ctx).First(&withdrawal, "id = ?", withdrawalID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading withdrawal")
	}
	return &withdrawal, nil
}

// feeCents is the platform plus gateway percentage of the gross amount,
// rounded up so fees never round in the shop's favor.
func (s *service) feeCents(amountCents int) int {
	total := s.platformFee.Add(s.gatewayFee)
	fee := decimal.NewFromInt(int64(amountCents)).
		Mul(total).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()
	return int(fee)
}
