package escrow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service owns the buyer-held release code and is the single authorized path
// that credits a shop wallet for a sale.
type Service interface {
	// GenerateCode issues a release code for a confirmed order. Idempotent: an
	// existing code is returned untouched.
	GenerateCode(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	VerifyReleaseCode(ctx context.Context, orderID uuid.UUID, submittedCode string, shopID uuid.UUID) (*models.Order, error)
	GetCode(ctx context.Context, orderID, buyerID uuid.UUID) (*ReleaseCodeView, error)
}

// ReleaseCodeView is the buyer-facing code surface.
type ReleaseCodeView struct {
	OrderID   uuid.UUID               `json:"order_id"`
	Code      string                  `json:"code"`
	Status    enums.ReleaseCodeStatus `json:"status"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
}

// ServiceParams wires the escrow subsystem's collaborators.
type ServiceParams struct {
	DB       *gorm.DB
	Repo     orders.Repository
	Wallet   wallet.Service
	Config   config.EscrowConfig
	Logger   *logger.Logger
	Notifier notifications.Notifier
}

type service struct {
	db         *gorm.DB
	repo       orders.Repository
	wallet     wallet.Service
	codeLength int
	codeTTL    time.Duration
	commission decimal.Decimal
	logger     *logger.Logger
	notifier   notifications.Notifier
}

// NewService validates dependencies and parses the commission schedule.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("escrow db handle required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	commission, err := decimal.NewFromString(params.Config.CommissionPercent)
	if err != nil {
		return nil, fmt.Errorf("invalid commission percent %q: %w", params.Config.CommissionPercent, err)
	}
	codeLength := params.Config.CodeLength
	if codeLength <= 0 {
		codeLength = 8
	}
	return &service{
		db:         params.DB,
		repo:       params.Repo,
		wallet:     params.Wallet,
		codeLength: codeLength,
		codeTTL:    params.Config.CodeTTL,
		commission: commission,
		logger:     params.Logger,
		notifier:   params.Notifier,
	}, nil
}

func (s *service) GenerateCode(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.GetByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if order.ReleaseCode != nil && *order.ReleaseCode != "" {
			result = order
			return nil
		}
		if order.Status != enums.OrderStatusConfirmed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot issue release code in status %s", order.Status))
		}

		code, err := randomCode(s.codeLength)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating release code")
		}
		expiry := time.Now().UTC().Add(s.codeTTL)
		if err := repo.Updates(ctx, order.ID, map[string]any{
			"release_code":        code,
			"release_code_status": enums.ReleaseCodeStatusPending,
			"release_code_expiry": expiry,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing release code")
		}
		result, err = repo.GetByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notifications.Event{
		Kind:    notifications.KindReleaseCodeIssued,
		UserID:  result.BuyerID,
		OrderID: result.ID,
	})
	return result, nil
}

func (s *service) VerifyReleaseCode(ctx context.Context, orderID uuid.UUID, submittedCode string, shopID uuid.UUID) (*models.Order, error) {
	if submittedCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "release code is required")
	}

	var result *models.Order
	var payout int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.GetByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if order.ShopID != shopID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another shop").
				WithDetails(map[string]any{"reason": "WRONG_SHOP"})
		}
		if order.ReleaseCode == nil || *order.ReleaseCode == "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no release code yet")
		}
		if order.ReleaseCodeStatus == enums.ReleaseCodeStatusVerified {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "release code already verified").
				WithDetails(map[string]any{"reason": "ALREADY_VERIFIED"})
		}
		if order.ReleaseCodeStatus == enums.ReleaseCodeStatusExpired ||
			(order.ReleaseCodeExpiry != nil && order.ReleaseCodeExpiry.Before(time.Now().UTC())) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "release code expired").
				WithDetails(map[string]any{"reason": "EXPIRED"})
		}
		if subtle.ConstantTimeCompare([]byte(*order.ReleaseCode), []byte(submittedCode)) != 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "release code does not match").
				WithDetails(map[string]any{"reason": "INVALID_CODE"})
		}

		// at-most-once: the guarded update is the verification point
		now := time.Now().UTC()
		guard := tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ? AND release_code_status = ?", order.ID, enums.ReleaseCodeStatusPending).
			Updates(map[string]any{
				"release_code_status": enums.ReleaseCodeStatusVerified,
				"code_verified_at":    now,
				"status":              enums.OrderStatusDelivered,
				"delivered_at":        now,
			})
		if guard.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, guard.Error, "marking code verified")
		}
		if guard.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "release code already verified").
				WithDetails(map[string]any{"reason": "ALREADY_VERIFIED"})
		}

		payout = s.payoutCents(order)
		if payout > 0 {
			note := fmt.Sprintf("Escrow release - Order %s", order.OrderNumber)
			if _, err := s.wallet.Credit(ctx, tx, wallet.CreditInput{
				ShopID:      order.ShopID,
				AmountCents: payout,
				OrderID:     &order.ID,
				Note:        note,
			}); err != nil {
				return err
			}
		}

		result, err = repo.GetByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logger.WithFields(ctx, map[string]any{
		"order_id":     result.ID.String(),
		"payout_cents": payout,
	})
	s.logger.Info(ctx, "escrow released to shop wallet")
	s.notifier.Notify(ctx, notifications.Event{
		Kind:    notifications.KindEscrowReleased,
		ShopID:  result.ShopID,
		OrderID: result.ID,
		Data:    map[string]any{"payout_cents": payout},
	})
	return result, nil
}

func (s *service) GetCode(ctx context.Context, orderID, buyerID uuid.UUID) (*ReleaseCodeView, error) {
	order, err := s.repo.GetOwnedByBuyer(ctx, orderID, buyerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if order.ReleaseCode == nil || *order.ReleaseCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order has no release code yet")
	}
	return &ReleaseCodeView{
		OrderID:   order.ID,
		Code:      *order.ReleaseCode,
		Status:    order.ReleaseCodeStatus,
		ExpiresAt: order.ReleaseCodeExpiry,
	}, nil
}

// payoutCents computes the seller payout: order total minus the platform's
// commission on the sell/base price spread. Commission rounds up to the cent
// so partial cents never leak to sellers.
func (s *service) payoutCents(order *models.Order) int {
	spread := 0
	for _, item := range order.Items {
		margin := item.UnitPriceCents - item.BasePriceCents
		if margin > 0 {
			spread += margin * item.Quantity
		}
	}
	commission := decimal.NewFromInt(int64(spread)).
		Mul(s.commission).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()
	payout := order.TotalCents - int(commission)
	if payout < 0 {
		return 0
	}
	return payout
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeCharset[n.Int64()]
	}
	return string(buf), nil
}
