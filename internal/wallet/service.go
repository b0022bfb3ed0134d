package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/pagination"
)

// Service is the only writer of shop wallet balances. Every balance mutation
// pairs with exactly one WalletTransaction row in the same transaction.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error)
	// RevertDebit restores a PENDING payout hold and marks its ledger row with
	// the given terminal status. Reverting a non-PENDING row is a no-op.
	RevertDebit(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, status enums.WalletTransactionStatus) error
	SetTransactionStatus(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, status enums.WalletTransactionStatus) error
	Balance(ctx context.Context, shopID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, string, error)
}

// CreditInput moves money into a shop's spendable balance.
type CreditInput struct {
	ShopID      uuid.UUID
	AmountCents int
	OrderID     *uuid.UUID
	Note        string
}

// DebitInput places an optimistic hold against a shop's balance.
type DebitInput struct {
	ShopID       uuid.UUID
	AmountCents  int
	WithdrawalID *uuid.UUID
	Note         string
}

type service struct {
	db *gorm.DB
}

// NewService wires the wallet manager.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("wallet db handle required")
	}
	return &service{db: db}, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet credit requires a transaction")
	}
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}

	result := tx.WithContext(ctx).
		Model(&models.Shop{}).
		Where("id = ?", input.ShopID).
		Update("wallet_balance_cents", gorm.Expr("wallet_balance_cents + ?", input.AmountCents))
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "crediting wallet")
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("shop %s not found", input.ShopID))
	}

	after, err := s.readBalance(ctx, tx, input.ShopID)
	if err != nil {
		return nil, err
	}

	row := models.WalletTransaction{
		ID:                 uuid.New(),
		ShopID:             input.ShopID,
		Type:               enums.WalletTransactionTypeCredit,
		Status:             enums.WalletTransactionStatusCompleted,
		AmountCents:        input.AmountCents,
		BalanceBeforeCents: after - input.AmountCents,
		BalanceAfterCents:  after,
		OrderID:            input.OrderID,
	}
	if input.Note != "" {
		row.Note = &input.Note
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing credit ledger row")
	}
	return &row, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet debit requires a transaction")
	}
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}

	result := tx.WithContext(ctx).
		Model(&models.Shop{}).
		Where("id = ? AND wallet_balance_cents >= ?", input.ShopID, input.AmountCents).
		Update("wallet_balance_cents", gorm.Expr("wallet_balance_cents - ?", input.AmountCents))
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "debiting wallet")
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.WithContext(ctx).Model(&models.Shop{}).Where("id = ?", input.ShopID).Count(&count).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking shop existence")
		}
		if count == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("shop %s not found", input.ShopID))
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient wallet balance")
	}

	after, err := s.readBalance(ctx, tx, input.ShopID)
	if err != nil {
		return nil, err
	}

	row := models.WalletTransaction{
		ID:                 uuid.New(),
		ShopID:             input.ShopID,
		Type:               enums.WalletTransactionTypePayout,
		Status:             enums.WalletTransactionStatusPending,
		AmountCents:        -input.AmountCents,
		BalanceBeforeCents: after + input.AmountCents,
		BalanceAfterCents:  after,
		WithdrawalID:       input.WithdrawalID,
	}
	if input.Note != "" {
		row.Note = &input.Note
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing payout ledger row")
	}
	return &row, nil
}

func (s *service) RevertDebit(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, status enums.WalletTransactionStatus) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "wallet revert requires a transaction")
	}
	if status != enums.WalletTransactionStatusFailed && status != enums.WalletTransactionStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeValidation, "revert status must be FAILED or CANCELLED")
	}

	var row models.WalletTransaction
	if err := tx.WithContext(ctx).First(&row, "id = ?", transactionID).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "loading ledger row")
	}
	if row.Type != enums.WalletTransactionTypePayout {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only payout holds can be reverted")
	}
	if row.Status != enums.WalletTransactionStatusPending {
		return nil
	}

	// AmountCents is negative on payout rows; subtracting it restores the hold
	result := tx.WithContext(ctx).
		Model(&models.Shop{}).
		Where("id = ?", row.ShopID).
		Update("wallet_balance_cents", gorm.Expr("wallet_balance_cents - ?", row.AmountCents))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "restoring wallet balance")
	}

	updates := map[string]any{"status": status}
	if err := tx.WithContext(ctx).Model(&models.WalletTransaction{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking ledger row reverted")
	}
	return nil
}

func (s *service) SetTransactionStatus(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, status enums.WalletTransactionStatus) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "wallet update requires a transaction")
	}
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", status))
	}
	result := tx.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ?", transactionID).
		Update("status", status)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "updating ledger row status")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("wallet transaction %s not found", transactionID))
	}
	return nil
}

func (s *service) Balance(ctx context.Context, shopID uuid.UUID) (int, error) {
	var shop models.Shop
	if err := s.db.WithContext(ctx).Select("wallet_balance_cents").First(&shop, "id = ?", shopID).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "loading shop wallet")
	}
	return shop.WalletBalanceCents, nil
}

func (s *service) ListTransactions(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, string, error) {
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

	var rows []models.WalletTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing wallet transactions")
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (s *service) readBalance(ctx context.Context, tx *gorm.DB, shopID uuid.UUID) (int, error) {
	var shop models.Shop
	if err := tx.WithContext(ctx).Select("wallet_balance_cents").First(&shop, "id = ?", shopID).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading wallet balance")
	}
	return shop.WalletBalanceCents, nil
}
