package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
)

// WalletTransaction is one wallet ledger row. AmountCents is signed: credits
// positive, payouts negative. Before/after snapshots come from the same
// transaction that moved the balance.
type WalletTransaction struct {
	ID                 uuid.UUID                     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID             uuid.UUID                     `gorm:"column:shop_id;type:uuid;not null;index"`
	Type               enums.WalletTransactionType   `gorm:"column:type;type:wallet_transaction_type;not null"`
	Status             enums.WalletTransactionStatus `gorm:"column:status;type:wallet_transaction_status;not null;default:'PENDING'"`
	AmountCents        int                           `gorm:"column:amount_cents;not null"`
	BalanceBeforeCents int                           `gorm:"column:balance_before_cents;not null"`
	BalanceAfterCents  int                           `gorm:"column:balance_after_cents;not null"`
	OrderID            *uuid.UUID                    `gorm:"column:order_id;type:uuid"`
	WithdrawalID       *uuid.UUID                    `gorm:"column:withdrawal_id;type:uuid"`
	Note               *string                       `gorm:"column:note"`
	CreatedAt          time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}
