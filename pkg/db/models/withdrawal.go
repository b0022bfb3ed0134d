package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
)

// Withdrawal is a shop's payout request. The gross amount is debited from the
// wallet when the request is accepted and restored only if the payout
// definitively fails or is cancelled.
type Withdrawal struct {
	ID                 uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID             uuid.UUID              `gorm:"column:shop_id;type:uuid;not null;index"`
	AmountCents        int                    `gorm:"column:amount_cents;not null"`
	FeeCents           int                    `gorm:"column:fee_cents;not null"`
	NetAmountCents     int                    `gorm:"column:net_amount_cents;not null"`
	RecipientPhone     string                 `gorm:"column:recipient_phone;not null"`
	RecipientProvider  string                 `gorm:"column:recipient_provider;not null"`
	TxRef              string                 `gorm:"column:tx_ref;not null;uniqueIndex"`
	Status             enums.WithdrawalStatus `gorm:"column:status;type:withdrawal_status;not null;default:'PENDING'"`
	BalanceBeforeCents int                    `gorm:"column:balance_before_cents;not null"`
	BalanceAfterCents  int                    `gorm:"column:balance_after_cents;not null"`
	TransactionID      *uuid.UUID             `gorm:"column:transaction_id;type:uuid"`
	FailureNote        *string                `gorm:"column:failure_note"`
	ProcessedAt        *time.Time             `gorm:"column:processed_at"`
	CreatedAt          time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
