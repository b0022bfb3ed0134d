package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
)

// Payment tracks money collection for one order. Orders settled in a single
// gateway checkout share a tx_ref across their Payment rows.
type Payment struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID              `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	TxRef         string                 `gorm:"column:tx_ref;not null;index"`
	Method        enums.PaymentMethod    `gorm:"column:method;type:payment_method;not null;default:'gateway'"`
	Status        enums.PaymentStatus    `gorm:"column:status;type:payment_status;not null;default:'PENDING'"`
	AmountCents   int                    `gorm:"column:amount_cents;not null"`
	Currency      string                 `gorm:"column:currency;not null;default:'TZS'"`
	ExpiredAt     *time.Time             `gorm:"column:expired_at"`
	VerifiedBy    *enums.PaymentVerifier `gorm:"column:verified_by;type:payment_verifier"`
	PaidAt        *time.Time             `gorm:"column:paid_at"`
	FailureReason *string                `gorm:"column:failure_reason"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
