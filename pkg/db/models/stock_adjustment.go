package models

import (
	"time"

	"github.com/google/uuid"
)

// StockAdjustment is the immutable audit row written alongside every stock
// mutation. QuantityAfter is the post-mutation count read in the same
// transaction.
type StockAdjustment struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID     uuid.UUID `gorm:"column:listing_id;type:uuid;not null;index"`
	Delta         int       `gorm:"column:delta;not null"`
	QuantityAfter int       `gorm:"column:quantity_after;not null"`
	Reason        string    `gorm:"column:reason;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
