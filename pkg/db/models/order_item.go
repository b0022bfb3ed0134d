package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem snapshots one cart line at checkout time so later listing edits
// cannot change what the buyer agreed to pay.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ListingID      uuid.UUID `gorm:"column:listing_id;type:uuid;not null"`
	ProductName    string    `gorm:"column:product_name;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	BasePriceCents int       `gorm:"column:base_price_cents;not null;default:0"`
	Quantity       int       `gorm:"column:quantity;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
