package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing is a shop's sellable product with its live stock count.
type Listing struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID         uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index"`
	ProductName    string    `gorm:"column:product_name;not null"`
	PriceCents     int       `gorm:"column:price_cents;not null"`
	BasePriceCents int       `gorm:"column:base_price_cents;not null;default:0"`
	StockQuantity  int       `gorm:"column:stock_quantity;not null;default:0;check:stock_quantity >= 0"`
	IsAvailable    bool      `gorm:"column:is_available;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
