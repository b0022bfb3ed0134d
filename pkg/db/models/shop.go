package models

import (
	"time"

	"github.com/google/uuid"
)

// Shop holds a seller's delivery configuration, payout destination and escrow
// wallet balance. The balance only moves together with a WalletTransaction row.
type Shop struct {
	ID                        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                      string     `gorm:"column:name;not null"`
	City                      string     `gorm:"column:city;not null"`
	SupportsHomeDelivery      bool       `gorm:"column:supports_home_delivery;not null;default:true"`
	SupportsDepotCollection   bool       `gorm:"column:supports_depot_collection;not null;default:false"`
	DeliveryBaseFeeCents      int        `gorm:"column:delivery_base_fee_cents;not null;default:0"`
	DeliveryInterCityFeeCents int        `gorm:"column:delivery_inter_city_fee_cents;not null;default:0"`
	FreeDeliveryOverCents     *int       `gorm:"column:free_delivery_over_cents"`
	DepotLat                  *float64   `gorm:"column:depot_lat"`
	DepotLng                  *float64   `gorm:"column:depot_lng"`
	WalletBalanceCents        int        `gorm:"column:wallet_balance_cents;not null;default:0;check:wallet_balance_cents >= 0"`
	PayoutPhone               *string    `gorm:"column:payout_phone"`
	PayoutProvider            *string    `gorm:"column:payout_provider"`
	CreatedAt                 time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
