package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
)

// Order is the per-shop order a checkout produces. CART rows are the buyer's
// working cart for one shop and become real orders at checkout.
type Order struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID            uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	ShopID             uuid.UUID               `gorm:"column:shop_id;type:uuid;not null"`
	Status             enums.OrderStatus       `gorm:"column:status;type:order_status;not null;default:'CART'"`
	OrderNumber        string                  `gorm:"column:order_number;not null;uniqueIndex"`
	TotalCents         int                     `gorm:"column:total_cents;not null;default:0"`
	DeliveryFeeCents   int                     `gorm:"column:delivery_fee_cents;not null;default:0"`
	DeliveryMethod     enums.DeliveryMethod    `gorm:"column:delivery_method;type:delivery_method;not null;default:'HOME_DELIVERY'"`
	DeliveryAddress    *string                 `gorm:"column:delivery_address"`
	DeliveryDirections *string                 `gorm:"column:delivery_directions"`
	DeliveryLat        *float64                `gorm:"column:delivery_lat"`
	DeliveryLng        *float64                `gorm:"column:delivery_lng"`
	RecipientName      *string                 `gorm:"column:recipient_name"`
	RecipientPhone     *string                 `gorm:"column:recipient_phone"`
	DeliveryToken      *string                 `gorm:"column:delivery_token;index"`
	WaybillNumber      *string                 `gorm:"column:waybill_number"`
	WaybillPhotoRef    *string                 `gorm:"column:waybill_photo_ref"`
	ReleaseCode        *string                 `gorm:"column:release_code"`
	ReleaseCodeStatus  enums.ReleaseCodeStatus `gorm:"column:release_code_status;type:release_code_status;not null;default:'PENDING'"`
	ReleaseCodeExpiry  *time.Time              `gorm:"column:release_code_expiry"`
	CodeVerifiedAt     *time.Time              `gorm:"column:code_verified_at"`
	ConfirmedAt        *time.Time              `gorm:"column:confirmed_at"`
	DeliveredAt        *time.Time              `gorm:"column:delivered_at"`
	CancelledAt        *time.Time              `gorm:"column:cancelled_at"`
	Items              []OrderItem             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment            *Payment                `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
