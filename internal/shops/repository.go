package shops

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
)

// Repository exposes the shop reads the settlement engine depends on. Shop
// CRUD itself lives outside this system.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByID(ctx context.Context, shopID uuid.UUID) (*models.Shop, error)
	SupportsDeliveryMethod(shop *models.Shop, method enums.DeliveryMethod) bool
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a shop repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByID(ctx context.Context, shopID uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) SupportsDeliveryMethod(shop *models.Shop, method enums.DeliveryMethod) bool {
	if shop == nil {
		return false
	}
	switch method {
	case enums.DeliveryMethodHome:
		return shop.SupportsHomeDelivery
	case enums.DeliveryMethodDepot:
		return shop.SupportsDepotCollection
	default:
		return false
	}
}
