package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/pagination"
)

// Repository manages persistence for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetOwnedByBuyer(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error)
	GetOwnedByShop(ctx context.Context, orderID, shopID uuid.UUID) (*models.Order, error)
	GetByDeliveryToken(ctx context.Context, token string) (*models.Order, error)
	ListCartsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	// HighestOrderNumber returns the lexically-highest assigned order number
	// with the given prefix, or "" when none exists yet.
	HighestOrderNumber(ctx context.Context, prefix string) (string, error)
	Save(ctx context.Context, order *models.Order) error
	Updates(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	ListConfirmedMissingReleaseCode(ctx context.Context, limit int) ([]models.Order, error)
	ListExpiredPendingReleaseCodes(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) GetOwnedByBuyer(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		First(&order, "id = ? AND buyer_id = ?", orderID, buyerID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) GetOwnedByShop(ctx context.Context, orderID, shopID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		First(&order, "id = ? AND shop_id = ?", orderID, shopID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) GetByDeliveryToken(ctx context.Context, token string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		First(&order, "delivery_token = ?", token).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListCartsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error) {
	var carts []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_id = ? AND status = ?", buyerID, "CART").
		Order("created_at ASC").
		Find(&carts).Error; err != nil {
		return nil, err
	}
	return carts, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_id = ? AND status <> ?", buyerID, "CART")
	return r.page(query, params)
}

func (r *repository) ListByShop(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	// CART rows are buyer scratch space, never shown to shops
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("shop_id = ? AND status NOT IN ?", shopID, []string{"CART", "PENDING_PAYMENT"})
	return r.page(query, params)
}

func (r *repository) page(query *gorm.DB, params pagination.Params) ([]models.Order, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := pagination.NormalizeLimit(params.Limit)
	query = query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (r *repository) HighestOrderNumber(ctx context.Context, prefix string) (string, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Select("order_number").
		Where("order_number LIKE ?", prefix+"%").
		Order("order_number DESC").
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return order.OrderNumber, nil
}

func (r *repository) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repository) Updates(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func (r *repository) ListConfirmedMissingReleaseCode(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (release_code IS NULL OR release_code = '')", "CONFIRMED").
		Order("confirmed_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListExpiredPendingReleaseCodes(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Where("release_code <> '' AND release_code IS NOT NULL AND release_code_status = ? AND release_code_expiry IS NOT NULL AND release_code_expiry < ?", "PENDING", now).
		Order("release_code_expiry ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
