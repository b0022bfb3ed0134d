package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
)

// Repository manages persistence for payment rows. Orders paid in one gateway
// checkout share a tx_ref, so most reconciliation reads are tx_ref scoped.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	ListByTxRef(ctx context.Context, txRef string) ([]models.Payment, error)
	// ListExpiredPending returns PENDING gateway payments whose window elapsed.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
	// ListFailedAwaitingCancel returns FAILED gateway payments whose order is
	// still PENDING_PAYMENT, left behind when a cancel died between the
	// payment flip and the order release.
	ListFailedAwaitingCancel(ctx context.Context, limit int) ([]models.Payment, error)
	// ListPendingTxRefs returns distinct tx_refs of gateway payments that are
	// still PENDING and inside their payment window.
	ListPendingTxRefs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		First(&payment, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByTxRef(ctx context.Context, txRef string) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("tx_ref = ?", txRef).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND method = ? AND expired_at IS NOT NULL AND expired_at < ?",
			enums.PaymentStatusPending, enums.PaymentMethodGateway, now).
		Order("expired_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListFailedAwaitingCancel(ctx context.Context, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("payments.status = ? AND payments.method = ? AND orders.status = ?",
			enums.PaymentStatusFailed, enums.PaymentMethodGateway, enums.OrderStatusPendingPayment).
		Order("payments.created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPendingTxRefs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var refs []string
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Distinct("tx_ref").
		Where("status = ? AND method = ? AND (expired_at IS NULL OR expired_at >= ?)",
			enums.PaymentStatusPending, enums.PaymentMethodGateway, now).
		Limit(limit).
		Pluck("tx_ref", &refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}
