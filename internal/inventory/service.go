package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
)

// Service is the only writer of listing stock. Every mutation happens through
// AdjustStock so each committed change carries exactly one audit row.
type Service interface {
	AdjustStock(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, delta int, reason string) (int, error)
}

type service struct{}

// NewService returns the inventory ledger.
func NewService() Service {
	return &service{}
}

// AdjustStock applies delta to the listing's stock inside the caller's
// transaction. The UPDATE is guarded so stock can never go negative at commit;
// zero rows affected distinguishes a missing listing from insufficient stock.
func (s *service) AdjustStock(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, delta int, reason string) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "stock adjustment requires a transaction")
	}
	if listingID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	if delta == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "stock delta must be non-zero")
	}
	if reason == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "stock adjustment reason is required")
	}

	result := tx.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND stock_quantity + ? >= 0", listingID, delta).
		Update("stock_quantity", gorm.Expr("stock_quantity + ?", delta))
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "adjusting stock")
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", listingID).Count(&count).Error; err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking listing existence")
		}
		if count == 0 {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("listing %s not found", listingID))
		}
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("insufficient stock for listing %s", listingID))
	}

	var listing models.Listing
	if err := tx.WithContext(ctx).Select("stock_quantity").First(&listing, "id = ?", listingID).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading stock after adjustment")
	}

	adjustment := models.StockAdjustment{
		ID:            uuid.New(),
		ListingID:     listingID,
		Delta:         delta,
		QuantityAfter: listing.StockQuantity,
		Reason:        reason,
	}
	if err := tx.WithContext(ctx).Create(&adjustment).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing stock audit row")
	}

	return listing.StockQuantity, nil
}
