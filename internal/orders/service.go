package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/inventory"
	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/pagination"
)

// allowedTransitions is the single source of truth for the fulfillment state
// machine. CART and PENDING_PAYMENT moves are system-internal (checkout and
// payment reconciliation); shops drive CONFIRMED onward.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusCart:           {enums.OrderStatusPendingPayment, enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusPendingPayment: {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:      {enums.OrderStatusPreparing, enums.OrderStatusCancelled},
	enums.OrderStatusPreparing:      {enums.OrderStatusReadyForPickup, enums.OrderStatusOutForDelivery, enums.OrderStatusCancelled},
	enums.OrderStatusReadyForPickup: {enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusDelivered},
}

// AllowedNext returns the legal targets from a status, empty for terminal ones.
func AllowedNext(from enums.OrderStatus) []enums.OrderStatus {
	return allowedTransitions[from]
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Service drives the order fulfillment state machine.
type Service interface {
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	AttachWaybill(ctx context.Context, input WaybillInput) (*models.Order, error)
	UpdateDeliveryByToken(ctx context.Context, input DeliveryUpdateInput) (*models.Order, error)
	GetForBuyer(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	ListForShop(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
}

// TransitionInput is a shop-driven fulfillment move.
type TransitionInput struct {
	OrderID uuid.UUID
	ShopID  uuid.UUID
	Target  enums.OrderStatus
}

// CancelInput cancels an order on behalf of the buyer or the owning shop.
type CancelInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	ShopID  uuid.UUID
}

// WaybillInput attaches a waybill number and/or photo reference.
type WaybillInput struct {
	OrderID       uuid.UUID
	ShopID        uuid.UUID
	WaybillNumber string
	PhotoRef      string
}

// DeliveryUpdateInput updates delivery coordinates via the single-use token.
type DeliveryUpdateInput struct {
	Token      string
	Address    string
	Directions string
	Lat        *float64
	Lng        *float64
}

// ServiceParams wires the state machine's collaborators.
type ServiceParams struct {
	DB        *gorm.DB
	Repo      Repository
	Inventory inventory.Service
	Logger    *logger.Logger
	Notifier  notifications.Notifier
}

type service struct {
	db        *gorm.DB
	repo      Repository
	inventory inventory.Service
	logger    *logger.Logger
	notifier  notifications.Notifier
}

// NewService validates dependencies and returns the order state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("orders db handle required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &service{
		db:        params.DB,
		repo:      params.Repo,
		inventory: params.Inventory,
		logger:    params.Logger,
		notifier:  params.Notifier,
	}, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", input.Target))
	}
	if input.Target == enums.OrderStatusCancelled {
		return s.Cancel(ctx, CancelInput{OrderID: input.OrderID, ShopID: input.ShopID})
	}

	var updated *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.GetOwnedByShop(ctx, input.OrderID, input.ShopID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.ownershipError(ctx, tx, input.OrderID)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		// shops only drive fulfillment, never pre-payment states
		if order.Status == enums.OrderStatusCart || order.Status == enums.OrderStatusPendingPayment {
			return invalidTransition(order.Status, input.Target)
		}
		if !CanTransition(order.Status, input.Target) {
			return invalidTransition(order.Status, input.Target)
		}
		if input.Target == enums.OrderStatusReadyForPickup && order.DeliveryMethod == enums.DeliveryMethodDepot {
			if order.WaybillNumber == nil && order.WaybillPhotoRef == nil {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "waybill required before READY_FOR_PICKUP for depot collection").
					WithDetails(map[string]any{"reason": "MISSING_WAYBILL"})
			}
		}

		updates := map[string]any{"status": input.Target}
		if input.Target == enums.OrderStatusDelivered {
			updates["delivered_at"] = time.Now().UTC()
		}
		if err := repo.Updates(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
		}
		updated, err = repo.GetByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notifications.Event{
		Kind:    notifications.KindOrderStatusMoved,
		UserID:  updated.BuyerID,
		ShopID:  updated.ShopID,
		OrderID: updated.ID,
		Data:    map[string]any{"status": updated.Status.String()},
	})
	return updated, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	var cancelled *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var order *models.Order
		var err error
		switch {
		case input.ShopID != uuid.Nil:
			order, err = repo.GetOwnedByShop(ctx, input.OrderID, input.ShopID)
		case input.BuyerID != uuid.Nil:
			order, err = repo.GetOwnedByBuyer(ctx, input.OrderID, input.BuyerID)
		default:
			order, err = repo.GetByID(ctx, input.OrderID)
		}
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.ownershipError(ctx, tx, input.OrderID)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if order.Status == enums.OrderStatusCart {
			return invalidTransition(order.Status, enums.OrderStatusCancelled)
		}
		if order.Status.IsTerminal() {
			return invalidTransition(order.Status, enums.OrderStatusCancelled)
		}

		// the guarded flip decides which of two racing cancels wins; stock is
		// only restored once the flip lands
		guard := tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, order.Status).
			Updates(map[string]any{
				"status":       enums.OrderStatusCancelled,
				"cancelled_at": time.Now().UTC(),
			})
		if guard.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, guard.Error, "cancelling order")
		}
		if guard.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was updated concurrently").
				WithDetails(map[string]any{"reason": "CONCURRENT_UPDATE"})
		}

		for _, item := range order.Items {
			reason := fmt.Sprintf("Stock restored - Order %s cancelled", order.OrderNumber)
			if _, err := s.inventory.AdjustStock(ctx, tx, item.ListingID, item.Quantity, reason); err != nil {
				return err
			}
		}

		// terminal payment rows are left untouched
		if err := tx.WithContext(ctx).
			Model(&models.Payment{}).
			Where("order_id = ? AND status = ?", order.ID, enums.PaymentStatusPending).
			Update("status", enums.PaymentStatusCancelled).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling pending payment")
		}
		cancelled, err = repo.GetByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notifications.Event{
		Kind:    notifications.KindOrderCancelled,
		UserID:  cancelled.BuyerID,
		ShopID:  cancelled.ShopID,
		OrderID: cancelled.ID,
	})
	return cancelled, nil
}

func (s *service) AttachWaybill(ctx context.Context, input WaybillInput) (*models.Order, error) {
	if input.WaybillNumber == "" && input.PhotoRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "waybill number or photo reference required")
	}

	var updated *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.GetOwnedByShop(ctx, input.OrderID, input.ShopID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.ownershipError(ctx, tx, input.OrderID)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if order.Status.IsTerminal() || order.Status == enums.OrderStatusCart || order.Status == enums.OrderStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot attach waybill in status %s", order.Status))
		}

		updates := map[string]any{}
		if input.WaybillNumber != "" {
			updates["waybill_number"] = input.WaybillNumber
		}
		if input.PhotoRef != "" {
			updates["waybill_photo_ref"] = input.PhotoRef
		}
		if err := repo.Updates(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attaching waybill")
		}
		updated, err = repo.GetByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) UpdateDeliveryByToken(ctx context.Context, input DeliveryUpdateInput) (*models.Order, error) {
	if input.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery token required")
	}

	var updated *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.GetByDeliveryToken(ctx, input.Token)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery token not recognized")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order by token")
		}
		// coordinates freeze once the order is moving
		switch order.Status {
		case enums.OrderStatusConfirmed, enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup:
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("delivery details locked in status %s", order.Status))
		}

		updates := map[string]any{"delivery_token": nil}
		if input.Address != "" {
			updates["delivery_address"] = input.Address
		}
		if input.Directions != "" {
			updates["delivery_directions"] = input.Directions
		}
		if input.Lat != nil {
			updates["delivery_lat"] = *input.Lat
		}
		if input.Lng != nil {
			updates["delivery_lng"] = *input.Lng
		}
		if err := repo.Updates(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating delivery details")
		}
		updated, err = repo.GetByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) GetForBuyer(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetOwnedByBuyer(ctx, orderID, buyerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	return s.repo.ListByBuyer(ctx, buyerID, params)
}

func (s *service) ListForShop(ctx context.Context, shopID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	return s.repo.ListByShop(ctx, shopID, params)
}

// ownershipError distinguishes "no such order" from "order owned elsewhere".
func (s *service) ownershipError(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking order existence")
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order is owned by another party").
		WithDetails(map[string]any{"reason": "WRONG_SHOP"})
}

func invalidTransition(from, to enums.OrderStatus) error {
	allowed := make([]string, 0, len(allowedTransitions[from]))
	for _, status := range allowedTransitions[from] {
		allowed = append(allowed, status.String())
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetails(map[string]any{
			"reason":       "INVALID_TRANSITION",
			"from":         from.String(),
			"to":           to.String(),
			"allowed_next": allowed,
		})
}
