package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	"github.com/sokoni-labs/sokoni-backend/internal/inventory"
	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/internal/payments"
	"github.com/sokoni-labs/sokoni-backend/internal/shops"
	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	"github.com/sokoni-labs/sokoni-backend/pkg/db"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
)

const (
	orderNumberRetries = 5
	txRefPrefix        = "SOKO"
	offlineRefPrefix   = "OFF"
)

// Gateway is the initiation surface of the payment gateway.
type Gateway interface {
	Initiate(ctx context.Context, params paygate.InitiateParams) (*paygate.InitiateResult, error)
	Currency() string
}

// Service turns a buyer's per-shop carts into settled orders. Checkout is the
// only compensating-action path in the engine: a failed settlement step
// unwinds every cart it already reserved.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Result, error)
}

// Input carries everything one checkout needs. Delivery and recipient fields
// are snapshotted onto the orders; contact fields travel to the gateway.
type Input struct {
	BuyerID            uuid.UUID
	PaymentMethod      enums.PaymentMethod
	DeliveryMethod     enums.DeliveryMethod
	BuyerCity          string
	DeliveryAddress    string
	DeliveryDirections string
	DeliveryLat        *float64
	DeliveryLng        *float64
	RecipientName      string
	RecipientPhone     string
	Email              string
	FullName           string
}

// Result is one checkout's outcome: one order per shop, a shared payment
// reference, and for gateway payments the hosted checkout URL.
type Result struct {
	Orders      []models.Order `json:"orders"`
	TxRef       string         `json:"tx_ref"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
	TotalCents  int            `json:"total_cents"`
}

// ItemIssue is one line-item validation failure surfaced to the buyer.
type ItemIssue struct {
	OrderID   uuid.UUID `json:"order_id"`
	ListingID uuid.UUID `json:"listing_id"`
	Reason    string    `json:"reason"`
	Available int       `json:"available_quantity"`
}

// ServiceParams wires the orchestrator's collaborators.
type ServiceParams struct {
	DB        *gorm.DB
	Orders    orders.Repository
	Payments  payments.Repository
	Shops     shops.Repository
	Inventory inventory.Service
	Escrow    escrow.Service
	Gateway   Gateway
	Config    config.CheckoutConfig
	Logger    *logger.Logger
	Notifier  notifications.Notifier
}

type service struct {
	db         *gorm.DB
	orders     orders.Repository
	payments   payments.Repository
	shops      shops.Repository
	inventory  inventory.Service
	escrow     escrow.Service
	gateway    Gateway
	paymentTTL time.Duration
	logger     *logger.Logger
	notifier   notifications.Notifier
}

// NewService validates dependencies and returns the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("checkout db handle required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Shops == nil {
		return nil, fmt.Errorf("shops repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	paymentTTL := params.Config.PaymentTTL
	if paymentTTL <= 0 {
		paymentTTL = 30 * time.Minute
	}
	return &service{
		db:         params.DB,
		orders:     params.Orders,
		payments:   params.Payments,
		shops:      params.Shops,
		inventory:  params.Inventory,
		escrow:     params.Escrow,
		gateway:    params.Gateway,
		paymentTTL: paymentTTL,
		logger:     params.Logger,
		notifier:   params.Notifier,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input Input) (*Result, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	if !input.DeliveryMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid delivery method %q", input.DeliveryMethod))
	}
	ctx = s.logger.WithUserID(ctx, input.BuyerID.String())

	carts, err := s.orders.ListCartsByBuyer(ctx, input.BuyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading carts")
	}
	if len(carts) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no carts to check out").
			WithDetails(map[string]any{"reason": "EMPTY_CART"})
	}

	// all validation runs before any stock mutation
	cartShops, err := s.loadShops(ctx, carts, input.DeliveryMethod)
	if err != nil {
		return nil, err
	}
	if err := s.validateItems(ctx, carts); err != nil {
		return nil, err
	}

	placed := make([]models.Order, 0, len(carts))
	for i := range carts {
		order, err := s.placeCartOrder(ctx, &carts[i], cartShops[carts[i].ShopID], input)
		if err != nil {
			s.compensate(ctx, placed)
			return nil, err
		}
		placed = append(placed, *order)
	}

	totalCents := 0
	for _, order := range placed {
		totalCents += order.TotalCents
	}

	var result *Result
	if input.PaymentMethod == enums.PaymentMethodGateway {
		result, err = s.settleViaGateway(ctx, placed, totalCents, input)
		if err != nil {
			s.compensate(ctx, placed)
			return nil, err
		}
	} else {
		result, err = s.settleOffline(ctx, placed, totalCents, input.PaymentMethod)
		if err != nil {
			s.compensate(ctx, placed)
			return nil, err
		}
	}

	for _, order := range result.Orders {
		s.notifier.Notify(ctx, notifications.Event{
			Kind:    notifications.KindOrderPlaced,
			UserID:  order.BuyerID,
			ShopID:  order.ShopID,
			OrderID: order.ID,
			Data:    map[string]any{"order_number": order.OrderNumber},
		})
	}

	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"tx_ref":      result.TxRef,
		"orders":      len(result.Orders),
		"total_cents": result.TotalCents,
	}), "checkout completed")
	return result, nil
}

func (s *service) loadShops(ctx context.Context, carts []models.Order, method enums.DeliveryMethod) (map[uuid.UUID]*models.Shop, error) {
	byID := make(map[uuid.UUID]*models.Shop, len(carts))
	for _, cart := range carts {
		if _, seen := byID[cart.ShopID]; seen {
			continue
		}
		shop, err := s.shops.GetByID(ctx, cart.ShopID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("shop %s not found", cart.ShopID))
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading shop")
		}
		if !s.shops.SupportsDeliveryMethod(shop, method) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s does not support %s", shop.Name, method)).
				WithDetails(map[string]any{
					"reason":          "DELIVERY_METHOD_UNSUPPORTED",
					"shop_id":         shop.ID.String(),
					"delivery_method": method.String(),
				})
		}
		byID[cart.ShopID] = shop
	}
	return byID, nil
}

// validateItems is the pure validation pass: it reads live listings and
// reports every problem at once, writing nothing.
func (s *service) validateItems(ctx context.Context, carts []models.Order) error {
	issues := []ItemIssue{}
	for _, cart := range carts {
		for _, item := range cart.Items {
			var listing models.Listing
			err := s.db.WithContext(ctx).First(&listing, "id = ?", item.ListingID).Error
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					issues = append(issues, ItemIssue{OrderID: cart.ID, ListingID: item.ListingID, Reason: "NOT_FOUND"})
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading listing")
			}
			if !listing.IsAvailable {
				issues = append(issues, ItemIssue{OrderID: cart.ID, ListingID: item.ListingID, Reason: "UNAVAILABLE"})
				continue
			}
			if listing.StockQuantity < item.Quantity {
				issues = append(issues, ItemIssue{
					OrderID:   cart.ID,
					ListingID: item.ListingID,
					Reason:    "INSUFFICIENT_STOCK",
					Available: listing.StockQuantity,
				})
			}
		}
	}
	if len(issues) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart validation failed").
			WithDetails(map[string]any{"issues": issues})
	}
	return nil
}

// placeCartOrder promotes one CART row in its own transaction: order number,
// price snapshot, delivery fee, stock reservation. Retries on an order-number
// collision with the next candidate number.
func (s *service) placeCartOrder(ctx context.Context, cart *models.Order, shop *models.Shop, input Input) (*models.Order, error) {
	year := time.Now().UTC().Year()
	prefix := fmt.Sprintf("ORD-%d-", year)

	var placed *models.Order
	backoff := retry.WithMaxRetries(orderNumberRetries, retry.NewConstant(25*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		txErr := s.db.Transaction(func(tx *gorm.DB) error {
			repo := s.orders.WithTx(tx)

			highest, err := repo.HighestOrderNumber(ctx, prefix)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading highest order number")
			}
			orderNumber := fmt.Sprintf("%s%06d", prefix, nextSequence(highest, prefix))

			subtotal := 0
			for i := range cart.Items {
				item := &cart.Items[i]
				var listing models.Listing
				if err := tx.WithContext(ctx).First(&listing, "id = ?", item.ListingID).Error; err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading listing for snapshot")
				}
				// immutable purchase snapshot, decoupled from the live listing
				item.ProductName = listing.ProductName
				item.UnitPriceCents = listing.PriceCents
				item.BasePriceCents = listing.BasePriceCents
				if err := tx.WithContext(ctx).Model(&models.OrderItem{}).Where("id = ?", item.ID).Updates(map[string]any{
					"product_name":     item.ProductName,
					"unit_price_cents": item.UnitPriceCents,
					"base_price_cents": item.BasePriceCents,
				}).Error; err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshotting order item")
				}
				subtotal += item.UnitPriceCents * item.Quantity

				reason := fmt.Sprintf("Stock reserved - Order %s", orderNumber)
				if _, err := s.inventory.AdjustStock(ctx, tx, item.ListingID, -item.Quantity, reason); err != nil {
					return err
				}
			}

			deliveryFee := deliveryFeeCents(shop, input.DeliveryMethod, input.BuyerCity, subtotal)
			status := enums.OrderStatusPendingPayment
			updates := map[string]any{
				"order_number":       orderNumber,
				"status":             status,
				"total_cents":        subtotal + deliveryFee,
				"delivery_fee_cents": deliveryFee,
				"delivery_method":    input.DeliveryMethod,
			}
			if input.PaymentMethod.IsOffline() {
				status = enums.OrderStatusConfirmed
				updates["status"] = status
				updates["confirmed_at"] = time.Now().UTC()
			}
			if input.DeliveryAddress != "" {
				updates["delivery_address"] = input.DeliveryAddress
			}
			if input.DeliveryDirections != "" {
				updates["delivery_directions"] = input.DeliveryDirections
			}
			if input.DeliveryLat != nil {
				updates["delivery_lat"] = *input.DeliveryLat
			}
			if input.DeliveryLng != nil {
				updates["delivery_lng"] = *input.DeliveryLng
			}
			if input.RecipientName != "" {
				updates["recipient_name"] = input.RecipientName
			}
			if input.RecipientPhone != "" {
				updates["recipient_phone"] = input.RecipientPhone
			}
			if input.DeliveryMethod == enums.DeliveryMethodHome {
				updates["delivery_token"] = uuid.NewString()
			}
			if err := repo.Updates(ctx, cart.ID, updates); err != nil {
				return err
			}

			placed, err = repo.GetByID(ctx, cart.ID)
			return err
		})
		if txErr != nil && db.IsUniqueViolation(txErr, "idx_orders_order_number") {
			return retry.RetryableError(txErr)
		}
		return txErr
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "placing order")
	}
	return placed, nil
}

func (s *service) settleViaGateway(ctx context.Context, placed []models.Order, totalCents int, input Input) (*Result, error) {
	txRef := fmt.Sprintf("%s-%s", txRefPrefix, uuid.NewString())
	orderIDs := make([]string, 0, len(placed))
	orderNumbers := make([]string, 0, len(placed))
	for _, order := range placed {
		orderIDs = append(orderIDs, order.ID.String())
		orderNumbers = append(orderNumbers, order.OrderNumber)
	}

	initiated, err := s.gateway.Initiate(ctx, paygate.InitiateParams{
		TxRef:        txRef,
		AmountCents:  int64(totalCents),
		Email:        input.Email,
		PhoneNumber:  input.RecipientPhone,
		FullName:     input.FullName,
		UserID:       input.BuyerID.String(),
		OrderIDs:     orderIDs,
		OrderNumbers: orderNumbers,
		Title:        "Sokoni order payment",
		Description:  fmt.Sprintf("Payment for %d order(s)", len(placed)),
	})
	if err != nil {
		return nil, err
	}

	expiredAt := time.Now().UTC().Add(s.paymentTTL)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		for _, order := range placed {
			payment := &models.Payment{
				ID:          uuid.New(),
				OrderID:     order.ID,
				TxRef:       initiated.TxRef,
				Method:      enums.PaymentMethodGateway,
				Status:      enums.PaymentStatusPending,
				AmountCents: order.TotalCents,
				Currency:    s.gateway.Currency(),
				ExpiredAt:   &expiredAt,
			}
			if err := repo.Create(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payment row")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Orders:      placed,
		TxRef:       initiated.TxRef,
		CheckoutURL: initiated.CheckoutURL,
		TotalCents:  totalCents,
	}, nil
}

func (s *service) settleOffline(ctx context.Context, placed []models.Order, totalCents int, method enums.PaymentMethod) (*Result, error) {
	txRef := fmt.Sprintf("%s-%s", offlineRefPrefix, uuid.NewString())
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		for _, order := range placed {
			payment := &models.Payment{
				ID:          uuid.New(),
				OrderID:     order.ID,
				TxRef:       txRef,
				Method:      method,
				Status:      enums.PaymentStatusPending,
				AmountCents: order.TotalCents,
				Currency:    s.gateway.Currency(),
			}
			if err := repo.Create(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payment row")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// the orders are already CONFIRMED, so codes are issued right away; a
	// failure is queued for the sweep's retry pass instead of failing checkout
	refreshed := make([]models.Order, 0, len(placed))
	for _, order := range placed {
		withCode, err := s.escrow.GenerateCode(ctx, order.ID)
		if err != nil {
			s.logger.Error(s.logger.WithField(ctx, "order_id", order.ID.String()), "release code generation failed, sweep will retry", err)
			refreshed = append(refreshed, order)
			continue
		}
		refreshed = append(refreshed, *withCode)
	}

	return &Result{
		Orders:     refreshed,
		TxRef:      txRef,
		TotalCents: totalCents,
	}, nil
}

// compensate unwinds fully or partially placed orders after a downstream
// failure: stock back, row back to CART under a synthetic TMP number so the
// uniqueness constraint stays clean.
func (s *service) compensate(ctx context.Context, placed []models.Order) {
	for _, order := range placed {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			for _, item := range order.Items {
				reason := fmt.Sprintf("Stock restored - Order %s checkout failed", order.OrderNumber)
				if _, err := s.inventory.AdjustStock(ctx, tx, item.ListingID, item.Quantity, reason); err != nil {
					return err
				}
			}
			return s.orders.WithTx(tx).Updates(ctx, order.ID, map[string]any{
				"status":             enums.OrderStatusCart,
				"order_number":       fmt.Sprintf("TMP-%s", uuid.NewString()),
				"total_cents":        0,
				"delivery_fee_cents": 0,
				"delivery_token":     nil,
				"confirmed_at":       nil,
			})
		})
		if err != nil {
			s.logger.Error(s.logger.WithField(ctx, "order_id", order.ID.String()), "checkout compensation failed", err)
		}
	}
}

func deliveryFeeCents(shop *models.Shop, method enums.DeliveryMethod, buyerCity string, subtotal int) int {
	if method == enums.DeliveryMethodDepot {
		return 0
	}
	if shop.FreeDeliveryOverCents != nil && subtotal >= *shop.FreeDeliveryOverCents {
		return 0
	}
	if buyerCity != "" && !strings.EqualFold(buyerCity, shop.City) {
		return shop.DeliveryInterCityFeeCents
	}
	return shop.DeliveryBaseFeeCents
}

// nextSequence parses the numeric tail of the highest assigned number and
// returns the next candidate, starting at 1 for a fresh year.
func nextSequence(highest, prefix string) int {
	if highest == "" {
		return 1
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(highest, prefix))
	if err != nil {
		return 1
	}
	return seq + 1
}
