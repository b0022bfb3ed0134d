package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
)

type orderResponse struct {
	OrderID          uuid.UUID           `json:"order_id"`
	OrderNumber      string              `json:"order_number"`
	ShopID           uuid.UUID           `json:"shop_id"`
	Status           string              `json:"status"`
	TotalCents       int                 `json:"total_cents"`
	DeliveryFeeCents int                 `json:"delivery_fee_cents"`
	DeliveryMethod   string              `json:"delivery_method"`
	DeliveryAddress  *string             `json:"delivery_address,omitempty"`
	RecipientName    *string             `json:"recipient_name,omitempty"`
	RecipientPhone   *string             `json:"recipient_phone,omitempty"`
	WaybillNumber    *string             `json:"waybill_number,omitempty"`
	ConfirmedAt      *time.Time          `json:"confirmed_at,omitempty"`
	DeliveredAt      *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	Items            []orderItemResponse `json:"items,omitempty"`
	Payment          *paymentResponse    `json:"payment,omitempty"`
}

type orderItemResponse struct {
	ItemID         uuid.UUID `json:"item_id"`
	ListingID      uuid.UUID `json:"listing_id"`
	ProductName    string    `json:"product_name"`
	UnitPriceCents int       `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
}

type paymentResponse struct {
	TxRef       string     `json:"tx_ref"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	AmountCents int        `json:"amount_cents"`
	Currency    string     `json:"currency"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

func newOrderResponse(order models.Order) orderResponse {
	resp := orderResponse{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		ShopID:           order.ShopID,
		Status:           order.Status.String(),
		TotalCents:       order.TotalCents,
		DeliveryFeeCents: order.DeliveryFeeCents,
		DeliveryMethod:   order.DeliveryMethod.String(),
		DeliveryAddress:  order.DeliveryAddress,
		RecipientName:    order.RecipientName,
		RecipientPhone:   order.RecipientPhone,
		WaybillNumber:    order.WaybillNumber,
		ConfirmedAt:      order.ConfirmedAt,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		CreatedAt:        order.CreatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ItemID:         item.ID,
			ListingID:      item.ListingID,
			ProductName:    item.ProductName,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
		})
	}
	if order.Payment != nil {
		resp.Payment = newPaymentResponse(*order.Payment)
	}
	return resp
}

func newPaymentResponse(payment models.Payment) *paymentResponse {
	return &paymentResponse{
		TxRef:       payment.TxRef,
		Method:      payment.Method.String(),
		Status:      payment.Status.String(),
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		PaidAt:      payment.PaidAt,
	}
}

func newOrderListResponse(orders []models.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, newOrderResponse(order))
	}
	return out
}
