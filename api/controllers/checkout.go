package controllers

import (
	"net/http"

	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	"github.com/sokoni-labs/sokoni-backend/api/responses"
	"github.com/sokoni-labs/sokoni-backend/api/validators"
	checkoutsvc "github.com/sokoni-labs/sokoni-backend/internal/checkout"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// Checkout converts the buyer's carts into orders and starts settlement.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		paymentMethod, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}
		deliveryMethod, err := enums.ParseDeliveryMethod(payload.DeliveryMethod)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method"))
			return
		}

		result, err := svc.Checkout(ctx, checkoutsvc.Input{
			BuyerID:            buyerID,
			PaymentMethod:      paymentMethod,
			DeliveryMethod:     deliveryMethod,
			BuyerCity:          payload.BuyerCity,
			DeliveryAddress:    payload.DeliveryAddress,
			DeliveryDirections: payload.DeliveryDirections,
			DeliveryLat:        payload.DeliveryLat,
			DeliveryLng:        payload.DeliveryLng,
			RecipientName:      payload.RecipientName,
			RecipientPhone:     payload.RecipientPhone,
			Email:              payload.Email,
			FullName:           payload.FullName,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			Orders:      newOrderListResponse(result.Orders),
			TxRef:       result.TxRef,
			CheckoutURL: result.CheckoutURL,
			TotalCents:  result.TotalCents,
		})
	}
}

type checkoutRequest struct {
	PaymentMethod      string   `json:"payment_method" validate:"required"`
	DeliveryMethod     string   `json:"delivery_method" validate:"required"`
	BuyerCity          string   `json:"buyer_city" validate:"required"`
	DeliveryAddress    string   `json:"delivery_address,omitempty"`
	DeliveryDirections string   `json:"delivery_directions,omitempty"`
	DeliveryLat        *float64 `json:"delivery_lat,omitempty"`
	DeliveryLng        *float64 `json:"delivery_lng,omitempty"`
	RecipientName      string   `json:"recipient_name,omitempty"`
	RecipientPhone     string   `json:"recipient_phone,omitempty"`
	Email              string   `json:"email,omitempty" validate:"omitempty,email"`
	FullName           string   `json:"full_name,omitempty"`
}

type checkoutResponse struct {
	Orders      []orderResponse `json:"orders"`
	TxRef       string          `json:"tx_ref"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
	TotalCents  int             `json:"total_cents"`
}
