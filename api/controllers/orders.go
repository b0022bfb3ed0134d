package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	"github.com/sokoni-labs/sokoni-backend/api/responses"
	"github.com/sokoni-labs/sokoni-backend/api/validators"
	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	ordersvc "github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// ListOrders returns the buyer's orders, newest first.
func ListOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		buyerID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		orders, next, err := svc.ListForBuyer(ctx, buyerID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"orders":      newOrderListResponse(orders),
			"next_cursor": next,
		})
	}
}

// GetOrder returns one of the buyer's orders.
func GetOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		buyerID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.GetForBuyer(ctx, orderID, buyerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

// CancelOrder cancels the buyer's order where the state machine allows it.
func CancelOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		buyerID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Cancel(ctx, ordersvc.CancelInput{OrderID: orderID, BuyerID: buyerID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

// GetReleaseCode returns the buyer's escrow release code for an order.
func GetReleaseCode(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		buyerID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.GetCode(ctx, orderID, buyerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// UpdateDelivery updates delivery coordinates through the single-use token
// embedded in the buyer's confirmation link. No identity headers needed.
func UpdateDelivery(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := strings.TrimSpace(chi.URLParam(r, "token"))
		if token == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "delivery token is required"))
			return
		}

		var payload deliveryUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.UpdateDeliveryByToken(ctx, ordersvc.DeliveryUpdateInput{
			Token:      token,
			Address:    payload.Address,
			Directions: payload.Directions,
			Lat:        payload.Lat,
			Lng:        payload.Lng,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

// ShopListOrders returns the acting shop's orders.
func ShopListOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		orders, next, err := svc.ListForShop(ctx, shopID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"orders":      newOrderListResponse(orders),
			"next_cursor": next,
		})
	}
}

// ShopTransitionOrder moves one of the shop's orders through the fulfillment
// state machine.
func ShopTransitionOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}

		order, err := svc.Transition(ctx, ordersvc.TransitionInput{
			OrderID: orderID,
			ShopID:  shopID,
			Target:  target,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

// ShopAttachWaybill attaches courier tracking details to the shop's order.
func ShopAttachWaybill(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload waybillRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.AttachWaybill(ctx, ordersvc.WaybillInput{
			OrderID:       orderID,
			ShopID:        shopID,
			WaybillNumber: payload.WaybillNumber,
			PhotoRef:      payload.PhotoRef,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

// ShopVerifyReleaseCode verifies the buyer-presented release code and settles
// the escrow into the shop's wallet.
func ShopVerifyReleaseCode(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload verifyCodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.VerifyReleaseCode(ctx, orderID, payload.Code, shopID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

type waybillRequest struct {
	WaybillNumber string `json:"waybill_number,omitempty"`
	PhotoRef      string `json:"photo_ref,omitempty"`
}

type verifyCodeRequest struct {
	Code string `json:"code" validate:"required,min=4,max=16"`
}

type deliveryUpdateRequest struct {
	Address    string   `json:"address,omitempty"`
	Directions string   `json:"directions,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}
