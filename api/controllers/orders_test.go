package controllers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	ordersvc "github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/pagination"
)

type stubOrdersService struct {
	order       *models.Order
	err         error
	transitions []ordersvc.TransitionInput
}

func (s *stubOrdersService) Transition(_ context.Context, input ordersvc.TransitionInput) (*models.Order, error) {
	s.transitions = append(s.transitions, input)
	return s.order, s.err
}

func (s *stubOrdersService) Cancel(context.Context, ordersvc.CancelInput) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) AttachWaybill(context.Context, ordersvc.WaybillInput) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) UpdateDeliveryByToken(context.Context, ordersvc.DeliveryUpdateInput) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) GetForBuyer(context.Context, uuid.UUID, uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) ListForBuyer(context.Context, uuid.UUID, pagination.Params) ([]models.Order, string, error) {
	if s.order == nil {
		return nil, "", s.err
	}
	return []models.Order{*s.order}, "next-token", s.err
}

func (s *stubOrdersService) ListForShop(context.Context, uuid.UUID, pagination.Params) ([]models.Order, string, error) {
	if s.order == nil {
		return nil, "", s.err
	}
	return []models.Order{*s.order}, "", s.err
}

type stubEscrowService struct {
	order *models.Order
	view  *escrow.ReleaseCodeView
	err   error
	codes []string
}

func (s *stubEscrowService) GenerateCode(context.Context, uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubEscrowService) VerifyReleaseCode(_ context.Context, _ uuid.UUID, code string, _ uuid.UUID) (*models.Order, error) {
	s.codes = append(s.codes, code)
	return s.order, s.err
}

func (s *stubEscrowService) GetCode(context.Context, uuid.UUID, uuid.UUID) (*escrow.ReleaseCodeView, error) {
	return s.view, s.err
}

func testOrder() *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		BuyerID:     uuid.New(),
		ShopID:      uuid.New(),
		Status:      enums.OrderStatusConfirmed,
		OrderNumber: "ORD-2026-000042",
		TotalCents:  8000,
	}
}

func TestShopTransitionOrder(t *testing.T) {
	shopID := uuid.New()
	order := testOrder()
	order.Status = enums.OrderStatusPreparing
	svc := &stubOrdersService{order: order}

	r := chi.NewRouter()
	r.Post("/api/v1/shop/orders/{orderID}/status", ShopTransitionOrder(svc, nil))

	body := []byte(`{"status":"PREPARING"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shop/orders/"+order.ID.String()+"/status", bytes.NewReader(body))
	req = req.WithContext(middleware.WithShopID(req.Context(), shopID.String()))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.transitions) != 1 {
		t.Fatalf("expected one transition call")
	}
	if svc.transitions[0].Target != enums.OrderStatusPreparing || svc.transitions[0].ShopID != shopID {
		t.Fatalf("unexpected transition input: %+v", svc.transitions[0])
	}
}

func TestShopTransitionOrderInvalidStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/shop/orders/{orderID}/status", ShopTransitionOrder(&stubOrdersService{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shop/orders/"+uuid.NewString()+"/status", bytes.NewReader([]byte(`{"status":"TELEPORTED"}`)))
	req = req.WithContext(middleware.WithShopID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestShopVerifyReleaseCode(t *testing.T) {
	order := testOrder()
	order.Status = enums.OrderStatusDelivered
	svc := &stubEscrowService{order: order}

	r := chi.NewRouter()
	r.Post("/api/v1/shop/orders/{orderID}/verify-code", ShopVerifyReleaseCode(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shop/orders/"+order.ID.String()+"/verify-code", bytes.NewReader([]byte(`{"code":"A1B2C3D4"}`)))
	req = req.WithContext(middleware.WithShopID(req.Context(), order.ShopID.String()))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.codes) != 1 || svc.codes[0] != "A1B2C3D4" {
		t.Fatalf("expected code forwarded to escrow service")
	}
}

func TestGetReleaseCodeForbiddenForStranger(t *testing.T) {
	svc := &stubEscrowService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}

	r := chi.NewRouter()
	r.Get("/api/v1/orders/{orderID}/release-code", GetReleaseCode(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString()+"/release-code", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestGetReleaseCodeSuccess(t *testing.T) {
	expiry := time.Now().UTC().Add(24 * time.Hour)
	svc := &stubEscrowService{view: &escrow.ReleaseCodeView{
		OrderID:   uuid.New(),
		Code:      "A1B2C3D4",
		Status:    enums.ReleaseCodeStatusPending,
		ExpiresAt: &expiry,
	}}

	r := chi.NewRouter()
	r.Get("/api/v1/orders/{orderID}/release-code", GetReleaseCode(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString()+"/release-code", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestUpdateDeliveryMissingToken(t *testing.T) {
	r := chi.NewRouter()
	r.Patch("/api/v1/orders/delivery/{token}", UpdateDelivery(&stubOrdersService{}, nil))

	// whitespace-only token
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/delivery/%20", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListOrdersRequiresIdentity(t *testing.T) {
	handler := ListOrders(&stubOrdersService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}
