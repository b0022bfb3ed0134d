package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	checkoutsvc "github.com/sokoni-labs/sokoni-backend/internal/checkout"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
)

type stubCheckoutService struct {
	result *checkoutsvc.Result
	err    error
	inputs []checkoutsvc.Input
}

func (s *stubCheckoutService) Checkout(_ context.Context, input checkoutsvc.Input) (*checkoutsvc.Result, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestCheckoutSuccess(t *testing.T) {
	buyerID := uuid.New()
	svc := &stubCheckoutService{
		result: &checkoutsvc.Result{
			Orders:      []models.Order{{ID: uuid.New(), OrderNumber: "ORD-2026-000001"}},
			TxRef:       "SOKO-abc",
			CheckoutURL: "https://gateway.example/pay/abc",
			TotalCents:  12000,
		},
	}
	handler := Checkout(svc, nil)

	body, _ := json.Marshal(map[string]any{
		"payment_method":  "gateway",
		"delivery_method": "HOME_DELIVERY",
		"buyer_city":      "Dar es Salaam",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), buyerID.String()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.inputs) != 1 || svc.inputs[0].BuyerID != buyerID {
		t.Fatalf("expected checkout invoked with buyer id")
	}

	var envelope struct {
		Data checkoutResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.TxRef != "SOKO-abc" || envelope.Data.TotalCents != 12000 {
		t.Fatalf("unexpected response: %+v", envelope.Data)
	}
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	handler := Checkout(&stubCheckoutService{}, nil)

	body := []byte(`{"payment_method":"gateway","delivery_method":"HOME_DELIVERY","buyer_city":"Arusha"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCheckoutRejectsUnknownPaymentMethod(t *testing.T) {
	handler := Checkout(&stubCheckoutService{}, nil)

	body := []byte(`{"payment_method":"iou","delivery_method":"HOME_DELIVERY","buyer_city":"Arusha"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCheckoutSurfacesItemIssues(t *testing.T) {
	svc := &stubCheckoutService{
		err: pkgerrors.New(pkgerrors.CodeStateConflict, "cart items unavailable").WithDetails(map[string]any{
			"issues": []checkoutsvc.ItemIssue{{Reason: "INSUFFICIENT_STOCK", Available: 1}},
		}),
	}
	handler := Checkout(svc, nil)

	body := []byte(`{"payment_method":"gateway","delivery_method":"HOME_DELIVERY","buyer_city":"Arusha"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Details["issues"] == nil {
		t.Fatalf("expected item issues in error details")
	}
}
