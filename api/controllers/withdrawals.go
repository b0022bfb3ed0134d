package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	"github.com/sokoni-labs/sokoni-backend/api/responses"
	"github.com/sokoni-labs/sokoni-backend/api/validators"
	"github.com/sokoni-labs/sokoni-backend/internal/withdrawals"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// RequestWithdrawal places a payout request against the shop's wallet.
func RequestWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload withdrawalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		withdrawal, err := svc.Request(ctx, withdrawals.RequestInput{
			ShopID:      shopID,
			AmountCents: payload.AmountCents,
			Phone:       payload.Phone,
			Provider:    payload.Provider,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newWithdrawalResponse(*withdrawal))
	}
}

// ListWithdrawals returns the shop's withdrawal history, newest first.
func ListWithdrawals(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
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

		rows, next, err := svc.List(ctx, shopID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]withdrawalResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, newWithdrawalResponse(row))
		}
		responses.WriteSuccess(w, map[string]any{
			"withdrawals": out,
			"next_cursor": next,
		})
	}
}

// CancelWithdrawal cancels a PENDING withdrawal and restores the hold.
func CancelWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		withdrawalID, err := validators.ParseUUIDParam(r, "withdrawalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		withdrawal, err := svc.Cancel(ctx, withdrawalID, shopID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalResponse(*withdrawal))
	}
}

// AdminProcessWithdrawal pushes a PENDING withdrawal through the gateway.
// Sits behind the ops gateway, not the public one.
func AdminProcessWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		withdrawalID, err := validators.ParseUUIDParam(r, "withdrawalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		withdrawal, err := svc.Process(ctx, withdrawalID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalResponse(*withdrawal))
	}
}

type withdrawalRequest struct {
	AmountCents int    `json:"amount_cents" validate:"required,min=1"`
	Phone       string `json:"phone,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

type withdrawalResponse struct {
	WithdrawalID      uuid.UUID  `json:"withdrawal_id"`
	TxRef             string     `json:"tx_ref"`
	Status            string     `json:"status"`
	AmountCents       int        `json:"amount_cents"`
	FeeCents          int        `json:"fee_cents"`
	NetAmountCents    int        `json:"net_amount_cents"`
	RecipientPhone    string     `json:"recipient_phone"`
	RecipientProvider string     `json:"recipient_provider"`
	FailureNote       *string    `json:"failure_note,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newWithdrawalResponse(row models.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		WithdrawalID:      row.ID,
		TxRef:             row.TxRef,
		Status:            row.Status.String(),
		AmountCents:       row.AmountCents,
		FeeCents:          row.FeeCents,
		NetAmountCents:    row.NetAmountCents,
		RecipientPhone:    row.RecipientPhone,
		RecipientProvider: row.RecipientProvider,
		FailureNote:       row.FailureNote,
		ProcessedAt:       row.ProcessedAt,
		CreatedAt:         row.CreatedAt,
	}
}
