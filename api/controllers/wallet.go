package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/api/middleware"
	"github.com/sokoni-labs/sokoni-backend/api/responses"
	"github.com/sokoni-labs/sokoni-backend/api/validators"
	"github.com/sokoni-labs/sokoni-backend/internal/wallet"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// ShopWallet returns the shop's current spendable balance.
func ShopWallet(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		shopID, err := middleware.RequireShopID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		balance, err := svc.Balance(ctx, shopID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"shop_id":       shopID,
			"balance_cents": balance,
		})
	}
}

// ShopWalletTransactions returns the shop's ledger, newest first.
func ShopWalletTransactions(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
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

		rows, next, err := svc.ListTransactions(ctx, shopID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]walletTransactionResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, newWalletTransactionResponse(row))
		}
		responses.WriteSuccess(w, map[string]any{
			"transactions": out,
			"next_cursor":  next,
		})
	}
}

type walletTransactionResponse struct {
	TransactionID      uuid.UUID  `json:"transaction_id"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	AmountCents        int        `json:"amount_cents"`
	BalanceBeforeCents int        `json:"balance_before_cents"`
	BalanceAfterCents  int        `json:"balance_after_cents"`
	OrderID            *uuid.UUID `json:"order_id,omitempty"`
	WithdrawalID       *uuid.UUID `json:"withdrawal_id,omitempty"`
	Note               *string    `json:"note,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func newWalletTransactionResponse(row models.WalletTransaction) walletTransactionResponse {
	return walletTransactionResponse{
		TransactionID:      row.ID,
		Type:               row.Type.String(),
		Status:             row.Status.String(),
		AmountCents:        row.AmountCents,
		BalanceBeforeCents: row.BalanceBeforeCents,
		BalanceAfterCents:  row.BalanceAfterCents,
		OrderID:            row.OrderID,
		WithdrawalID:       row.WithdrawalID,
		Note:               row.Note,
		CreatedAt:          row.CreatedAt,
	}
}
