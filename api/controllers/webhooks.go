package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sokoni-labs/sokoni-backend/api/responses"
	"github.com/sokoni-labs/sokoni-backend/api/validators"
	"github.com/sokoni-labs/sokoni-backend/internal/payments"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
)

const signatureHeader = "verif-hash"

type signatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// PaygateWebhook receives gateway payment notifications. The signature is
// checked over the raw body before any decoding; the payload itself only
// triggers re-verification against the gateway, it is never trusted.
func PaygateWebhook(svc payments.Service, verifier signatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if !verifier.VerifySignature(body, r.Header.Get(signatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature invalid"))
			return
		}

		var payload paygate.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook body"))
			return
		}
		if payload.TxRef == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook tx_ref missing"))
			return
		}

		result, err := svc.HandleWebhook(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"tx_ref":  result.TxRef,
			"status":  result.Status.String(),
			"applied": result.Applied,
		})
	}
}

// AdminSettlePayment records collection of an offline payment (cash on
// delivery, bank slip). Sits behind the ops gateway.
func AdminSettlePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payment, err := svc.SettleManual(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(*payment))
	}
}
