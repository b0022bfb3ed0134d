package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/internal/escrow"
	"github.com/sokoni-labs/sokoni-backend/internal/notifications"
	"github.com/sokoni-labs/sokoni-backend/internal/orders"
	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/paygate"
)

// webhookDedupeTTL bounds how long a processed webhook event suppresses replays.
const webhookDedupeTTL = 24 * time.Hour

// Gateway is the verification surface of the payment gateway.
type Gateway interface {
	Verify(ctx context.Context, txRef string) (*paygate.VerifyResult, error)
}

// Deduper suppresses duplicate webhook deliveries. Best effort: losing the
// dedupe record only costs an extra gateway verification, never correctness.
type Deduper interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	WebhookEventKey(txRef, status string) string
}

// Service reconciles payment rows against the gateway's authoritative state.
// The webhook and the periodic sweep race through the same VerifyPayment path;
// guarded updates make whichever arrives second a no-op.
type Service interface {
	VerifyPayment(ctx context.Context, txRef string, via enums.PaymentVerifier) (*ReconcileResult, error)
	HandleWebhook(ctx context.Context, payload paygate.WebhookPayload) (*ReconcileResult, error)
	// SettleManual records collection of an offline payment (cash, bank slip).
	SettleManual(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	GetForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	// ExpireOverdue fails gateway payments whose window elapsed and cancels
	// their orders, retrying orders an earlier pass failed to release.
	// Returns how many payments were expired.
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	// ReconcilePending re-verifies in-window PENDING gateway payments against
	// the gateway. Returns how many tx_refs were checked.
	ReconcilePending(ctx context.Context, limit int) (int, error)
}

// ReconcileResult reports what one verification pass did.
type ReconcileResult struct {
	TxRef           string
	Status          enums.PaymentStatus
	Applied         bool
	ConfirmedOrders []uuid.UUID
	CancelledOrders []uuid.UUID
}

// ServiceParams wires the reconciliation pipeline's collaborators.
type ServiceParams struct {
	DB       *gorm.DB
	Repo     Repository
	Orders   orders.Service
	Escrow   escrow.Service
	Gateway  Gateway
	Deduper  Deduper
	Logger   *logger.Logger
	Notifier notifications.Notifier
}

type service struct {
	db       *gorm.DB
	repo     Repository
	orders   orders.Service
	escrow   escrow.Service
	gateway  Gateway
	deduper  Deduper
	logger   *logger.Logger
	notifier notifications.Notifier
}

// NewService validates dependencies and returns the payments service. Deduper
// is optional; without it webhook replays fall through to verification, which
// is idempotent anyway.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("payments db handle required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
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
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		orders:   params.Orders,
		escrow:   params.Escrow,
		gateway:  params.Gateway,
		deduper:  params.Deduper,
		logger:   params.Logger,
		notifier: params.Notifier,
	}, nil
}

func (s *service) VerifyPayment(ctx context.Context, txRef string, via enums.PaymentVerifier) (*ReconcileResult, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx_ref is required")
	}
	ctx = s.logger.WithTxRef(ctx, txRef)

	rows, err := s.repo.ListByTxRef(ctx, txRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payments by tx_ref")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no payments for tx_ref %s", txRef))
	}

	pending := pendingOnly(rows)
	if len(pending) == 0 {
		// already settled by the other reconciliation path, nothing to do and
		// no reason to hit the gateway
		s.logger.Info(s.logger.WithField(ctx, "via", string(via)), "payment already settled, skipping verification")
		return &ReconcileResult{TxRef: txRef, Status: rows[0].Status, Applied: false}, nil
	}

	verified, err := s.gateway.Verify(ctx, txRef)
	if err != nil {
		return nil, err
	}

	switch {
	case verified.IsSuccessful():
		return s.applySuccess(ctx, txRef, rows, pending, verified, via)
	case verified.IsFailed():
		return s.applyFailure(ctx, txRef, pending, via, "gateway reported failure")
	default:
		s.logger.Info(s.logger.WithField(ctx, "gateway_status", verified.Status), "payment still pending at gateway")
		return &ReconcileResult{TxRef: txRef, Status: enums.PaymentStatusPending, Applied: false}, nil
	}
}

func (s *service) HandleWebhook(ctx context.Context, payload paygate.WebhookPayload) (*ReconcileResult, error) {
	if strings.TrimSpace(payload.TxRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing tx_ref")
	}
	ctx = s.logger.WithTxRef(ctx, payload.TxRef)

	if s.deduper != nil {
		key := s.deduper.WebhookEventKey(payload.TxRef, strings.ToLower(payload.Status))
		fresh, err := s.deduper.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), webhookDedupeTTL)
		if err != nil {
			s.logger.Warn(s.logger.WithField(ctx, "error", err.Error()), "webhook dedupe unavailable, proceeding")
		} else if !fresh {
			s.logger.Info(ctx, "duplicate webhook delivery suppressed")
			return &ReconcileResult{TxRef: payload.TxRef, Applied: false}, nil
		}
	}

	// the payload itself is untrusted; only the gateway's verify answer counts
	return s.VerifyPayment(ctx, payload.TxRef, enums.PaymentVerifierWebhook)
}

func (s *service) SettleManual(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var settled *models.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.GetByOrderID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
		}
		if !payment.Method.IsOffline() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "manual settlement is reserved for offline payment methods")
		}
		if payment.Status != enums.PaymentStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment already %s", payment.Status))
		}

		now := time.Now().UTC()
		guard := tx.WithContext(ctx).
			Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, enums.PaymentStatusPending).
			Updates(map[string]any{
				"status":      enums.PaymentStatusPaid,
				"paid_at":     now,
				"verified_by": enums.PaymentVerifierManual,
			})
		if guard.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, guard.Error, "settling payment")
		}
		if guard.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment settled concurrently")
		}

		settled, err = repo.GetByOrderID(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(s.logger.WithField(ctx, "order_id", orderID.String()), "offline payment settled manually")
	return settled, nil
}

func (s *service) GetForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
	}
	return payment, nil
}

func (s *service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	rows, err := s.repo.ListExpiredPending(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expired payments")
	}

	expired := 0
	var errs error
	for i := range rows {
		payment := rows[i]
		guard := s.db.WithContext(ctx).
			Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, enums.PaymentStatusPending).
			Updates(map[string]any{
				"status":         enums.PaymentStatusFailed,
				"failure_reason": "payment window elapsed",
				"verified_by":    enums.PaymentVerifierSweep,
			})
		if guard.Error != nil {
			errs = multierr.Append(errs, fmt.Errorf("expiring payment %s: %w", payment.ID, guard.Error))
			continue
		}
		if guard.RowsAffected == 0 {
			continue
		}
		expired++

		if _, err := s.orders.Cancel(ctx, orders.CancelInput{OrderID: payment.OrderID}); err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("cancelling order %s: %w", payment.OrderID, err))
			continue
		}
		s.notifier.Notify(ctx, notifications.Event{
			Kind:    notifications.KindPaymentFailed,
			OrderID: payment.OrderID,
			Data:    map[string]any{"tx_ref": payment.TxRef, "reason": "payment window elapsed"},
		})
	}

	if err := s.releaseStrandedOrders(ctx, limit); err != nil {
		errs = multierr.Append(errs, err)
	}
	return expired, errs
}

// releaseStrandedOrders retries cancellation for orders whose payment is
// already FAILED but which still hold their stock reservation. The payment
// flip and the order cancel are separate transactions, so a crash or a
// transient error between the two leaves the order stranded until a later
// sweep pass picks it up here.
func (s *service) releaseStrandedOrders(ctx context.Context, limit int) error {
	rows, err := s.repo.ListFailedAwaitingCancel(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing stranded orders: %w", err)
	}

	var errs error
	for i := range rows {
		payment := rows[i]
		if _, err := s.orders.Cancel(ctx, orders.CancelInput{OrderID: payment.OrderID}); err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("cancelling stranded order %s: %w", payment.OrderID, err))
			continue
		}
		reason := "payment failed"
		if payment.FailureReason != nil {
			reason = *payment.FailureReason
		}
		s.logger.Info(s.logger.WithField(ctx, "order_id", payment.OrderID.String()), "stranded order released")
		s.notifier.Notify(ctx, notifications.Event{
			Kind:    notifications.KindPaymentFailed,
			OrderID: payment.OrderID,
			Data:    map[string]any{"tx_ref": payment.TxRef, "reason": reason},
		})
	}
	return errs
}

func (s *service) ReconcilePending(ctx context.Context, limit int) (int, error) {
	refs, err := s.repo.ListPendingTxRefs(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing pending tx_refs")
	}

	var errs error
	for _, txRef := range refs {
		if _, err := s.VerifyPayment(ctx, txRef, enums.PaymentVerifierSweep); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconciling %s: %w", txRef, err))
		}
	}
	return len(refs), errs
}

func (s *service) applySuccess(ctx context.Context, txRef string, all, pending []models.Payment, verified *paygate.VerifyResult, via enums.PaymentVerifier) (*ReconcileResult, error) {
	expectedCents := int64(0)
	for _, row := range all {
		expectedCents += int64(row.AmountCents)
	}
	if verified.AmountCents != expectedCents {
		s.logger.Warn(s.logger.WithFields(ctx, map[string]any{
			"expected_cents": expectedCents,
			"verified_cents": verified.AmountCents,
		}), "gateway amount mismatch, refusing to settle")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "verified amount does not match payment records").
			WithDetails(map[string]any{
				"reason":         "AMOUNT_MISMATCH",
				"expected_cents": expectedCents,
				"verified_cents": verified.AmountCents,
			})
	}

	now := time.Now().UTC()
	for _, row := range pending {
		if row.ExpiredAt != nil && row.ExpiredAt.Before(now) {
			s.logger.Warn(s.logger.WithField(ctx, "payment_id", row.ID.String()), "payment succeeded after its window elapsed")
		}
	}

	confirmed := make([]uuid.UUID, 0, len(pending))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range pending {
			guard := tx.WithContext(ctx).
				Model(&models.Payment{}).
				Where("id = ? AND status = ?", row.ID, enums.PaymentStatusPending).
				Updates(map[string]any{
					"status":      enums.PaymentStatusPaid,
					"paid_at":     now,
					"verified_by": via,
				})
			if guard.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, guard.Error, "marking payment paid")
			}
			if guard.RowsAffected == 0 {
				// the racing reconciliation path got here first
				continue
			}

			promote := tx.WithContext(ctx).
				Model(&models.Order{}).
				Where("id = ? AND status = ?", row.OrderID, enums.OrderStatusPendingPayment).
				Updates(map[string]any{
					"status":       enums.OrderStatusConfirmed,
					"confirmed_at": now,
				})
			if promote.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, promote.Error, "confirming order")
			}
			if promote.RowsAffected > 0 {
				confirmed = append(confirmed, row.OrderID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, orderID := range confirmed {
		// release codes are retried by the sweep, a failure here never unwinds
		// a settled payment
		if _, err := s.escrow.GenerateCode(ctx, orderID); err != nil {
			s.logger.Error(s.logger.WithField(ctx, "order_id", orderID.String()), "release code generation failed, sweep will retry", err)
		}
		s.notifier.Notify(ctx, notifications.Event{
			Kind:    notifications.KindOrderConfirmed,
			OrderID: orderID,
			Data:    map[string]any{"tx_ref": txRef},
		})
	}

	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"via":       string(via),
		"confirmed": len(confirmed),
	}), "payment settled")
	return &ReconcileResult{
		TxRef:           txRef,
		Status:          enums.PaymentStatusPaid,
		Applied:         len(confirmed) > 0,
		ConfirmedOrders: confirmed,
	}, nil
}

func (s *service) applyFailure(ctx context.Context, txRef string, pending []models.Payment, via enums.PaymentVerifier, reason string) (*ReconcileResult, error) {
	applied := make([]models.Payment, 0, len(pending))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range pending {
			guard := tx.WithContext(ctx).
				Model(&models.Payment{}).
				Where("id = ? AND status = ?", row.ID, enums.PaymentStatusPending).
				Updates(map[string]any{
					"status":         enums.PaymentStatusFailed,
					"failure_reason": reason,
					"verified_by":    via,
				})
			if guard.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, guard.Error, "marking payment failed")
			}
			if guard.RowsAffected > 0 {
				applied = append(applied, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cancelled := make([]uuid.UUID, 0, len(applied))
	for _, row := range applied {
		if _, err := s.orders.Cancel(ctx, orders.CancelInput{OrderID: row.OrderID}); err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
				// already cancelled elsewhere
				continue
			}
			s.logger.Error(s.logger.WithField(ctx, "order_id", row.OrderID.String()), "cancelling order after failed payment", err)
			continue
		}
		cancelled = append(cancelled, row.OrderID)
		s.notifier.Notify(ctx, notifications.Event{
			Kind:    notifications.KindPaymentFailed,
			OrderID: row.OrderID,
			Data:    map[string]any{"tx_ref": txRef, "reason": reason},
		})
	}

	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"via":       string(via),
		"cancelled": len(cancelled),
	}), "payment failed, orders released")
	return &ReconcileResult{
		TxRef:           txRef,
		Status:          enums.PaymentStatusFailed,
		Applied:         len(applied) > 0,
		CancelledOrders: cancelled,
	}, nil
}

func pendingOnly(rows []models.Payment) []models.Payment {
	pending := make([]models.Payment, 0, len(rows))
	for _, row := range rows {
		if row.Status == enums.PaymentStatusPending {
			pending = append(pending, row)
		}
	}
	return pending
}
