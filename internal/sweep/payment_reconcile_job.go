package sweep

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/metrics"
)

const defaultPaymentBatchSize = 200

type paymentReconciler interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	ReconcilePending(ctx context.Context, limit int) (int, error)
}

// PaymentReconcileJobParams configure the payment reconciliation job.
type PaymentReconcileJobParams struct {
	Logger    *logger.Logger
	Payments  paymentReconciler
	Metrics   *metrics.SweepJobMetrics
	BatchSize int
}

// NewPaymentReconcileJob builds the job that expires overdue gateway payments
// and re-verifies in-window pending ones. It is the second reconciliation path
// next to the webhook; both converge on the same verification logic.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultPaymentBatchSize
	}
	return &paymentReconcileJob{
		logg:      params.Logger,
		payments:  params.Payments,
		metrics:   params.Metrics,
		batchSize: batchSize,
	}, nil
}

type paymentReconcileJob struct {
	logg      *logger.Logger
	payments  paymentReconciler
	metrics   *metrics.SweepJobMetrics
	batchSize int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	var errs []error

	// expire first so the reconcile pass only sees in-window payments
	expired, err := j.payments.ExpireOverdue(ctx, j.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire overdue payments: %w", err))
	}
	j.metrics.AddItems(j.Name(), "expired", expired)

	checked, err := j.payments.ReconcilePending(ctx, j.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("reconcile pending payments: %w", err))
	}
	j.metrics.AddItems(j.Name(), "reconciled", checked)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"expired": expired,
		"checked": checked,
	}), "payment reconcile pass complete")
	return multierr.Combine(errs...)
}
