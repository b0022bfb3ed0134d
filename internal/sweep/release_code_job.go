package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/sokoni-labs/sokoni-backend/pkg/db/models"
	"github.com/sokoni-labs/sokoni-backend/pkg/enums"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
	"github.com/sokoni-labs/sokoni-backend/pkg/metrics"
)

const defaultReleaseCodeBatchSize = 100

type releaseCodeLister interface {
	ListConfirmedMissingReleaseCode(ctx context.Context, limit int) ([]models.Order, error)
	ListExpiredPendingReleaseCodes(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

type codeIssuer interface {
	GenerateCode(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// ReleaseCodeJobParams configure the release code upkeep job.
type ReleaseCodeJobParams struct {
	Logger    *logger.Logger
	DB        *gorm.DB
	Orders    releaseCodeLister
	Escrow    codeIssuer
	Metrics   *metrics.SweepJobMetrics
	BatchSize int
}

// NewReleaseCodeJob builds the job that backfills release codes for confirmed
// orders where issuance failed post-settlement, and expires codes whose
// verification window has lapsed.
func NewReleaseCodeJob(params ReleaseCodeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db handle required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReleaseCodeBatchSize
	}
	return &releaseCodeJob{
		logg:      params.Logger,
		db:        params.DB,
		orders:    params.Orders,
		escrow:    params.Escrow,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type releaseCodeJob struct {
	logg      *logger.Logger
	db        *gorm.DB
	orders    releaseCodeLister
	escrow    codeIssuer
	metrics   *metrics.SweepJobMetrics
	batchSize int
	now       func() time.Time
}

func (j *releaseCodeJob) Name() string { return "release-code-upkeep" }

func (j *releaseCodeJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.backfillMissingCodes(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.expireLapsedCodes(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *releaseCodeJob) backfillMissingCodes(ctx context.Context) error {
	orders, err := j.orders.ListConfirmedMissingReleaseCode(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("query confirmed orders without release codes: %w", err)
	}
	var errs []error
	issued := 0
	for _, order := range orders {
		if _, err := j.escrow.GenerateCode(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("issue release code for order %s: %w", order.ID, err))
			continue
		}
		issued++
	}
	j.metrics.AddItems(j.Name(), "issued", issued)
	j.logg.Info(j.logg.WithField(ctx, "count", issued), "release code backfill complete")
	return multierr.Combine(errs...)
}

func (j *releaseCodeJob) expireLapsedCodes(ctx context.Context) error {
	now := j.now().UTC()
	orders, err := j.orders.ListExpiredPendingReleaseCodes(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("query lapsed release codes: %w", err)
	}
	expired := 0
	for _, order := range orders {
		// the guard keeps a code verified between listing and update intact
		result := j.db.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ? AND release_code_status = ?", order.ID, enums.ReleaseCodeStatusPending).
			Update("release_code_status", enums.ReleaseCodeStatusExpired)
		if result.Error != nil {
			return fmt.Errorf("expire release code for order %s: %w", order.ID, result.Error)
		}
		expired += int(result.RowsAffected)
	}
	j.metrics.AddItems(j.Name(), "expired", expired)
	j.logg.Info(j.logg.WithField(ctx, "count", expired), "release code expiry pass complete")
	return nil
}
