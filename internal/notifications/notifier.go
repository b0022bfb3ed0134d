package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// Event is a fire-and-forget notification. Delivery failures are logged and
// never propagate into settlement transactions.
type Event struct {
	Kind    string
	UserID  uuid.UUID
	ShopID  uuid.UUID
	OrderID uuid.UUID
	Data    map[string]any
}

// Notification kinds emitted by the settlement engine.
const (
	KindOrderPlaced       = "order.placed"
	KindOrderConfirmed    = "order.confirmed"
	KindOrderStatusMoved  = "order.status_moved"
	KindOrderCancelled    = "order.cancelled"
	KindPaymentFailed     = "payment.failed"
	KindReleaseCodeIssued = "escrow.release_code_issued"
	KindEscrowReleased    = "escrow.released"
	KindPayoutCompleted   = "wallet.payout_completed"
	KindPayoutFailed      = "wallet.payout_failed"
)

// Notifier dispatches user/shop notifications. Implementations must be safe to
// call from inside request handlers and background jobs.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type logNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier returns a Notifier that records events in the service log.
// Real channels (SMS, push) are external collaborators behind the same
// interface.
func NewLogNotifier(logg *logger.Logger) Notifier {
	return &logNotifier{logger: logg}
}

func (n *logNotifier) Notify(ctx context.Context, event Event) {
	if n.logger == nil {
		return
	}
	fields := map[string]any{"notification_kind": event.Kind}
	if event.UserID != uuid.Nil {
		fields["user_id"] = event.UserID.String()
	}
	if event.ShopID != uuid.Nil {
		fields["shop_id"] = event.ShopID.String()
	}
	if event.OrderID != uuid.Nil {
		fields["order_id"] = event.OrderID.String()
	}
	for k, v := range event.Data {
		fields[k] = v
	}
	n.logger.Info(n.logger.WithFields(ctx, fields), "notification dispatched")
}
