package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paygate/internal/domain/model"
)

// RefundRepository persists Refund rows. Success and Failed are terminal:
// the transition methods only fire while the refund is still Pending.
type RefundRepository interface {
	Insert(ctx context.Context, tx Tx, r *model.Refund) error
	FindByID(ctx context.Context, tx Tx, id uuid.UUID) (*model.Refund, error)

	// SetProviderRefundNo records the gateway-assigned refund number on a
	// still-Pending refund.
	SetProviderRefundNo(ctx context.Context, tx Tx, id uuid.UUID, providerRefundNo string) error

	// Resolve moves a Pending refund to a terminal status. successAt is nil
	// for Failed. Returns false when the refund was already terminal.
	Resolve(ctx context.Context, tx Tx, id uuid.UUID, status model.RefundStatus, providerRefundNo *string, successAt *time.Time) (bool, error)
}
