package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paygate/internal/domain/model"
)

// PaymentRepository persists Payment rows. State-transition methods are
// conditional updates: they report whether a row actually changed so the
// caller can distinguish a first delivery from a replay.
type PaymentRepository interface {
	Insert(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id uuid.UUID) (*model.Payment, error)

	// MarkSucceeded moves a Pending payment to Success, assigning the
	// provider trade number and success time. Returns false when the payment
	// was not Pending anymore (duplicate callback delivery).
	MarkSucceeded(ctx context.Context, tx Tx, id uuid.UUID, providerTradeNo string, successAt time.Time) (bool, error)

	// AddRefundedAmount increments refunded_amount, refusing any increment
	// that would exceed the payment amount, and flips the status to Refunded
	// when the payment becomes fully refunded. Returns false when the guard
	// rejected the increment.
	AddRefundedAmount(ctx context.Context, tx Tx, id uuid.UUID, amount int64) (bool, error)

	// ListSuccessful returns a business entity's successful payments,
	// newest first.
	ListSuccessful(ctx context.Context, tx Tx, bizID uuid.UUID) ([]*model.Payment, error)

	// ListPendingOlderThan feeds the reconciler with stale Pending payments.
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}
