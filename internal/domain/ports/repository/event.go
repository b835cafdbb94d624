package repository

import (
	"context"

	"github.com/google/uuid"

	"paygate/internal/domain/model"
)

// PaymentEventRepository is the append-only evidence ledger. There is no
// update or delete on purpose.
type PaymentEventRepository interface {
	Append(ctx context.Context, tx Tx, ev *model.PaymentEvent) error
	ListByPayment(ctx context.Context, tx Tx, paymentID uuid.UUID) ([]*model.PaymentEvent, error)
}
