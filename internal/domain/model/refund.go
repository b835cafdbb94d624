package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type RefundStatus int16

const (
	RefundStatusPending RefundStatus = 0
	RefundStatusSuccess RefundStatus = 10
	RefundStatusFailed  RefundStatus = 20
)

// Refund is one refund attempt against a successful payment.
// Success and Failed are terminal.
type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	ProviderRefundNo *string
	Amount           int64
	Reason           *string
	Status           RefundStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SuccessAt        *time.Time
}

// OutRefundNo is the merchant-side refund number sent to the gateway.
func (r *Refund) OutRefundNo() string { return CompactID(r.ID) }

// CompactID renders a UUID without hyphens, the form the gateway expects
// for out_trade_no / out_refund_no.
func CompactID(id uuid.UUID) string { return strings.ReplaceAll(id.String(), "-", "") }

// ParseCompactID accepts both the hyphen-less wire form and the canonical form.
func ParseCompactID(s string) (uuid.UUID, error) { return uuid.Parse(s) }
