package model

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type PaymentEventKind int16

const (
	EventPaymentCreate   PaymentEventKind = 0
	EventPaymentCallback PaymentEventKind = 1
	EventPaymentRefund   PaymentEventKind = 2
	EventRefundCallback  PaymentEventKind = 3
)

func (k PaymentEventKind) String() string {
	switch k {
	case EventPaymentCreate:
		return "payment_create"
	case EventPaymentCallback:
		return "payment_callback"
	case EventPaymentRefund:
		return "payment_refund"
	case EventRefundCallback:
		return "refund_callback"
	default:
		return "unknown"
	}
}

// HTTPRecord is a verbatim snapshot of one side of a gateway exchange,
// stored as JSONB. Status is zero for requests.
type HTTPRecord struct {
	URL     string          `json:"url,omitempty"`
	Method  string          `json:"method,omitempty"`
	Status  int             `json:"status,omitempty"`
	Headers [][2]string     `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

// RawBody wraps a captured body so it always serializes as valid JSON:
// JSON bodies verbatim, anything else as a JSON string.
func RawBody(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

// FlattenHeaders keeps header order stable enough for audit purposes.
func FlattenHeaders(h http.Header) [][2]string {
	out := make([][2]string, 0, len(h))
	for k, vs := range h {
		for _, v := range vs {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

// PaymentEvent is the append-only evidence ledger entry. Every state-changing
// operation on a Payment or Refund appends exactly one of these in the same
// transaction; rows are never mutated or deleted.
type PaymentEvent struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	Kind      PaymentEventKind
	Request   HTTPRecord
	Response  *HTTPRecord
	CreatedAt time.Time
}
