package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
)

// PayRequest is what the orchestrator hands a provider to start a payment.
// Extra carries provider-specific fields (the JSAPI flow needs the payer's
// "openid" here).
type PayRequest struct {
	BizID       uuid.UUID
	Amount      int64
	Description string
	Extra       map[string]string
}

// PayResult carries whatever the payer's client device needs to invoke the
// gateway's payment UI, plus the verbatim HTTP evidence of the exchange.
// On a gateway failure the snapshots are still populated so the failed
// attempt can be recorded.
type PayResult struct {
	ClientParams map[string]string
	Request      model.HTTPRecord
	Response     *model.HTTPRecord
}

// WebhookRequest is the raw inbound notification as received from the
// gateway, before any verification.
type WebhookRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
}

func (r WebhookRequest) Header(name string) string { return r.Headers.Get(name) }

// Snapshot freezes the request for the evidence ledger.
func (r WebhookRequest) Snapshot() model.HTTPRecord {
	return model.HTTPRecord{
		URL:     r.URL,
		Method:  r.Method,
		Headers: model.FlattenHeaders(r.Headers),
		Body:    model.RawBody(r.Body),
	}
}

// Ack is the exact HTTP response the caller must send back to the gateway to
// stop redelivery.
type Ack struct {
	Status      int
	ContentType string
	Body        []byte
}

type PayCallbackOutcome struct {
	PaymentID       uuid.UUID
	ProviderTradeNo string
	SuccessAt       time.Time
	Ack             Ack
	Request         model.HTTPRecord
	Response        *model.HTTPRecord
}

type RefundRequest struct {
	RefundID   uuid.UUID
	OutTradeNo string
	Amount     int64
	Total      int64
}

type RefundResult struct {
	ProviderRefundNo string
	Status           model.RefundStatus // immediate classification: SUCCESS→Success, else Pending
	RawStatus        string
	Request          model.HTTPRecord
	Response         *model.HTTPRecord
}

type RefundCallbackOutcome struct {
	RefundID         uuid.UUID
	ProviderRefundNo string
	Status           model.RefundStatus
	SuccessAt        *time.Time
	Ack              Ack
	Request          model.HTTPRecord
	Response         *model.HTTPRecord
}

// QueryResult is the outcome of polling the gateway for a transaction state,
// used by the reconciler for payments whose callback never arrived.
type QueryResult struct {
	TradeState      string
	ProviderTradeNo string
	SuccessAt       *time.Time
	Request         model.HTTPRecord
	Response        *model.HTTPRecord
}

// Provider is the four-operation contract every concrete gateway implements.
// The orchestrator resolves one through the Registry and never branches on
// gateway identity.
type Provider interface {
	Key() model.ProviderKey

	Pay(ctx context.Context, paymentID uuid.UUID, req PayRequest) (PayResult, error)
	PayCallback(ctx context.Context, req WebhookRequest) (PayCallbackOutcome, error)
	Refund(ctx context.Context, paymentID uuid.UUID, req RefundRequest) (RefundResult, error)
	RefundCallback(ctx context.Context, req WebhookRequest) (RefundCallbackOutcome, error)

	// QueryPayment polls the gateway for the current state of a payment.
	QueryPayment(ctx context.Context, paymentID uuid.UUID) (QueryResult, error)
}

// Registry is the immutable key→implementation table built once at startup.
type Registry struct {
	providers map[model.ProviderKey]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[model.ProviderKey]Provider, len(providers))
	for _, p := range providers {
		m[p.Key()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Resolve(key model.ProviderKey) (Provider, error) {
	p, ok := r.providers[key]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return p, nil
}
