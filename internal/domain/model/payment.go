package model

import (
	"time"

	"github.com/google/uuid"
)

// ProviderKey selects which concrete gateway implementation services a payment.
type ProviderKey int16

const (
	ProviderWechatJSAPI  ProviderKey = 0
	ProviderWechatNative ProviderKey = 1
)

func (k ProviderKey) String() string {
	switch k {
	case ProviderWechatJSAPI:
		return "wechat_jsapi"
	case ProviderWechatNative:
		return "wechat_native"
	default:
		return "unknown"
	}
}

// ParseProviderKey maps the URL/config form back to a key.
func ParseProviderKey(s string) (ProviderKey, bool) {
	switch s {
	case "wechat_jsapi":
		return ProviderWechatJSAPI, true
	case "wechat_native":
		return ProviderWechatNative, true
	default:
		return 0, false
	}
}

// PaymentStatus values are persisted as int2; keep the codes stable.
type PaymentStatus int16

const (
	PaymentStatusPending PaymentStatus = 0
	PaymentStatusSuccess PaymentStatus = 10
	// PaymentStatusFailed is declared for the schema but no transition
	// currently reaches it; the triggering condition is still unclarified.
	PaymentStatusFailed   PaymentStatus = 20
	PaymentStatusRefunded PaymentStatus = 30
)

// Payment records one payment attempt against an external gateway.
// Amounts are minor units (fen) to avoid float errors.
type Payment struct {
	ID              uuid.UUID
	Description     string
	Status          PaymentStatus
	Amount          int64
	RefundedAmount  int64 // monotonically non-decreasing, never above Amount
	BizID           uuid.UUID
	Provider        ProviderKey
	ProviderTradeNo *string // unique once assigned, never changes
	ProviderInfo    map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SuccessAt       *time.Time
}

// OutTradeNo is the merchant-side trade number sent to the gateway:
// the payment id without hyphens.
func (p *Payment) OutTradeNo() string { return CompactID(p.ID) }
