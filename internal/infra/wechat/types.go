package wechat

import "time"

// Wire payloads exchanged with the gateway (WeChat Pay APIv3).

// webhookEnvelope is the outer JSON body of an inbound notification.
type webhookEnvelope struct {
	ID           string            `json:"id"`
	EventType    string            `json:"event_type"`
	ResourceType string            `json:"resource_type"`
	Resource     encryptedResource `json:"resource"`
}

// encryptedResource is the AEAD-protected payload inside a notification.
type encryptedResource struct {
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
}

// transactionResource is the decrypted payment-success record, also returned
// by the transaction query endpoint.
type transactionResource struct {
	AppID         string    `json:"appid"`
	MchID         string    `json:"mchid"`
	OutTradeNo    string    `json:"out_trade_no"`
	TransactionID string    `json:"transaction_id"`
	TradeState    string    `json:"trade_state"`
	SuccessTime   time.Time `json:"success_time"`
}

// refundResource is the decrypted refund-status record.
type refundResource struct {
	MchID        string     `json:"mchid"`
	OutRefundNo  string     `json:"out_refund_no"`
	RefundID     string     `json:"refund_id"`
	RefundStatus string     `json:"refund_status"`
	SuccessTime  *time.Time `json:"success_time"`
}

// prepayResponse is the success body of the JSAPI create-payment endpoint.
type prepayResponse struct {
	PrepayID string `json:"prepay_id"`
}

// nativePayResponse is the success body of the Native create-payment endpoint.
type nativePayResponse struct {
	CodeURL string `json:"code_url"`
}

// refundResponse is the immediate body of the create-refund endpoint.
type refundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Notification header names.
const (
	headerTimestamp = "Wechatpay-Timestamp"
	headerNonce     = "Wechatpay-Nonce"
	headerSerial    = "Wechatpay-Serial"
	headerSignature = "Wechatpay-Signature"
)

// Gateway status strings.
const (
	eventTransactionSuccess = "TRANSACTION.SUCCESS"
	resourceTypeEncrypted   = "encrypt-resource"
	tradeStateSuccess       = "SUCCESS"
	refundStatusSuccess     = "SUCCESS"
	refundStatusClosed      = "CLOSED"
	refundStatusAbnormal    = "ABNORMAL"
)
