package wechat

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/gateway"
)

// Config carries the immutable per-gateway merchant configuration, injected
// at construction.
type Config struct {
	AppID            string
	MchID            string
	PaymentNotifyURL string
	RefundNotifyURL  string

	MerchantSerialNo   string
	MerchantPrivateKey *rsa.PrivateKey

	PlatformSerialNo  string
	PlatformPublicKey *rsa.PublicKey

	APIv3Key string

	// BaseURL overrides the production gateway origin (sandboxes, tests).
	BaseURL string
	// FreshnessWindow bounds webhook timestamp drift; zero means the default.
	FreshnessWindow time.Duration
	// HTTPClient overrides the default 15s-timeout client.
	HTTPClient *http.Client
}

func (c Config) validate() error {
	switch {
	case c.AppID == "":
		return fmt.Errorf("appid is required")
	case c.MchID == "":
		return fmt.Errorf("mchid is required")
	case c.MerchantSerialNo == "":
		return fmt.Errorf("merchant certificate serial is required")
	case c.MerchantPrivateKey == nil:
		return fmt.Errorf("merchant private key is required")
	case c.PlatformSerialNo == "":
		return fmt.Errorf("platform key serial is required")
	case c.PlatformPublicKey == nil:
		return fmt.Errorf("platform public key is required")
	}
	return nil
}

// provider holds everything the flows share; the JSAPI and Native types only
// differ in how a payment is created and what the payer's device receives.
type provider struct {
	key      model.ProviderKey
	cfg      Config
	signer   *Signer
	verifier *Verifier
	cipher   *ResourceCipher
	api      *apiClient
	log      zerolog.Logger
}

func newProvider(key model.ProviderKey, cfg Config, logger *zerolog.Logger) (*provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("wechat %s config: %w", key, err)
	}
	cipher, err := NewResourceCipher(cfg.APIv3Key)
	if err != nil {
		return nil, fmt.Errorf("wechat %s config: %w", key, err)
	}
	signer := NewSigner(cfg.MchID, cfg.MerchantSerialNo, cfg.MerchantPrivateKey)
	return &provider{
		key:      key,
		cfg:      cfg,
		signer:   signer,
		verifier: NewVerifier(cfg.PlatformSerialNo, cfg.PlatformPublicKey, cfg.FreshnessWindow),
		cipher:   cipher,
		api:      newAPIClient(cfg.BaseURL, key.String(), cfg.HTTPClient, signer),
		log:      logger.With().Str("provider", key.String()).Logger(),
	}, nil
}

func (p *provider) Key() model.ProviderKey { return p.key }

// jsonAck is the canonical acknowledgement that stops gateway redelivery.
func jsonAck() (gateway.Ack, *model.HTTPRecord) {
	body := []byte("{}")
	ack := gateway.Ack{Status: http.StatusOK, ContentType: "application/json", Body: body}
	snap := &model.HTTPRecord{
		Status:  ack.Status,
		Headers: [][2]string{{"Content-Type", ack.ContentType}},
		Body:    model.RawBody(body),
	}
	return ack, snap
}

// openWebhook runs the shared verify-then-decrypt pipeline: signature first,
// envelope parse second, decryption last. Any failure is terminal: no
// acknowledgement, no decryption beyond the failing step.
func (p *provider) openWebhook(req gateway.WebhookRequest) (webhookEnvelope, []byte, error) {
	timestamp := req.Header(headerTimestamp)
	nonce := req.Header(headerNonce)
	serial := req.Header(headerSerial)
	signature := req.Header(headerSignature)

	if err := p.verifier.Verify(serial, signature, timestamp, nonce, req.Body); err != nil {
		return webhookEnvelope{}, nil, err
	}

	var env webhookEnvelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.ResourceType != resourceTypeEncrypted {
		return env, nil, fmt.Errorf("%w: unexpected resource_type %q", domain.ErrMalformedPayload, env.ResourceType)
	}
	plaintext, err := p.cipher.Decrypt(env.Resource.Ciphertext, env.Resource.Nonce, env.Resource.AssociatedData)
	if err != nil {
		return env, nil, err
	}
	return env, plaintext, nil
}

func (p *provider) PayCallback(ctx context.Context, req gateway.WebhookRequest) (gateway.PayCallbackOutcome, error) {
	out := gateway.PayCallbackOutcome{Request: req.Snapshot()}

	env, plaintext, err := p.openWebhook(req)
	if err != nil {
		return out, err
	}
	if env.EventType != eventTransactionSuccess {
		return out, fmt.Errorf("%w: unexpected event_type %q", domain.ErrMalformedPayload, env.EventType)
	}

	var res transactionResource
	if err := json.Unmarshal(plaintext, &res); err != nil {
		return out, fmt.Errorf("%w: decrypted resource: %v", domain.ErrMalformedPayload, err)
	}
	if res.AppID != p.cfg.AppID || res.MchID != p.cfg.MchID {
		return out, fmt.Errorf("%w: appid/mchid mismatch", domain.ErrMalformedPayload)
	}
	if res.TradeState != tradeStateSuccess {
		return out, fmt.Errorf("%w: unexpected trade_state %q", domain.ErrMalformedPayload, res.TradeState)
	}
	paymentID, err := model.ParseCompactID(res.OutTradeNo)
	if err != nil {
		return out, fmt.Errorf("%w: out_trade_no %q is not a payment id", domain.ErrMalformedPayload, res.OutTradeNo)
	}

	ack, ackSnap := jsonAck()
	out.PaymentID = paymentID
	out.ProviderTradeNo = res.TransactionID
	out.SuccessAt = res.SuccessTime
	out.Ack = ack
	out.Response = ackSnap
	return out, nil
}

func (p *provider) Refund(ctx context.Context, paymentID uuid.UUID, req gateway.RefundRequest) (gateway.RefundResult, error) {
	const apiPath = "/v3/refund/domestic/refunds"

	body, err := json.Marshal(map[string]any{
		"out_trade_no":  req.OutTradeNo,
		"out_refund_no": model.CompactID(req.RefundID),
		"notify_url":    p.cfg.RefundNotifyURL,
		"amount": map[string]any{
			"refund":   req.Amount,
			"total":    req.Total,
			"currency": "CNY",
		},
	})
	if err != nil {
		return gateway.RefundResult{}, fmt.Errorf("marshal refund body: %w", err)
	}

	reqSnap, resSnap, resBody, err := p.api.do(ctx, http.MethodPost, apiPath, body)
	result := gateway.RefundResult{Request: reqSnap, Response: resSnap}
	if err != nil {
		return result, err
	}
	if resSnap.Status < 200 || resSnap.Status >= 300 {
		p.log.Warn().Int("status", resSnap.Status).Str("payment_id", paymentID.String()).Msg("refund request rejected by gateway")
		return result, fmt.Errorf("%w: refund returned status %d", domain.ErrGateway, resSnap.Status)
	}

	var res refundResponse
	if err := json.Unmarshal(resBody, &res); err != nil {
		return result, fmt.Errorf("%w: refund response: %v", domain.ErrMalformedPayload, err)
	}
	result.ProviderRefundNo = res.RefundID
	result.RawStatus = res.Status
	// The gateway reports SUCCESS only for synchronously settled refunds;
	// everything else resolves through the refund callback.
	if res.Status == refundStatusSuccess {
		result.Status = model.RefundStatusSuccess
	} else {
		result.Status = model.RefundStatusPending
	}
	return result, nil
}

func (p *provider) RefundCallback(ctx context.Context, req gateway.WebhookRequest) (gateway.RefundCallbackOutcome, error) {
	out := gateway.RefundCallbackOutcome{Request: req.Snapshot()}

	_, plaintext, err := p.openWebhook(req)
	if err != nil {
		return out, err
	}

	var res refundResource
	if err := json.Unmarshal(plaintext, &res); err != nil {
		return out, fmt.Errorf("%w: decrypted resource: %v", domain.ErrMalformedPayload, err)
	}
	if res.MchID != p.cfg.MchID {
		return out, fmt.Errorf("%w: mchid mismatch", domain.ErrMalformedPayload)
	}
	refundID, err := model.ParseCompactID(res.OutRefundNo)
	if err != nil {
		return out, fmt.Errorf("%w: out_refund_no %q is not a refund id", domain.ErrMalformedPayload, res.OutRefundNo)
	}

	var status model.RefundStatus
	switch res.RefundStatus {
	case refundStatusSuccess:
		status = model.RefundStatusSuccess
	case refundStatusClosed, refundStatusAbnormal:
		status = model.RefundStatusFailed
	default:
		status = model.RefundStatusPending
	}

	ack, ackSnap := jsonAck()
	out.RefundID = refundID
	out.ProviderRefundNo = res.RefundID
	out.Status = status
	out.SuccessAt = res.SuccessTime
	out.Ack = ack
	out.Response = ackSnap
	return out, nil
}

func (p *provider) QueryPayment(ctx context.Context, paymentID uuid.UUID) (gateway.QueryResult, error) {
	pathAndQuery := fmt.Sprintf("/v3/pay/transactions/out-trade-no/%s?mchid=%s", model.CompactID(paymentID), p.cfg.MchID)

	reqSnap, resSnap, resBody, err := p.api.do(ctx, http.MethodGet, pathAndQuery, nil)
	result := gateway.QueryResult{Request: reqSnap, Response: resSnap}
	if err != nil {
		return result, err
	}
	if resSnap.Status < 200 || resSnap.Status >= 300 {
		return result, fmt.Errorf("%w: transaction query returned status %d", domain.ErrGateway, resSnap.Status)
	}

	var res transactionResource
	if err := json.Unmarshal(resBody, &res); err != nil {
		return result, fmt.Errorf("%w: query response: %v", domain.ErrMalformedPayload, err)
	}
	result.TradeState = res.TradeState
	result.ProviderTradeNo = res.TransactionID
	if !res.SuccessTime.IsZero() {
		t := res.SuccessTime
		result.SuccessAt = &t
	}
	return result, nil
}

// createPayment posts a create-payment body and returns the snapshots plus
// the raw success body for flow-specific parsing.
func (p *provider) createPayment(ctx context.Context, apiPath string, body []byte) (model.HTTPRecord, *model.HTTPRecord, []byte, error) {
	reqSnap, resSnap, resBody, err := p.api.do(ctx, http.MethodPost, apiPath, body)
	if err != nil {
		return reqSnap, resSnap, nil, err
	}
	if resSnap.Status < 200 || resSnap.Status >= 300 {
		p.log.Warn().Int("status", resSnap.Status).Msg("create payment rejected by gateway")
		return reqSnap, resSnap, nil, fmt.Errorf("%w: create payment returned status %d", domain.ErrGateway, resSnap.Status)
	}
	return reqSnap, resSnap, resBody, nil
}
