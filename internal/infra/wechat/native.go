package wechat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/gateway"
)

var _ gateway.Provider = (*Native)(nil)

// Native implements the QR flow: create a transaction and return the
// code_url the payer scans.
type Native struct {
	*provider
}

func NewNative(cfg Config, logger *zerolog.Logger) (*Native, error) {
	p, err := newProvider(model.ProviderWechatNative, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Native{provider: p}, nil
}

func (n *Native) Pay(ctx context.Context, paymentID uuid.UUID, req gateway.PayRequest) (gateway.PayResult, error) {
	const apiPath = "/v3/pay/transactions/native"

	body, err := json.Marshal(map[string]any{
		"appid":        n.cfg.AppID,
		"mchid":        n.cfg.MchID,
		"description":  req.Description,
		"out_trade_no": model.CompactID(paymentID),
		"notify_url":   n.cfg.PaymentNotifyURL,
		"amount":       map[string]any{"total": req.Amount, "currency": "CNY"},
	})
	if err != nil {
		return gateway.PayResult{}, fmt.Errorf("marshal pay body: %w", err)
	}

	reqSnap, resSnap, resBody, err := n.createPayment(ctx, apiPath, body)
	result := gateway.PayResult{Request: reqSnap, Response: resSnap}
	if err != nil {
		return result, err
	}

	var res nativePayResponse
	if err := json.Unmarshal(resBody, &res); err != nil || res.CodeURL == "" {
		return result, fmt.Errorf("%w: native pay response missing code_url", domain.ErrMalformedPayload)
	}
	result.ClientParams = map[string]string{"codeUrl": res.CodeURL}
	return result, nil
}
