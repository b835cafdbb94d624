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

var _ gateway.Provider = (*JSAPI)(nil)

// JSAPI implements the mini-program flow: create a prepay transaction, then
// hand the payer's device re-signed invocation parameters for the payment UI.
type JSAPI struct {
	*provider
}

func NewJSAPI(cfg Config, logger *zerolog.Logger) (*JSAPI, error) {
	p, err := newProvider(model.ProviderWechatJSAPI, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &JSAPI{provider: p}, nil
}

func (j *JSAPI) Pay(ctx context.Context, paymentID uuid.UUID, req gateway.PayRequest) (gateway.PayResult, error) {
	const apiPath = "/v3/pay/transactions/jsapi"

	openid := req.Extra["openid"]
	if openid == "" {
		return gateway.PayResult{}, fmt.Errorf("%w: jsapi pay requires the payer openid", domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(map[string]any{
		"appid":        j.cfg.AppID,
		"mchid":        j.cfg.MchID,
		"description":  req.Description,
		"out_trade_no": model.CompactID(paymentID),
		"notify_url":   j.cfg.PaymentNotifyURL,
		"amount":       map[string]any{"total": req.Amount, "currency": "CNY"},
		"payer":        map[string]any{"openid": openid},
	})
	if err != nil {
		return gateway.PayResult{}, fmt.Errorf("marshal pay body: %w", err)
	}

	reqSnap, resSnap, resBody, err := j.createPayment(ctx, apiPath, body)
	result := gateway.PayResult{Request: reqSnap, Response: resSnap}
	if err != nil {
		return result, err
	}

	var res prepayResponse
	if err := json.Unmarshal(resBody, &res); err != nil || res.PrepayID == "" {
		return result, fmt.Errorf("%w: prepay response missing prepay_id", domain.ErrMalformedPayload)
	}

	params, err := j.signer.ClientInvocation(j.cfg.AppID, res.PrepayID)
	if err != nil {
		return result, fmt.Errorf("sign client invocation: %w", err)
	}
	result.ClientParams = params
	return result, nil
}
