package wechat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/infra/metrics"
)

// DefaultBaseURL is the production gateway origin; tests and sandboxes
// override it via Config.BaseURL.
const DefaultBaseURL = "https://api.mch.weixin.qq.com"

const userAgent = "paygate"

// apiClient performs signed HTTPS calls against the gateway and captures
// verbatim request/response snapshots for the evidence ledger.
type apiClient struct {
	base     string
	provider string
	hc       *http.Client
	signer   *Signer
}

func newAPIClient(base, provider string, hc *http.Client, signer *Signer) *apiClient {
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &apiClient{base: base, provider: provider, hc: hc, signer: signer}
}

// do signs and sends one request. The request snapshot is always returned;
// the response snapshot and body only when a response was obtained.
// pathAndQuery is the canonical URL used in the signature.
func (c *apiClient) do(ctx context.Context, method, pathAndQuery string, payload []byte) (model.HTTPRecord, *model.HTTPRecord, []byte, error) {
	auth, err := c.signer.AuthorizationHeader(method, pathAndQuery, payload)
	if err != nil {
		return model.HTTPRecord{}, nil, nil, fmt.Errorf("sign request: %w", err)
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+pathAndQuery, body)
	if err != nil {
		return model.HTTPRecord{}, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	reqSnap := model.HTTPRecord{
		URL:     req.URL.String(),
		Method:  method,
		Headers: model.FlattenHeaders(req.Header),
		Body:    model.RawBody(payload),
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.ObserveGatewayCall(c.provider, pathAndQuery, "error", time.Since(start))
		return reqSnap, nil, nil, fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	resBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return reqSnap, nil, nil, fmt.Errorf("%w: read response: %v", domain.ErrGateway, err)
	}
	metrics.ObserveGatewayCall(c.provider, pathAndQuery, strconv.Itoa(resp.StatusCode), time.Since(start))

	resSnap := &model.HTTPRecord{
		Status:  resp.StatusCode,
		Headers: model.FlattenHeaders(resp.Header),
		Body:    model.RawBody(resBody),
	}
	return reqSnap, resSnap, resBody, nil
}
