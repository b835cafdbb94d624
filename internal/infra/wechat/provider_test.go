//go:build !integration

package wechat

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/gateway"
)

const (
	testAppID          = "wx2421b1c4370ec43b"
	testMchID          = "1900007291"
	testMerchantSerial = "MCHSERIAL001"
	testPlatformSerial = "PLATSERIAL001"
)

// One key pair serves as both merchant and platform key in tests: the
// merchant side signs outbound requests, the platform side signs the
// notifications the tests fabricate.
var testKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}()

func testConfig(baseURL string) Config {
	return Config{
		AppID:              testAppID,
		MchID:              testMchID,
		PaymentNotifyURL:   "https://merchant.example.com/webhooks/wechat_jsapi/payment",
		RefundNotifyURL:    "https://merchant.example.com/webhooks/wechat_jsapi/refund",
		MerchantSerialNo:   testMerchantSerial,
		MerchantPrivateKey: testKey,
		PlatformSerialNo:   testPlatformSerial,
		PlatformPublicKey:  &testKey.PublicKey,
		APIv3Key:           testAPIv3Key,
		BaseURL:            baseURL,
	}
}

func newTestJSAPI(t *testing.T, baseURL string) *JSAPI {
	t.Helper()
	log := zerolog.Nop()
	p, err := NewJSAPI(testConfig(baseURL), &log)
	if err != nil {
		t.Fatalf("NewJSAPI: %v", err)
	}
	return p
}

func newTestNative(t *testing.T, baseURL string) *Native {
	t.Helper()
	log := zerolog.Nop()
	p, err := NewNative(testConfig(baseURL), &log)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	return p
}

// fabricateWebhook encrypts the resource, wraps it in an envelope and signs
// the whole body the way the platform does.
func fabricateWebhook(t *testing.T, eventType string, resource any) gateway.WebhookRequest {
	t.Helper()
	c, err := NewResourceCipher(testAPIv3Key)
	if err != nil {
		t.Fatalf("NewResourceCipher: %v", err)
	}
	plaintext, err := json.Marshal(resource)
	if err != nil {
		t.Fatalf("marshal resource: %v", err)
	}
	const nonce = "0123456789ab"
	ct, err := c.Encrypt(plaintext, nonce, "transaction")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	body, err := json.Marshal(webhookEnvelope{
		ID:           "EV-2018022511223320873",
		EventType:    eventType,
		ResourceType: resourceTypeEncrypted,
		Resource: encryptedResource{
			Ciphertext:     ct,
			Nonce:          nonce,
			AssociatedData: "transaction",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	const msgNonce = "d824f2e086d3c1df967785d13fcd22ef"
	msg := fmt.Sprintf("%s\n%s\n%s\n", ts, msgNonce, body)
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPKCS1v15(rand.Reader, testKey, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign webhook: %v", err)
	}

	headers := http.Header{}
	headers.Set(headerTimestamp, ts)
	headers.Set(headerNonce, msgNonce)
	headers.Set(headerSerial, testPlatformSerial)
	headers.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	return gateway.WebhookRequest{
		URL:     "/webhooks/wechat_jsapi/payment",
		Method:  http.MethodPost,
		Headers: headers,
		Body:    body,
	}
}

func TestJSAPIPay(t *testing.T) {
	paymentID := uuid.New()

	t.Run("creates a prepay transaction and signs the client invocation", func(t *testing.T) {
		// Arrange
		var gotBody map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/v3/pay/transactions/jsapi" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "WECHATPAY2-SHA256-RSA2048 ") {
				t.Errorf("missing signed Authorization header: %q", auth)
			}
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"prepay_id":"wx201410272009395522657a690389285100"}`))
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		// Act
		result, err := p.Pay(context.Background(), paymentID, gateway.PayRequest{
			BizID:       uuid.New(),
			Amount:      100,
			Description: "QQ doll",
			Extra:       map[string]string{"openid": "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o"},
		})

		// Assert
		if err != nil {
			t.Fatalf("Pay: %v", err)
		}
		if gotBody["out_trade_no"] != model.CompactID(paymentID) {
			t.Errorf("out_trade_no = %v", gotBody["out_trade_no"])
		}
		if gotBody["appid"] != testAppID || gotBody["mchid"] != testMchID {
			t.Errorf("merchant identity not sent: %v", gotBody)
		}
		if result.ClientParams["package"] != "prepay_id=wx201410272009395522657a690389285100" {
			t.Errorf("package = %q", result.ClientParams["package"])
		}
		if result.ClientParams["signType"] != "RSA" || result.ClientParams["paySign"] == "" {
			t.Errorf("invocation not signed: %v", result.ClientParams)
		}
		if result.Request.Method != http.MethodPost || result.Response == nil || result.Response.Status != http.StatusOK {
			t.Errorf("evidence snapshots incomplete: %+v", result)
		}
	})

	t.Run("requires the payer openid", func(t *testing.T) {
		p := newTestJSAPI(t, "http://127.0.0.1:0")

		_, err := p.Pay(context.Background(), paymentID, gateway.PayRequest{Amount: 100})

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("maps a non-2xx answer to a gateway error with evidence", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":"NO_AUTH","message":"merchant not allowed"}`))
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		result, err := p.Pay(context.Background(), paymentID, gateway.PayRequest{
			Amount: 100,
			Extra:  map[string]string{"openid": "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o"},
		})

		if !errors.Is(err, domain.ErrGateway) {
			t.Fatalf("err = %v, want ErrGateway", err)
		}
		if result.Response == nil || result.Response.Status != http.StatusForbidden {
			t.Errorf("failed exchange not captured: %+v", result.Response)
		}
	})
}

func TestNativePay(t *testing.T) {
	t.Run("returns the code url for the payer to scan", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v3/pay/transactions/native" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if _, hasPayer := body["payer"]; hasPayer {
				t.Error("native pay must not send a payer")
			}
			_, _ = w.Write([]byte(`{"code_url":"weixin://wxpay/bizpayurl?pr=JyC91EIz1"}`))
		}))
		defer srv.Close()
		p := newTestNative(t, srv.URL)

		result, err := p.Pay(context.Background(), uuid.New(), gateway.PayRequest{Amount: 100, Description: "QQ doll"})

		if err != nil {
			t.Fatalf("Pay: %v", err)
		}
		if result.ClientParams["codeUrl"] != "weixin://wxpay/bizpayurl?pr=JyC91EIz1" {
			t.Errorf("codeUrl = %q", result.ClientParams["codeUrl"])
		}
	})

	t.Run("rejects a success body without code_url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()
		p := newTestNative(t, srv.URL)

		_, err := p.Pay(context.Background(), uuid.New(), gateway.PayRequest{Amount: 100})

		if !errors.Is(err, domain.ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})
}

func TestPayCallback(t *testing.T) {
	p := newTestJSAPI(t, "http://127.0.0.1:0")
	paymentID := uuid.New()
	successAt := time.Now().UTC().Truncate(time.Second)

	validResource := func() transactionResource {
		return transactionResource{
			AppID:         testAppID,
			MchID:         testMchID,
			OutTradeNo:    model.CompactID(paymentID),
			TransactionID: "4200002041202407125600950000",
			TradeState:    tradeStateSuccess,
			SuccessTime:   successAt,
		}
	}

	t.Run("verifies, decrypts and acknowledges a success notification", func(t *testing.T) {
		req := fabricateWebhook(t, eventTransactionSuccess, validResource())

		out, err := p.PayCallback(context.Background(), req)

		if err != nil {
			t.Fatalf("PayCallback: %v", err)
		}
		if out.PaymentID != paymentID {
			t.Errorf("PaymentID = %s, want %s", out.PaymentID, paymentID)
		}
		if out.ProviderTradeNo != "4200002041202407125600950000" {
			t.Errorf("ProviderTradeNo = %q", out.ProviderTradeNo)
		}
		if !out.SuccessAt.Equal(successAt) {
			t.Errorf("SuccessAt = %s, want %s", out.SuccessAt, successAt)
		}
		if out.Ack.Status != http.StatusOK || string(out.Ack.Body) != "{}" {
			t.Errorf("ack = %+v", out.Ack)
		}
	})

	t.Run("rejects a tampered body without acknowledging", func(t *testing.T) {
		req := fabricateWebhook(t, eventTransactionSuccess, validResource())
		req.Body = append([]byte(nil), req.Body...)
		req.Body[len(req.Body)-2] ^= 1

		_, err := p.PayCallback(context.Background(), req)

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects an unexpected event type", func(t *testing.T) {
		req := fabricateWebhook(t, "TRANSACTION.CLOSED", validResource())

		_, err := p.PayCallback(context.Background(), req)

		if !errors.Is(err, domain.ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})

	t.Run("rejects a resource for another merchant", func(t *testing.T) {
		res := validResource()
		res.MchID = "1999999999"
		req := fabricateWebhook(t, eventTransactionSuccess, res)

		_, err := p.PayCallback(context.Background(), req)

		if !errors.Is(err, domain.ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})

	t.Run("rejects a non-success trade state", func(t *testing.T) {
		res := validResource()
		res.TradeState = "PAYERROR"
		req := fabricateWebhook(t, eventTransactionSuccess, res)

		_, err := p.PayCallback(context.Background(), req)

		if !errors.Is(err, domain.ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})

	t.Run("rejects an out_trade_no that is not a payment id", func(t *testing.T) {
		res := validResource()
		res.OutTradeNo = "1217752501201407033233368018"
		req := fabricateWebhook(t, eventTransactionSuccess, res)

		_, err := p.PayCallback(context.Background(), req)

		if !errors.Is(err, domain.ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})
}

func TestRefund(t *testing.T) {
	paymentID := uuid.New()
	refundID := uuid.New()

	refundReq := gateway.RefundRequest{
		RefundID:   refundID,
		OutTradeNo: model.CompactID(paymentID),
		Amount:     40,
		Total:      100,
	}

	t.Run("classifies an immediate SUCCESS as settled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v3/refund/domestic/refunds" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["out_refund_no"] != model.CompactID(refundID) {
				t.Errorf("out_refund_no = %v", body["out_refund_no"])
			}
			amount := body["amount"].(map[string]any)
			if amount["refund"] != float64(40) || amount["total"] != float64(100) {
				t.Errorf("amount = %v", amount)
			}
			_, _ = w.Write([]byte(`{"refund_id":"50000000382019052709732678859","status":"SUCCESS"}`))
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		result, err := p.Refund(context.Background(), paymentID, refundReq)

		if err != nil {
			t.Fatalf("Refund: %v", err)
		}
		if result.Status != model.RefundStatusSuccess {
			t.Errorf("Status = %v, want Success", result.Status)
		}
		if result.ProviderRefundNo != "50000000382019052709732678859" {
			t.Errorf("ProviderRefundNo = %q", result.ProviderRefundNo)
		}
	})

	t.Run("leaves a PROCESSING refund pending for the callback", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"refund_id":"50000000382019052709732678859","status":"PROCESSING"}`))
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		result, err := p.Refund(context.Background(), paymentID, refundReq)

		if err != nil {
			t.Fatalf("Refund: %v", err)
		}
		if result.Status != model.RefundStatusPending {
			t.Errorf("Status = %v, want Pending", result.Status)
		}
	})

	t.Run("maps a non-2xx answer to a gateway error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"NOT_ENOUGH","message":"insufficient balance"}`))
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		result, err := p.Refund(context.Background(), paymentID, refundReq)

		if !errors.Is(err, domain.ErrGateway) {
			t.Fatalf("err = %v, want ErrGateway", err)
		}
		if result.Response == nil || result.Response.Status != http.StatusBadRequest {
			t.Errorf("failed exchange not captured: %+v", result.Response)
		}
	})
}

func TestRefundCallback(t *testing.T) {
	p := newTestJSAPI(t, "http://127.0.0.1:0")
	refundID := uuid.New()
	successAt := time.Now().UTC().Truncate(time.Second)

	t.Run("maps SUCCESS to a settled refund", func(t *testing.T) {
		req := fabricateWebhook(t, "REFUND.SUCCESS", refundResource{
			MchID:        testMchID,
			OutRefundNo:  model.CompactID(refundID),
			RefundID:     "50000000382019052709732678859",
			RefundStatus: refundStatusSuccess,
			SuccessTime:  &successAt,
		})

		out, err := p.RefundCallback(context.Background(), req)

		if err != nil {
			t.Fatalf("RefundCallback: %v", err)
		}
		if out.RefundID != refundID {
			t.Errorf("RefundID = %s, want %s", out.RefundID, refundID)
		}
		if out.Status != model.RefundStatusSuccess {
			t.Errorf("Status = %v, want Success", out.Status)
		}
		if out.SuccessAt == nil || !out.SuccessAt.Equal(successAt) {
			t.Errorf("SuccessAt = %v", out.SuccessAt)
		}
	})

	t.Run("maps CLOSED to a failed refund", func(t *testing.T) {
		req := fabricateWebhook(t, "REFUND.CLOSED", refundResource{
			MchID:        testMchID,
			OutRefundNo:  model.CompactID(refundID),
			RefundID:     "50000000382019052709732678859",
			RefundStatus: refundStatusClosed,
		})

		out, err := p.RefundCallback(context.Background(), req)

		if err != nil {
			t.Fatalf("RefundCallback: %v", err)
		}
		if out.Status != model.RefundStatusFailed {
			t.Errorf("Status = %v, want Failed", out.Status)
		}
	})

	t.Run("maps ABNORMAL to a failed refund", func(t *testing.T) {
		req := fabricateWebhook(t, "REFUND.ABNORMAL", refundResource{
			MchID:        testMchID,
			OutRefundNo:  model.CompactID(refundID),
			RefundID:     "50000000382019052709732678859",
			RefundStatus: refundStatusAbnormal,
		})

		out, err := p.RefundCallback(context.Background(), req)

		if err != nil {
			t.Fatalf("RefundCallback: %v", err)
		}
		if out.Status != model.RefundStatusFailed {
			t.Errorf("Status = %v, want Failed", out.Status)
		}
	})

	t.Run("rejects a resource for another merchant", func(t *testing.T) {
		req := fabricateWebhook(t, "REFUND.SUCCESS", refundResource{
			MchID:        "1999999999",
			OutRefundNo:  model.CompactID(refundID),
			RefundStatus: refundStatusSuccess,
		})

		_, err := p.RefundCallback(context.Background(), req)

		if !errors.Is(err, domain.ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})
}

func TestQueryPayment(t *testing.T) {
	paymentID := uuid.New()
	successAt := time.Now().UTC().Truncate(time.Second)

	t.Run("returns the trade state for a settled payment", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wantPath := "/v3/pay/transactions/out-trade-no/" + model.CompactID(paymentID)
			if r.Method != http.MethodGet || r.URL.Path != wantPath {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if r.URL.Query().Get("mchid") != testMchID {
				t.Errorf("mchid query = %q", r.URL.Query().Get("mchid"))
			}
			res := transactionResource{
				AppID:         testAppID,
				MchID:         testMchID,
				OutTradeNo:    model.CompactID(paymentID),
				TransactionID: "4200002041202407125600950000",
				TradeState:    tradeStateSuccess,
				SuccessTime:   successAt,
			}
			_ = json.NewEncoder(w).Encode(res)
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		result, err := p.QueryPayment(context.Background(), paymentID)

		if err != nil {
			t.Fatalf("QueryPayment: %v", err)
		}
		if result.TradeState != tradeStateSuccess {
			t.Errorf("TradeState = %q", result.TradeState)
		}
		if result.SuccessAt == nil || !result.SuccessAt.Equal(successAt) {
			t.Errorf("SuccessAt = %v", result.SuccessAt)
		}
	})

	t.Run("keeps a not-paid payment pending", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := transactionResource{
				AppID:      testAppID,
				MchID:      testMchID,
				OutTradeNo: model.CompactID(paymentID),
				TradeState: "NOTPAY",
			}
			_ = json.NewEncoder(w).Encode(res)
		}))
		defer srv.Close()
		p := newTestJSAPI(t, srv.URL)

		result, err := p.QueryPayment(context.Background(), paymentID)

		if err != nil {
			t.Fatalf("QueryPayment: %v", err)
		}
		if result.TradeState != "NOTPAY" || result.SuccessAt != nil {
			t.Errorf("result = %+v", result)
		}
	})
}
