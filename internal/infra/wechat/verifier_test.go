//go:build !integration

package wechat

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"paygate/internal/domain"
)

// Platform key and signature from the gateway's notification documentation.
const testPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAwXNI6sdlknHBnK8Fu2U6
Cwor9qY747jP8KAfeBMeveEt1TqaHkLfaSD07trZLhGpfs8/AHqjhgSMO1O10YQW
OrrJ4hjIWPKqxbgrYMkBQc+mwdiWp4W3ByCqxBRagCveCXRWCmuJYovl9H/bsDI0
iGbpVtEOghJtfciisYSgxcLufUDTRkvwxjIBK1pCRjk33jJ5YTBWTHMRtMAOcFLN
F6hdEYdX8SPsgHHeLZ5Lv2T/686w1xtgCHef/sd4uSfWmyzsalQdHG/e4IyYmrhx
+O3VBoNDzE3nx23bFeV/RVNCG7cV6VhmYokJNHa/erIPkEmEFID6A5wQOXuxUkmJ
WwIDAQAB
-----END PUBLIC KEY-----`

const (
	testVerifySerial    = "PLATSERIAL001"
	testVerifySign      = "mfI1CPqvBrgcXfgXMFjdNIhBf27ACE2YyeWsWV9ZI7T7RU0vHvbQpu9Z32ogzc+k8ZC5n3kz7h70eWKjgqNdKQF0eRp8mVKlmfzMLBVHbssB9jEZEDXThOX1XFqX7s7ymia1hoHQxQagPGzkdWxtlZPZ4ZPvr1RiqkgAu6Is8MZgXXrRoBKqjmSdrP1N7uxzJ/cjfSiis9FiLjuADoqmQ1P7p2N876YPAol7Rn0+GswwAwxldbdLrmVSjfytfSBJFqTMHn4itojgxSWWN1byuckQt8hSTEv/Lg97QoeGniYP17T80pJeQyL3b+295FPHSO2AtvCgyIbKMZ0BALilAA=="
	testVerifyTimestamp = "1722850421"
	testVerifyNonce     = "d824f2e086d3c1df967785d13fcd22ef"
	testVerifyBody      = `{"code_url":"weixin://wxpay/bizpayurl?pr=JyC91EIz1"}`
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	key, err := ParsePublicKey([]byte(testPublicKeyPEM))
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	v := NewVerifier(testVerifySerial, key, 0)
	// Pin the clock inside the freshness window of the recorded notification.
	v.now = func() time.Time { return time.Unix(1722850421, 0).Add(30 * time.Second) }
	return v
}

func TestVerifier_Verify(t *testing.T) {
	t.Run("accepts the documented example notification", func(t *testing.T) {
		v := newTestVerifier(t)

		err := v.Verify(testVerifySerial, testVerifySign, testVerifyTimestamp, testVerifyNonce, []byte(testVerifyBody))

		if err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("rejects an unexpected key serial before any signature math", func(t *testing.T) {
		v := newTestVerifier(t)

		err := v.Verify("SOMETHING-ELSE", testVerifySign, testVerifyTimestamp, testVerifyNonce, []byte(testVerifyBody))

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects a tampered body", func(t *testing.T) {
		v := newTestVerifier(t)
		body := []byte(`{"code_url":"weixin://wxpay/bizpayurl?pr=XXXXXXXXX"}`)

		err := v.Verify(testVerifySerial, testVerifySign, testVerifyTimestamp, testVerifyNonce, body)

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects a timestamp outside the freshness window", func(t *testing.T) {
		v := newTestVerifier(t)
		v.now = func() time.Time { return time.Unix(1722850421, 0).Add(6 * time.Minute) }

		err := v.Verify(testVerifySerial, testVerifySign, testVerifyTimestamp, testVerifyNonce, []byte(testVerifyBody))

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects a timestamp too far in the future", func(t *testing.T) {
		v := newTestVerifier(t)
		v.now = func() time.Time { return time.Unix(1722850421, 0).Add(-6 * time.Minute) }

		err := v.Verify(testVerifySerial, testVerifySign, testVerifyTimestamp, testVerifyNonce, []byte(testVerifyBody))

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects a non-numeric timestamp", func(t *testing.T) {
		v := newTestVerifier(t)

		err := v.Verify(testVerifySerial, testVerifySign, "not-a-number", testVerifyNonce, []byte(testVerifyBody))

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects a signature with a single flipped bit", func(t *testing.T) {
		v := newTestVerifier(t)
		raw, err := base64.StdEncoding.DecodeString(testVerifySign)
		if err != nil {
			t.Fatalf("decode fixture signature: %v", err)
		}
		raw[0] ^= 0x01
		flipped := base64.StdEncoding.EncodeToString(raw)

		err = v.Verify(testVerifySerial, flipped, testVerifyTimestamp, testVerifyNonce, []byte(testVerifyBody))

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("rejects a signature that is not base64", func(t *testing.T) {
		v := newTestVerifier(t)

		err := v.Verify(testVerifySerial, "%%%not-base64%%%", testVerifyTimestamp, testVerifyNonce, []byte(testVerifyBody))

		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("err = %v, want ErrSignatureVerification", err)
		}
	})
}
