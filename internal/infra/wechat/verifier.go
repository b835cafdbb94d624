package wechat

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"paygate/internal/domain"
)

// DefaultFreshnessWindow bounds how far a webhook timestamp may drift from
// the local clock before the notification is rejected as a potential replay.
const DefaultFreshnessWindow = 5 * time.Minute

// Verifier authenticates inbound notification signatures against the
// platform public key. Verification is fail-closed: the presented key serial
// must equal the configured serial before any signature math runs, and no
// multi-key rotation is supported.
type Verifier struct {
	serialNo  string
	key       *rsa.PublicKey
	freshness time.Duration
	now       func() time.Time
}

func NewVerifier(serialNo string, key *rsa.PublicKey, freshness time.Duration) *Verifier {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &Verifier{serialNo: serialNo, key: key, freshness: freshness, now: time.Now}
}

// Verify checks the presented serial, the timestamp freshness bound, and the
// RSA-PKCS#1v1.5/SHA-256 signature over "{timestamp}\n{nonce}\n{body}\n".
// Any failure is terminal for the webhook: it must not be acknowledged and
// must not be decrypted.
func (v *Verifier) Verify(serialNo, signatureB64, timestamp, nonce string, body []byte) error {
	if serialNo != v.serialNo {
		return fmt.Errorf("%w: unexpected platform key serial %q", domain.ErrSignatureVerification, serialNo)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", domain.ErrSignatureVerification, timestamp)
	}
	if drift := v.now().Sub(time.Unix(ts, 0)); drift > v.freshness || drift < -v.freshness {
		return fmt.Errorf("%w: timestamp outside freshness window (drift %s)", domain.ErrSignatureVerification, drift)
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid base64", domain.ErrSignatureVerification)
	}

	msg := fmt.Sprintf("%s\n%s\n%s\n", timestamp, nonce, body)
	digest := sha256.Sum256([]byte(msg))
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignatureVerification, err)
	}
	return nil
}
