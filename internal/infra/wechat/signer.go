package wechat

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// authScheme is the Authorization scheme identifier the gateway expects.
// https://pay.weixin.qq.com/doc/v3/merchant/4012365336
const authScheme = "WECHATPAY2-SHA256-RSA2048"

const nonceLength = 30

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Nonce returns a fresh random alphanumeric nonce, uniform over the
// alphabet.
func Nonce() string {
	// Bytes at or above the largest multiple of the alphabet size are
	// discarded so the modulo cannot skew the distribution.
	const limit = 256 - 256%len(nonceAlphabet)
	out := make([]byte, 0, nonceLength)
	var buf [64]byte
	for len(out) < nonceLength {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == nonceLength {
				break
			}
		}
	}
	return string(out)
}

// Signer produces merchant request signatures under the gateway's
// SHA256-RSA2048 scheme (RSA-PKCS#1v1.5 over SHA-256, base64-encoded).
type Signer struct {
	mchid    string
	serialNo string
	key      *rsa.PrivateKey
}

func NewSigner(mchid, serialNo string, key *rsa.PrivateKey) *Signer {
	return &Signer{mchid: mchid, serialNo: serialNo, key: key}
}

func (s *Signer) sign(msg []byte) (string, error) {
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignRequest signs the canonical request string
// "{method}\n{path}\n{timestamp}\n{nonce}\n{body}\n".
func (s *Signer) SignRequest(method, urlPath string, body []byte, timestamp int64, nonce string) (string, error) {
	msg := fmt.Sprintf("%s\n%s\n%d\n%s\n%s\n", method, urlPath, timestamp, nonce, body)
	return s.sign([]byte(msg))
}

// AuthorizationHeader mints a nonce and timestamp, signs the request, and
// assembles the full Authorization header value.
func (s *Signer) AuthorizationHeader(method, urlPath string, body []byte) (string, error) {
	nonce := Nonce()
	timestamp := time.Now().Unix()
	sig, err := s.SignRequest(method, urlPath, body, timestamp, nonce)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`%s mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		authScheme, s.mchid, nonce, sig, timestamp, s.serialNo), nil
}

// SignClientInvocation signs the canonical string the payer's client device
// presents to invoke the gateway's payment UI:
// "{appid}\n{timestamp}\n{nonce}\nprepay_id={prepay_id}\n".
// https://pay.weixin.qq.com/doc/v3/merchant/4012365341
func (s *Signer) SignClientInvocation(appID, prepayID string, timestamp int64, nonce string) (string, error) {
	msg := fmt.Sprintf("%s\n%d\n%s\nprepay_id=%s\n", appID, timestamp, nonce, prepayID)
	return s.sign([]byte(msg))
}

// ClientInvocation packages the parameters the payer's device passes to the
// gateway UI, signed with a fresh nonce and timestamp.
func (s *Signer) ClientInvocation(appID, prepayID string) (map[string]string, error) {
	nonce := Nonce()
	timestamp := time.Now().Unix()
	sig, err := s.SignClientInvocation(appID, prepayID, timestamp, nonce)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"timeStamp": strconv.FormatInt(timestamp, 10),
		"nonceStr":  nonce,
		"package":   "prepay_id=" + prepayID,
		"signType":  "RSA",
		"paySign":   sig,
	}, nil
}
