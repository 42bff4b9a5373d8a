package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignatureV3       = "X-HubSpot-Signature-v3"
	HeaderRequestTimestamp  = "X-HubSpot-Request-Timestamp"
	DefaultSignatureMaxSkew = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing HubSpot signature headers")
	ErrStaleTimestamp   = errors.New("request timestamp outside tolerance")
	ErrInvalidSignature = errors.New("invalid signature")
)

// SignatureVerifier checks v3 signatures: HMAC-SHA256 over
// method + URI + body + timestamp keyed by the app secret.
type SignatureVerifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

func NewSignatureVerifier(secret string, maxSkew time.Duration) *SignatureVerifier {
	if maxSkew <= 0 {
		maxSkew = DefaultSignatureMaxSkew
	}
	return &SignatureVerifier{secret: strings.TrimSpace(secret), maxSkew: maxSkew, now: time.Now}
}

// Enabled is false when no secret is configured; deliveries are then trusted.
func (v *SignatureVerifier) Enabled() bool {
	return v != nil && v.secret != ""
}

func (v *SignatureVerifier) Verify(method, uri string, body []byte, signature, timestamp string) error {
	if !v.Enabled() {
		return nil
	}
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := v.now().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrStaleTimestamp
	}
	expected := v.Sign(method, uri, body, timestamp)
	if hmac.Equal([]byte(expected), []byte(signature)) {
		return nil
	}
	// HubSpot documents base64; some proxies relay the hex digest.
	if raw, err := hex.DecodeString(signature); err == nil {
		if hmac.Equal([]byte(expected), []byte(base64.StdEncoding.EncodeToString(raw))) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign returns the base64 v3 signature for a request.
func (v *SignatureVerifier) Sign(method, uri string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(method))
	mac.Write([]byte(uri))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
