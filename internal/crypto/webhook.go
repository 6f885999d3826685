// Package crypto signs outbound webhook requests so receivers can verify
// that a notification came from notifyhub and was not replayed.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names set on signed webhook requests.
const (
	HeaderTimestamp = "X-Notifyhub-Timestamp"
	HeaderSignature = "X-Notifyhub-Signature"
)

// signatureVersion prefixes the hex digest, e.g. "v1=3f2a...".
const signatureVersion = "v1"

// WebhookSigner computes HMAC-SHA256(secret, timestamp + "." + body).
type WebhookSigner struct {
	secret []byte
}

// NewWebhookSigner returns a signer, or nil when secret is empty so callers
// can treat "no secret" as "do not sign".
func NewWebhookSigner(secret string) *WebhookSigner {
	if secret == "" {
		return nil
	}
	return &WebhookSigner{secret: []byte(secret)}
}

// Headers returns the timestamp and signature headers for body.
func (s *WebhookSigner) Headers(body []byte) map[string]string {
	return s.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (s *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: signatureVersion + "=" + s.digest(ts, body),
	}
}

// Verify checks a received signature. Timestamps further than tolerance from
// now are rejected; a zero tolerance skips the age check.
func (s *WebhookSigner) Verify(body []byte, timestamp, signature string, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: invalid timestamp %q", timestamp)
	}
	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("crypto: timestamp outside tolerance (%s)", age.Round(time.Second))
		}
	}
	want := signatureVersion + "=" + s.digest(timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

func (s *WebhookSigner) digest(ts string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s *WebhookSigner) String() string {
	if s == nil {
		return "WebhookSigner{disabled}"
	}
	return "WebhookSigner{secret=****}"
}
