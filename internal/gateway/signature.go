package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureError indicates a webhook whose signature does not match the
// shared secret. The payload must not be trusted.
type SignatureError struct {
	Reason string
}

func (e SignatureError) Error() string { return "webhook signature: " + e.Reason }

// Sign computes the webhook signature over timestamp+body with the shared
// secret: HMAC-SHA256, base64 encoded. Exported so tests and outbound
// deliveries use the exact scheme the verifier expects.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks an inbound webhook's signature in constant
// time. Timestamp participates in the MAC so a captured payload cannot be
// replayed under a different timestamp header.
func VerifyWebhookSignature(secret, signature, timestamp string, body []byte) error {
	if secret == "" {
		return SignatureError{Reason: "no secret configured"}
	}
	if signature == "" {
		return SignatureError{Reason: "missing signature header"}
	}
	if timestamp == "" {
		return SignatureError{Reason: "missing timestamp header"}
	}
	want := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return SignatureError{Reason: "mismatch"}
	}
	return nil
}
