package gateway

import "testing"

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	ts := "1719410400"
	body := []byte(`{"data":{"order":{"order_id":"order_1"}}}`)
	sig := Sign(secret, ts, body)

	if err := VerifyWebhookSignature(secret, sig, ts, body); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifyWebhookSignature(secret, sig, ts, []byte(`{"data":{}}`)); err == nil {
		t.Fatal("tampered body accepted")
	}
	if err := VerifyWebhookSignature(secret, sig, "1719410401", body); err == nil {
		t.Fatal("shifted timestamp accepted")
	}
	if err := VerifyWebhookSignature("other", sig, ts, body); err == nil {
		t.Fatal("wrong secret accepted")
	}
	if err := VerifyWebhookSignature(secret, "", ts, body); err == nil {
		t.Fatal("missing signature accepted")
	}
	if err := VerifyWebhookSignature(secret, sig, "", body); err == nil {
		t.Fatal("missing timestamp accepted")
	}
}
