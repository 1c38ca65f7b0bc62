package relay

import "testing"

func TestSignVerify_RoundTrip(t *testing.T) {
	secret := "tenant-secret"
	timestamp := "1700000000"
	nonce := "a-nonce"
	body := []byte(`{"eventType":"ups_status_change"}`)

	sig := sign(secret, timestamp, nonce, body)
	if !Verify(secret, timestamp, nonce, body, sig) {
		t.Fatal("Verify() = false for a signature just produced by sign()")
	}
}

func TestSign_IsDeterministic(t *testing.T) {
	secret, timestamp, nonce := "s", "1", "n"
	body := []byte(`{"a":1}`)
	if sign(secret, timestamp, nonce, body) != sign(secret, timestamp, nonce, body) {
		t.Error("sign() is not deterministic for identical inputs")
	}
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	secret, timestamp, nonce := "s", "1", "n"
	sig := sign(secret, timestamp, nonce, []byte(`{"a":1}`))
	if Verify(secret, timestamp, nonce, []byte(`{"a":2}`), sig) {
		t.Error("Verify() = true for a tampered body, want false")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	timestamp, nonce := "1", "n"
	body := []byte(`{"a":1}`)
	sig := sign("secret-a", timestamp, nonce, body)
	if Verify("secret-b", timestamp, nonce, body, sig) {
		t.Error("Verify() = true with the wrong secret, want false")
	}
}
