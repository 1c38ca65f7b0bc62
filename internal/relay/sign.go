package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes hex(HMAC-SHA256(secret, "<timestamp>\n<nonce>\n<rawBody>")),
// per §4.6. rawBody must be the exact byte-identical serialized JSON that
// will be sent on the wire.
func sign(secret, timestamp, nonce string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write([]byte(nonce))
	mac.Write([]byte("\n"))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it against sig, for test use
// and for any future symmetric-verification need.
func Verify(secret, timestamp, nonce string, rawBody []byte, sig string) bool {
	expected := sign(secret, timestamp, nonce, rawBody)
	return hmac.Equal([]byte(expected), []byte(sig))
}
