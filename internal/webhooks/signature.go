package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature"

// VerifyHMAC checks a signature produced by SignHMAC. Receivers use it on the raw body.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(sum(secret, body), b)
}

func SignHMAC(secret string, body []byte) string {
	return hex.EncodeToString(sum(secret, body))
}

func sum(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
