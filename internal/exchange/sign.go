package exchange

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// signBody computes the HMAC-SHA512 hex digest of the URL-encoded request
// body, keyed with the account secret. The exchange verifies it against the
// Sign header.
func signBody(secret, body string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
