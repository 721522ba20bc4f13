package tuya

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// StringToSign canonicalizes one request for signing:
// method, sha256 of the body, an empty signed-headers line, and the path.
func StringToSign(method string, body []byte, path string) string {
	bodyHash := sha256.Sum256(body)
	return strings.ToUpper(method) + "\n" +
		hex.EncodeToString(bodyHash[:]) + "\n" +
		"" + "\n" +
		path
}

// Sign computes the request signature: HMAC-SHA256 over
// clientID + accessToken + timestamp + nonce + stringToSign, hex uppercase.
// accessToken is empty for the token request itself.
func Sign(clientID, secret, accessToken, timestamp, nonce, stringToSign string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clientID + accessToken + timestamp + nonce + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
