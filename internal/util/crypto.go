package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskCredential keeps the bot id part of a Telegram token ("123:secret")
// and hides the secret.
func MaskCredential(credential string) string {
	for i := 0; i < len(credential); i++ {
		if credential[i] == ':' {
			return credential[:i+1] + "****"
		}
	}
	if len(credential) <= 4 {
		return "****"
	}
	return credential[:4] + "-****"
}
