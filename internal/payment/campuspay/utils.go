package campuspay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hmac256 signs body with key and returns the hex digest.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignature checks a webhook body against its claimed signature
// in constant time.
func VerifySignature(body []byte, key []byte, receivedHMAC string) bool {
	expected := Hmac256(body, key)
	return hmac.Equal([]byte(receivedHMAC), []byte(expected))
}

// HashSecret bcrypt-hashes a shared secret for storage in config.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareSecret checks a presented secret against its stored bcrypt
// hash.
func CompareSecret(storedHash, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(presented)) == nil
}
