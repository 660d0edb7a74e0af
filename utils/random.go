package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns 2n uppercase hex characters from a CSPRNG. Used
// for payment reference labels and purchase ids.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
