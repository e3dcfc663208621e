package license

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Ambiguous characters (0, O, 1, I) are left out so keys can be read aloud.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	keyGroups    = 4
	keyGroupSize = 4
)

// GenerateKey returns a random key of the form PREFIX-XXXX-XXXX-XXXX-XXXX.
func GenerateKey(prefix string) (string, error) {
	size := big.NewInt(int64(len(keyAlphabet)))

	var b strings.Builder
	b.WriteString(prefix)
	for g := 0; g < keyGroups; g++ {
		if b.Len() > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < keyGroupSize; i++ {
			n, err := rand.Int(rand.Reader, size)
			if err != nil {
				return "", fmt.Errorf("generate key: %w", err)
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// NormalizeKey upper-cases a user supplied key and strips surrounding space.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
