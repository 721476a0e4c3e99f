package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyAlphabet excludes 0/O, 1/I/L and other lookalikes so keys survive being
// read over the phone or typed from a printout.
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	keyGroups    = 4
	keyGroupSize = 5
)

// GenerateKey returns a license key of the form XXXXX-XXXXX-XXXXX-XXXXX drawn
// from the unambiguous alphabet. Uniqueness is enforced by the store's UNIQUE
// constraint; callers retry on collision.
func GenerateKey() (string, error) {
	raw := make([]byte, keyGroups*keyGroupSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	var b strings.Builder
	for i, c := range raw {
		if i > 0 && i%keyGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// NormalizeKey upper-cases and trims a caller-supplied key so lookups are
// forgiving about case and stray whitespace.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// GenerateActivationToken returns the opaque secret handed to a caller on
// successful activation.
func GenerateActivationToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
