package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SHA256 is the unsalted hex digest used by the previous deployment. It has
// no work factor; Policy uses it to verify old rows and never to hash.
type SHA256 struct{}

func (SHA256) Hash(plaintext string) (string, error) {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:]), nil
}

func (SHA256) Verify(plaintext, encoded string) (bool, error) {
	if len(encoded) != hex.EncodedLen(sha256.Size) {
		return false, ErrMalformedHash
	}
	want, err := hex.DecodeString(encoded)
	if err != nil {
		return false, ErrMalformedHash
	}
	sum := sha256.Sum256([]byte(plaintext))
	return subtle.ConstantTimeCompare(sum[:], want) == 1, nil
}
