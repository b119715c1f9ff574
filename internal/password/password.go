// Package password hashes and verifies user passwords.
//
// New accounts get argon2id hashes. Bcrypt is available as an alternative and
// the unsalted SHA-256 hex digest is recognised only to verify rows imported
// from the previous deployment.
package password

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KindArgon2id = "argon2id"
	KindBcrypt   = "bcrypt"
	KindSHA256   = "sha256"
)

// ErrMalformedHash is returned by Verify when the stored value cannot be
// parsed by the hasher.
var ErrMalformedHash = errors.New("malformed password hash")

type Hasher interface {
	// Hash returns the encoded form of plaintext that is safe to store.
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches encoded. A mismatch is
	// (false, nil); an unparsable encoded value is (false, ErrMalformedHash).
	Verify(plaintext, encoded string) (bool, error)
}

type Config struct {
	Kind       string
	Argon2     Argon2Params
	BcryptCost int
}

// New returns a Policy that hashes with cfg.Kind (argon2id when empty).
// sha256 is verify-only and cannot be configured for new hashes.
func New(cfg Config) (*Policy, error) {
	var primary Hasher
	var err error
	kind := cfg.Kind
	switch kind {
	case "", KindArgon2id:
		kind = KindArgon2id
		primary, err = NewArgon2(cfg.Argon2)
	case KindBcrypt:
		primary, err = NewBcrypt(cfg.BcryptCost)
	case KindSHA256:
		return nil, fmt.Errorf("password: %s is verify-only", KindSHA256)
	default:
		return nil, fmt.Errorf("password: unknown hasher %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return &Policy{kind: kind, primary: primary}, nil
}

// Policy hashes with one configured kind and verifies any stored format it
// recognises, so rows written by an earlier hasher keep working.
type Policy struct {
	kind    string
	primary Hasher
}

func (p *Policy) Kind() string {
	return p.kind
}

func (p *Policy) Hash(plaintext string) (string, error) {
	return p.primary.Hash(plaintext)
}

func (p *Policy) Verify(plaintext, encoded string) (bool, error) {
	var verifier Hasher
	switch Detect(encoded) {
	case KindArgon2id:
		// parameters come from the encoded string
		verifier = &Argon2{}
	case KindBcrypt:
		verifier = &Bcrypt{}
	case KindSHA256:
		verifier = SHA256{}
	default:
		return false, ErrMalformedHash
	}
	return verifier.Verify(plaintext, encoded)
}

// NeedsRehash reports whether encoded was produced by a kind other than the
// configured one.
func (p *Policy) NeedsRehash(encoded string) bool {
	return Detect(encoded) != p.kind
}

// Detect names the kind that produced encoded, or "" if unrecognised.
func Detect(encoded string) string {
	switch {
	case strings.HasPrefix(encoded, "$"+KindArgon2id+"$"):
		return KindArgon2id
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return KindBcrypt
	case isHexDigest(encoded):
		return KindSHA256
	}
	return ""
}

func isHexDigest(s string) bool {
	if len(s) != hex.EncodedLen(sha256.Size) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
