// Package token issues and verifies the signed session tokens handed to
// clients: header.payload.signature, each segment base64url without padding,
// signed with HMAC-SHA256.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token signing secret is required")
)

// Claims is the token payload: {user_id, username, iat, exp, jti}.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

type Option func(*Codec)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrNoSecret
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("token: negative ttl %s", cfg.TTL)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	c := &Codec{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		// expired only once now > exp; the token is still valid at exp itself
		jwt.WithLeeway(time.Nanosecond),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	c.parser = jwt.NewParser(parserOpts...)
	return c, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for the user valid from now until now+TTL. Every token
// carries a fresh jti, so two issued in the same second still differ.
func (c *Codec) Issue(userID int64, username string) (string, *Claims, error) {
	now := c.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

// Verify checks structure, signature and expiry and returns the payload.
// Every failure wraps ErrInvalidToken and returns no claims.
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// EncodeSegment is base64url with the '=' padding stripped.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment reverses EncodeSegment, restoring padding first. Padded
// input is accepted as well.
func DecodeSegment(s string) ([]byte, error) {
	return segmentParser.DecodeSegment(s)
}
