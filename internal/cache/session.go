// Package cache holds the session cache: user id -> the one token currently
// accepted for that user.
package cache

import (
	"context"
	"fmt"
	"time"
)

// SessionCache maps a user to the single token that is currently valid.
// Put overwrites any previous entry; a ttl <= 0 means no expiry.
type SessionCache interface {
	Put(ctx context.Context, userID int64, token string, ttl time.Duration) error
	Get(ctx context.Context, userID int64) (string, bool, error)
	Delete(ctx context.Context, userID int64) error
	Ping(ctx context.Context) error
}

func SessionKey(userID int64) string {
	return fmt.Sprintf("user:session:%d", userID)
}
