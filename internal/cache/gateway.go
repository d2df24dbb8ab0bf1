// Package cache is the TTL key/value gateway the acquirer uses to avoid
// repeating provider searches.
package cache

import (
	"context"
	"time"
)

// Gateway stores string values with a per-key expiry. A missing or expired
// key is reported as found == false with a nil error.
type Gateway interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Nop never stores anything. Every lookup is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (Nop) SetWithTTL(context.Context, string, string, time.Duration) error { return nil }
