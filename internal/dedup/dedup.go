// Package dedup remembers inbound WhatsApp message ids so redelivered
// webhooks are acknowledged without running the pipeline twice.
package dedup

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is how long a message id is remembered.
const DefaultTTL = time.Hour

const keyPrefix = "wa-relay:msg:"

// ErrEmptyID is returned when no message id is supplied.
var ErrEmptyID = errors.New("dedup: message id is required")

// Store reports whether a message id was already recorded.
// Seen records the id on first sight and returns false; later calls
// within the TTL return true.
type Store interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// Noop never reports duplicates.
type Noop struct{}

func (Noop) Seen(context.Context, string) (bool, error) { return false, nil }

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
