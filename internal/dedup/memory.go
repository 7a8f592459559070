package dedup

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory is an in-process Store backed by go-cache.
type Memory struct {
	cache *cache.Cache
}

// NewMemory creates a Memory store that forgets ids after ttl.
func NewMemory(ttl time.Duration) *Memory {
	ttl = ttlOrDefault(ttl)
	return &Memory{cache: cache.New(ttl, ttl/2)}
}

func (m *Memory) Seen(_ context.Context, messageID string) (bool, error) {
	id, err := normalizeID(messageID)
	if err != nil {
		return false, err
	}
	// Add fails when the key exists and has not expired.
	if err := m.cache.Add(id, struct{}{}, cache.DefaultExpiration); err != nil {
		return true, nil
	}
	return false, nil
}
