package application

import (
	"context"
	"time"
)

// Cache adalah store key-value dengan TTL. Implementasinya di infra/cache
// (memory atau redis).
type Cache interface {
	// Get returns ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
