// Package cache defines the port interface for short-lived read caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. The control plane
// uses it to answer high-frequency status polls without a DB round trip.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
