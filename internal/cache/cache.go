package cache

import (
	"context"
	"time"
)

// BytesCache is the minimal cache surface the services need. Implemented by
// rediscache; nil-able, a missing cache only costs reads.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// TrackingSnapshotKey is shared by the read path (fills it) and every
// mutation path (invalidates it).
func TrackingSnapshotKey(code string) string {
	return "tracking:" + code + ":current"
}
