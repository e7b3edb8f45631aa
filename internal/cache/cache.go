package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Stats counts lookups.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate drops key and advances its generation.
	Invalidate(ctx context.Context, key string) error
	// Generation counts the invalidations of key.
	Generation(ctx context.Context, key string) (uint64, error)
	Stats() Stats
	Close() error
}

// HourKey is the key under which the corridor rows of one hour are cached.
func HourKey(hour time.Time) string {
	return fmt.Sprintf("corridor_metrics:hour:%d", hour.UTC().Unix())
}

// GetOrLoad is a read-through helper. Cache failures degrade to a load;
// only load errors are returned.
//
// Values live under the key's generation observed before loading. A load
// that races with Invalidate writes to the superseded generation, which no
// later reader consults.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	gen, err := c.Generation(ctx, key)
	if err != nil {
		return load(ctx)
	}
	versioned := versionedKey(key, gen)

	if raw, ok, err := c.Get(ctx, versioned); err == nil && ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if raw, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, versioned, raw, ttl)
	}
	return value, nil
}

func versionedKey(key string, gen uint64) string {
	return fmt.Sprintf("%s@%d", key, gen)
}
