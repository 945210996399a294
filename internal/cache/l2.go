package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// l2Tier wraps a Redis client for the cache's second tier (spec 4.3).
// Key layout and the connect-once-then-reuse pattern follow
// evalgo-org-eve's queue/redis/queue.go; values are JSON-encoded
// Entry structs rather than the queue package's Job structs.
type l2Tier struct {
	client *redis.Client
	prefix string

	stats Stats
}

func newL2Tier(redisURL, keyPrefix string) (*l2Tier, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "cache:"
	}
	return &l2Tier{client: redis.NewClient(opts), prefix: keyPrefix}, nil
}

func (t *l2Tier) key(k string) string {
	return t.prefix + k
}

func (t *l2Tier) get(ctx context.Context, key string) (Entry, bool, error) {
	if t == nil {
		return Entry{}, false, nil
	}
	raw, err := t.client.Get(ctx, t.key(key)).Bytes()
	if err == redis.Nil {
		t.stats.Misses++
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	t.stats.Hits++
	return e, true, nil
}

func (t *l2Tier) set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if t == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.key(key), raw, ttl).Err()
}

func (t *l2Tier) delete(ctx context.Context, key string) (bool, error) {
	if t == nil {
		return false, nil
	}
	n, err := t.client.Del(ctx, t.key(key)).Result()
	return n > 0, err
}

func (t *l2Tier) exists(ctx context.Context, key string) (bool, error) {
	if t == nil {
		return false, nil
	}
	n, err := t.client.Exists(ctx, t.key(key)).Result()
	return n > 0, err
}

// clear removes every key under this tier's prefix, using SCAN rather
// than KEYS so a large cache does not block the Redis event loop.
func (t *l2Tier) clear(ctx context.Context) (int, error) {
	if t == nil {
		return 0, nil
	}
	var cursor uint64
	count := 0
	for {
		keys, next, err := t.client.Scan(ctx, cursor, t.prefix+"*", 500).Result()
		if err != nil {
			return count, err
		}
		if len(keys) > 0 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return count, err
			}
			count += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

func (t *l2Tier) ping(ctx context.Context) error {
	if t == nil {
		return fmt.Errorf("redis not configured")
	}
	return t.client.Ping(ctx).Err()
}

func (t *l2Tier) close() error {
	if t == nil {
		return nil
	}
	return t.client.Close()
}

func (t *l2Tier) statsSnapshot() Stats {
	if t == nil {
		return Stats{}
	}
	return t.stats
}
