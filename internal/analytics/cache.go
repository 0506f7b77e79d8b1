package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores computed reports in Redis. Each owner has a generation
// counter that every issue or redemption bumps; report keys embed the
// generation, so a write makes all older reports unreachable at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a report cache with the given entry lifetime.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func generationKey(ownerID string) string {
	return "analytics:gen:" + ownerID
}

// Key returns the cache key of q at the owner's current generation.
func (c *Cache) Key(ctx context.Context, q Query) (string, error) {
	gen, err := c.client.Get(ctx, generationKey(q.OwnerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("analytics:report:%s:%d:%s:%s:%s",
		q.OwnerID, gen, dateOrDash(q.From), dateOrDash(q.To), q.Now.UTC().Format("2006-01-02")), nil
}

// Get loads a cached report.
func (c *Cache) Get(ctx context.Context, key string) (Report, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Report{}, false, fmt.Errorf("decode cached report: %w", err)
	}
	return rep, true, nil
}

// Set stores rep under key.
func (c *Cache) Set(ctx context.Context, key string, rep Report) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate moves the owner to a new generation.
func (c *Cache) Invalidate(ctx context.Context, ownerID string) error {
	return c.client.Incr(ctx, generationKey(ownerID)).Err()
}

func dateOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}
