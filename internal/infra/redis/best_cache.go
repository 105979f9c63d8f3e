package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"bird-quiz-kiosk/internal/app"
	"bird-quiz-kiosk/internal/domain"
)

// BestCache caches the per-category best entry in Redis in front of a
// slower recorder. A recorded attempt invalidates the category's key, so the
// next "to beat" fetch sees it.
type BestCache struct {
	client *redis.Client
	next   app.ResultRecorder
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewBestCache(client *redis.Client, next app.ResultRecorder, ttl time.Duration) *BestCache {
	return &BestCache{
		client: client,
		next:   next,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordAttempt writes through to the backing recorder and drops the cached
// best for the category. Cache invalidation is best-effort.
func (c *BestCache) RecordAttempt(ctx context.Context, player domain.Player, snapshot domain.FinalSnapshot) error {
	if err := c.next.RecordAttempt(ctx, player, snapshot); err != nil {
		return err
	}
	_ = c.client.Del(ctx, c.key(snapshot.Category)).Err()
	return nil
}

// FetchBest serves from cache, falling back to the recorder on a miss.
// Concurrent misses for one category are collapsed to a single lookup.
func (c *BestCache) FetchBest(ctx context.Context, category string) (*domain.BestEntry, error) {
	if entry, ok := c.cached(ctx, category); ok {
		return entry, nil
	}

	result, err, _ := c.sf.Do(category, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if entry, ok := c.cached(ctx, category); ok {
			return entry, nil
		}

		entry, err := c.next.FetchBest(ctx, category)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			if data, err := json.Marshal(entry); err == nil {
				_ = c.client.Set(ctx, c.key(category), data, c.ttlWithJitter()).Err()
			}
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*domain.BestEntry), nil
}

func (c *BestCache) cached(ctx context.Context, category string) (*domain.BestEntry, bool) {
	raw, err := c.client.Get(ctx, c.key(category)).Bytes()
	if err != nil {
		return nil, false
	}
	var entry domain.BestEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (c *BestCache) key(category string) string {
	return "quiz:best:" + category
}

func (c *BestCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
