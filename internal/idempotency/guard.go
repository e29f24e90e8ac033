// Package idempotency is the replay pre-filter for webhook events. The
// authoritative barrier is the conflict-ignore insert into
// processed_stripe_events inside the handling transaction; the guard in front
// of it only exists to answer "seen before?" cheaply. Both fast tiers fail
// open: a cache miss or a Redis outage degrades to the durable check, never
// to a duplicate side effect.
package idempotency

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hustlexp/backend/internal/store"
)

// DefaultCapacity bounds the in-process tier.
const DefaultCapacity = 4096

// DefaultTTL bounds the Redis tier. Events older than this fall through to
// the durable table, which keeps them forever.
const DefaultTTL = 48 * time.Hour

// Guard is the two-tier replay filter. Safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string // FIFO eviction
	capacity int

	rdb *redis.Client // optional fast tier, nil disables it
	ttl time.Duration

	store  store.Store
	logger *log.Logger
}

// NewGuard builds a guard over the durable store. rdb may be nil.
func NewGuard(st store.Store, rdb *redis.Client) *Guard {
	return &Guard{
		seen:     make(map[string]struct{}, DefaultCapacity),
		capacity: DefaultCapacity,
		rdb:      rdb,
		ttl:      DefaultTTL,
		store:    st,
		logger:   log.New(log.Writer(), "[IDEMPOTENCY] ", log.LstdFlags),
	}
}

func redisKey(eventID string) string { return "evt:seen:" + eventID }

// Seen reports whether eventID was already processed. Checks the in-process
// set, then Redis, then the durable table.
func (g *Guard) Seen(ctx context.Context, eventID string) (bool, error) {
	g.mu.Lock()
	_, hit := g.seen[eventID]
	g.mu.Unlock()
	if hit {
		return true, nil
	}

	if g.rdb != nil {
		n, err := g.rdb.Exists(ctx, redisKey(eventID)).Result()
		if err != nil && err != redis.Nil {
			g.logger.Printf("⚠️ redis check failed for %s, falling through: %v", eventID, err)
		} else if n > 0 {
			g.rememberLocal(eventID)
			return true, nil
		}
	}

	processed, err := g.store.HasProcessedEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	if processed {
		g.rememberLocal(eventID)
	}
	return processed, nil
}

// Remember records eventID in the fast tiers after the handling transaction
// committed. The durable row already exists at this point.
func (g *Guard) Remember(ctx context.Context, eventID string) {
	g.rememberLocal(eventID)
	if g.rdb != nil {
		if err := g.rdb.Set(ctx, redisKey(eventID), 1, g.ttl).Err(); err != nil {
			g.logger.Printf("⚠️ redis remember failed for %s: %v", eventID, err)
		}
	}
}

func (g *Guard) rememberLocal(eventID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[eventID]; ok {
		return
	}
	g.seen[eventID] = struct{}{}
	g.order = append(g.order, eventID)
	for len(g.order) > g.capacity {
		delete(g.seen, g.order[0])
		g.order = g.order[1:]
	}
}

// Size returns the in-process tier population, for tests and metrics.
func (g *Guard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
