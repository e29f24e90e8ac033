// Package readmodel serves the denormalized profile and wallet views the
// mobile clients poll. Nothing here is authoritative: the durable store owns
// the ledgers, Supabase owns the user-facing profile rows, and Redis is a
// short-TTL cache in front of both.
package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	supabase "github.com/supabase-community/supabase-go"

	"github.com/hustlexp/backend/internal/events"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/rewards"
	"github.com/hustlexp/backend/internal/store"
)

const cacheTTL = 60 * time.Second

// ProfileRow is the Supabase-side user profile.
type ProfileRow struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	City        string `json:"city,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ProfileSummary is what the client renders on the profile screen.
type ProfileSummary struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	TotalXP     int64    `json:"total_xp"`
	Level       int      `json:"level"`
	Tier        int      `json:"tier"`
	StreakDays  int      `json:"streak_days"`
	Badges      []string `json:"badges"`
}

// WalletSummary is the money view for one user.
type WalletSummary struct {
	UserID           string `json:"user_id"`
	PendingEscrow    int64  `json:"pending_escrow"`
	LifetimeEarnings int64  `json:"lifetime_earnings"`
	CompletedPayouts int    `json:"completed_payouts"`
}

// ReadModel composes the three backends. rdb and db may each be nil; the
// read model degrades to store-only answers.
type ReadModel struct {
	store  store.Store
	db     *supabase.Client
	rdb    *redis.Client
	logger *log.Logger
}

// New builds a read model.
func New(st store.Store, db *supabase.Client, rdb *redis.Client) *ReadModel {
	return &ReadModel{
		store:  st,
		db:     db,
		rdb:    rdb,
		logger: log.New(log.Writer(), "[READMODEL] ", log.LstdFlags),
	}
}

// NewSupabaseClient connects using the standard env-style credentials.
func NewSupabaseClient(url, serviceKey string) (*supabase.Client, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return client, nil
}

// Profile answers the profile view, cache first.
func (rm *ReadModel) Profile(ctx context.Context, userID string) (*ProfileSummary, error) {
	key := "profile:" + userID
	var cached ProfileSummary
	if rm.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	summary := &ProfileSummary{UserID: userID, Badges: []string{}}

	if rm.db != nil {
		var rows []ProfileRow
		_, err := rm.db.From("profiles").
			Select("*", "", false).
			Eq("user_id", userID).
			ExecuteTo(&rows)
		if err != nil {
			rm.logger.Printf("⚠️ supabase profile lookup failed for %s: %v", userID, err)
		} else if len(rows) > 0 {
			summary.DisplayName = rows[0].DisplayName
			summary.AvatarURL = rows[0].AvatarURL
		}
	}

	total, err := rm.store.TotalXP(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary.TotalXP = total
	summary.Level = rewards.LevelFor(total)

	tier, err := rm.store.CurrentTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary.Tier = tier

	now := time.Now().UTC()
	recent, err := rm.store.RecentXP(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	summary.StreakDays = rewards.StreakDays(recent, now)

	badges, err := rm.store.ListBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, b := range badges {
		summary.Badges = append(summary.Badges, b.BadgeID)
	}

	rm.cacheSet(ctx, key, summary)
	return summary, nil
}

// Wallet answers the wallet view, cache first.
func (rm *ReadModel) Wallet(ctx context.Context, userID string) (*WalletSummary, error) {
	key := "wallet:" + userID
	var cached WalletSummary
	if rm.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	summary := &WalletSummary{UserID: userID}

	holds, err := rm.store.EscrowsForWorker(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, h := range holds {
		if h.Status == lifecycle.MoneyHeld || h.Status == lifecycle.MoneyLockedDispute {
			summary.PendingEscrow += h.NetPayoutAmount
		}
	}

	payouts, err := rm.store.PayoutsForWorker(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range payouts {
		if p.Status == "completed" {
			summary.LifetimeEarnings += p.NetAmount
			summary.CompletedPayouts++
		}
	}

	rm.cacheSet(ctx, key, summary)
	return summary, nil
}

// Invalidate drops the cached views for a user.
func (rm *ReadModel) Invalidate(ctx context.Context, userID string) {
	if rm.rdb == nil {
		return
	}
	if err := rm.rdb.Del(ctx, "profile:"+userID, "wallet:"+userID).Err(); err != nil {
		rm.logger.Printf("⚠️ cache invalidation failed for %s: %v", userID, err)
	}
}

// WatchBus invalidates caches as domain events arrive. Blocks until the
// channel closes; run it in a goroutine.
func (rm *ReadModel) WatchBus(ctx context.Context, ch chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			for _, k := range []string{"worker_id", "poster_id", "user_id"} {
				if id := e.Payload[k]; id != "" {
					rm.Invalidate(ctx, id)
				}
			}
		}
	}
}

func (rm *ReadModel) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if rm.rdb == nil {
		return false
	}
	raw, err := rm.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		rm.logger.Printf("⚠️ cache read failed for %s: %v", key, err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		rm.logger.Printf("⚠️ cache decode failed for %s: %v", key, err)
		return false
	}
	return true
}

func (rm *ReadModel) cacheSet(ctx context.Context, key string, v interface{}) {
	if rm.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := rm.rdb.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		rm.logger.Printf("⚠️ cache write failed for %s: %v", key, err)
	}
}
