// Package rewards is the append-only experience, trust-tier, and badge
// ledger. Awards are keyed uniquely by task: the unique constraint on the
// xp ledger is the idempotency guarantee, and nothing here is ever
// decremented or revoked.
package rewards

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hustlexp/backend/internal/store"
)

// DecayWindow bounds the velocity lookback for the anti-grind decay factor.
const DecayWindow = 24 * time.Hour

// StreakLookback bounds how far back consecutive-active-day streaks count.
const StreakLookback = 30 * 24 * time.Hour

// AwardResult reports what one award attempt did.
type AwardResult struct {
	AlreadyAwarded   bool
	Applied          int64 // final XP written, 0 on replay
	BaseAmount       int64
	DecayFactor      float64
	StreakMultiplier float64
	TotalXP          int64
	Level            int
	Tier             int
	TierChanged      bool
	Badges           []string // badge ids newly awarded
}

// Ledger computes and appends reward entries. It always runs inside the
// caller's transaction: the award commits or rolls back with the money
// state transition it is coupled to.
type Ledger struct {
	logger *log.Logger
	now    func() time.Time
}

// NewLedger creates the reward ledger.
func NewLedger() *Ledger {
	return &Ledger{
		logger: log.New(log.Writer(), "[REWARDS] ", log.LstdFlags),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AwardForTask awards XP for a released task. Idempotent: a second call for
// the same task returns AlreadyAwarded with zero applied and writes nothing.
func (l *Ledger) AwardForTask(ctx context.Context, tx store.Tx, task *store.Task, userID string) (*AwardResult, error) {
	now := l.now()

	priorTotal, err := tx.TotalXP(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := tx.RecentXP(ctx, userID, now.Add(-StreakLookback))
	if err != nil {
		return nil, err
	}

	base := BaseAmount(task.Category, task.PriceAmount)
	decay := DecayFactor(countWithin(recent, now.Add(-DecayWindow)))
	streakDays := StreakDays(recent, now)
	streak := StreakMultiplier(streakDays)
	final := int64(math.Round(float64(base) * decay * streak))

	res := &AwardResult{
		BaseAmount:       base,
		DecayFactor:      decay,
		StreakMultiplier: streak,
	}

	inserted, err := tx.InsertXP(ctx, &store.XPEntry{
		ID:               uuid.NewString(),
		UserID:           userID,
		TaskID:           task.ID,
		BaseAmount:       base,
		DecayFactor:      decay,
		StreakMultiplier: streak,
		FinalAmount:      final,
		AwardedAt:        now,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		res.AlreadyAwarded = true
		res.TotalXP = priorTotal
		res.Level = LevelFor(priorTotal)
		res.Tier, err = tx.CurrentTier(ctx, userID)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	res.Applied = final
	res.TotalXP = priorTotal + final
	res.Level = LevelFor(res.TotalXP)

	// Trust tier only ever moves up. Crossing a level threshold appends a
	// trust ledger row; a level that maps to the same or a lower tier
	// appends nothing.
	currentTier, err := tx.CurrentTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	res.Tier = currentTier
	if target := TierForLevel(res.Level); target > currentTier {
		if err := tx.AppendTrustChange(ctx, &store.TrustChange{
			ID:        uuid.NewString(),
			UserID:    userID,
			OldTier:   currentTier,
			NewTier:   target,
			Reason:    "level threshold crossed",
			AwardedAt: now,
		}); err != nil {
			return nil, err
		}
		res.Tier = target
		res.TierChanged = true
	}

	// Badge evaluation runs last and may append zero or more rows.
	badges, err := l.evaluateBadges(ctx, tx, badgeContext{
		userID:      userID,
		firstAward:  priorTotal == 0,
		priceAmount: task.PriceAmount,
		streakDays:  streakDays,
		tier:        res.Tier,
		now:         now,
	})
	if err != nil {
		return nil, err
	}
	res.Badges = badges

	l.logger.Printf("🏅 awarded %d XP to %s for task %s (base=%d decay=%.2f streak=%.2f level=%d tier=%d)",
		final, userID, task.ID, base, decay, streak, res.Level, res.Tier)
	return res, nil
}

func countWithin(entries []store.XPEntry, since time.Time) int {
	n := 0
	for _, e := range entries {
		if !e.AwardedAt.Before(since) {
			n++
		}
	}
	return n
}
