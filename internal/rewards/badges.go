package rewards

import (
	"context"
	"time"

	"github.com/hustlexp/backend/internal/store"
)

// Badge ids. Badges append with conflict-ignore on (user_id, badge_id), so
// re-evaluation is harmless.
const (
	BadgeFirstCompletion = "first_completion"
	BadgeBigJob          = "big_job"
	BadgeWeekStreak      = "week_streak"
	BadgeTrusted         = "trusted"
)

type badgeContext struct {
	userID      string
	firstAward  bool
	priceAmount int64
	streakDays  int
	tier        int
	now         time.Time
}

// evaluateBadges appends any badges the context newly qualifies for and
// returns the ids actually inserted.
func (l *Ledger) evaluateBadges(ctx context.Context, tx store.Tx, bc badgeContext) ([]string, error) {
	type rule struct {
		id        string
		tier      int
		qualifies bool
	}
	rules := []rule{
		{BadgeFirstCompletion, 1, bc.firstAward},
		{BadgeBigJob, 2, bc.priceAmount >= 15000},
		{BadgeWeekStreak, 2, bc.streakDays >= 7},
		{BadgeTrusted, 3, bc.tier >= 3},
	}

	var awarded []string
	for _, r := range rules {
		if !r.qualifies {
			continue
		}
		inserted, err := tx.InsertBadge(ctx, &store.BadgeAward{
			UserID:    bc.userID,
			BadgeID:   r.id,
			Tier:      r.tier,
			AwardedAt: bc.now,
		})
		if err != nil {
			return nil, err
		}
		if inserted {
			awarded = append(awarded, r.id)
		}
	}
	return awarded, nil
}
