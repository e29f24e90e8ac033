package rewards

import (
	"sort"
	"time"

	"github.com/hustlexp/backend/internal/store"
)

// categoryBase is the deterministic base XP table by task category.
// Unlisted categories fall back to the general rate.
var categoryBase = map[string]int64{
	"general":  50,
	"errand":   50,
	"delivery": 60,
	"cleaning": 60,
	"assembly": 70,
	"yardwork": 70,
	"moving":   80,
	"handyman": 80,
}

// priceTierMultiplier scales base XP by the task's price tier.
func priceTierMultiplier(priceAmount int64) float64 {
	switch {
	case priceAmount >= 15000:
		return 3.0
	case priceAmount >= 7500:
		return 2.0
	case priceAmount >= 2500:
		return 1.5
	default:
		return 1.0
	}
}

// BaseAmount derives base XP from category and price tier.
func BaseAmount(category string, priceAmount int64) int64 {
	base, ok := categoryBase[category]
	if !ok {
		base = categoryBase["general"]
	}
	return int64(float64(base) * priceTierMultiplier(priceAmount))
}

// DecayFactor is the anti-grind multiplier in [0.2, 1.0]: each award inside
// the decay window shaves 10% off the next one, floored at 0.2.
func DecayFactor(recentAwards int) float64 {
	f := 1.0 - 0.1*float64(recentAwards)
	if f < 0.2 {
		return 0.2
	}
	return f
}

// StreakMultiplier is the consecutive-active-day bonus in [1.0, 2.0].
func StreakMultiplier(streakDays int) float64 {
	if streakDays < 1 {
		return 1.0
	}
	m := 1.0 + 0.1*float64(streakDays-1)
	if m > 2.0 {
		return 2.0
	}
	return m
}

// StreakDays counts consecutive active days ending today (today counts even
// before the current award lands, since the award itself makes today active).
func StreakDays(entries []store.XPEntry, now time.Time) int {
	active := make(map[string]bool, len(entries))
	for _, e := range entries {
		active[e.AwardedAt.UTC().Format("2006-01-02")] = true
	}
	streak := 1 // the award being computed makes today active
	for d := 1; ; d++ {
		day := now.AddDate(0, 0, -d).Format("2006-01-02")
		if !active[day] {
			break
		}
		streak++
	}
	return streak
}

// levelThresholds maps total XP to level: level n requires thresholds[n-1].
var levelThresholds = []int64{0, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000}

// LevelFor maps total XP to a level. Monotone in total XP.
func LevelFor(totalXP int64) int {
	i := sort.Search(len(levelThresholds), func(i int) bool {
		return levelThresholds[i] > totalXP
	})
	if i < 1 {
		return 1
	}
	return i
}

// tierByLevel maps a level to the trust tier it unlocks. Levels between
// entries keep the previous tier.
var tierByLevel = []struct {
	level int
	tier  int
}{
	{3, 2},
	{5, 3},
	{7, 4},
	{9, 5},
}

// TierForLevel maps a level to its trust tier, starting at tier 1.
func TierForLevel(level int) int {
	tier := 1
	for _, t := range tierByLevel {
		if level >= t.level {
			tier = t.tier
		}
	}
	return tier
}
