package readmodel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/store"
)

// The read model degrades to store-only answers when Supabase and Redis are
// absent; that mode is what these tests exercise.

func TestProfileStoreOnly(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	err := st.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertXP(ctx, &store.XPEntry{
			ID: "xp1", TaskID: "t1", UserID: "u1", FinalAmount: 120, AwardedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.AppendTrustChange(ctx, &store.TrustChange{UserID: "u1", OldTier: 1, NewTier: 2}); err != nil {
			return err
		}
		_, err := tx.InsertBadge(ctx, &store.BadgeAward{UserID: "u1", BadgeID: "first_completion"})
		return err
	})
	require.NoError(t, err)

	rm := New(st, nil, nil)
	p, err := rm.Profile(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(120), p.TotalXP)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 2, p.Tier)
	assert.Equal(t, 1, p.StreakDays)
	assert.Equal(t, []string{"first_completion"}, p.Badges)
}

func TestProfileEmptyUser(t *testing.T) {
	rm := New(store.NewMemory(), nil, nil)
	p, err := rm.Profile(context.Background(), "nobody")
	require.NoError(t, err)

	assert.Zero(t, p.TotalXP)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 1, p.Tier)
	assert.Empty(t, p.Badges)
}

func TestWalletSums(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx store.Tx) error {
		// Pending escrow on an open job.
		if err := tx.InsertEscrowHold(ctx, &store.EscrowHold{
			TaskID: "t1", WorkerID: "u1", GrossAmount: 10000,
			PlatformFeeAmount: 1200, NetPayoutAmount: 8800,
			Status: lifecycle.MoneyHeld,
		}); err != nil {
			return err
		}
		// A refunded escrow counts toward nothing.
		if err := tx.InsertEscrowHold(ctx, &store.EscrowHold{
			TaskID: "t2", WorkerID: "u1", GrossAmount: 5000,
			PlatformFeeAmount: 600, NetPayoutAmount: 4400,
			Status: lifecycle.MoneyRefunded,
		}); err != nil {
			return err
		}
		// One completed payout.
		return tx.InsertPayout(ctx, &store.Payout{
			ID: "po1", TaskID: "t3", WorkerID: "u1",
			NetAmount: 6600, Status: "completed",
		})
	})
	require.NoError(t, err)

	rm := New(st, nil, nil)
	w, err := rm.Wallet(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(8800), w.PendingEscrow)
	assert.Equal(t, int64(6600), w.LifetimeEarnings)
	assert.Equal(t, 1, w.CompletedPayouts)
}
