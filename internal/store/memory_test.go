package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/lifecycle"
)

func heldLock(taskID string) *MoneyLock {
	return &MoneyLock{
		TaskID:            taskID,
		CurrentState:      lifecycle.MoneyHeld,
		NextAllowedEvents: []string{"RELEASE_PAYOUT", "REFUND_ESCROW", "FORCE_REFUND"},
		PaymentIntentID:   "pi_1",
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertMoneyLock(ctx, heldLock("t1")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The staged insert never reached the committed data.
	lock, err := m.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestMoneyLockVersionDrift(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.InsertMoneyLock(ctx, heldLock("t1"))
	}))

	// A writer holding a stale version loses to the committed row.
	err := m.WithTx(ctx, func(tx Tx) error {
		stale := heldLock("t1")
		stale.Version = 7
		stale.CurrentState = lifecycle.MoneyReleased
		return tx.UpdateMoneyLock(ctx, stale)
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.ConcurrencyConflict))
}

func TestMoneyLockUpdateBumpsVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.InsertMoneyLock(ctx, heldLock("t1"))
	}))

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock, err := tx.LockTaskMoney(ctx, "t1")
		require.NoError(t, err)
		lock.CurrentState = lifecycle.MoneyReleased
		lock.NextAllowedEvents = nil
		lock.TransferID = "tr_1"
		return tx.UpdateMoneyLock(ctx, lock)
	}))

	lock, _ := m.GetMoneyLock(ctx, "t1")
	assert.Equal(t, lifecycle.MoneyReleased, lock.CurrentState)
	assert.Equal(t, "tr_1", lock.TransferID)
	assert.Equal(t, int64(1), lock.Version)
}

func TestTerminalMoneyStatesRejectMutation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock := heldLock("t1")
		lock.CurrentState = lifecycle.MoneyRefunded
		return tx.InsertMoneyLock(ctx, lock)
	}))

	err := m.WithTx(ctx, func(tx Tx) error {
		lock, _ := tx.LockTaskMoney(ctx, "t1")
		lock.CurrentState = lifecycle.MoneyHeld
		return tx.UpdateMoneyLock(ctx, lock)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal mutation blocked")
}

func TestForceUpdateCrossesReleasedButNotRefunded(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock := heldLock("t1")
		lock.CurrentState = lifecycle.MoneyReleased
		return tx.InsertMoneyLock(ctx, lock)
	}))

	// Admin clawback may mutate a released lock.
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock, _ := tx.LockTaskMoney(ctx, "t1")
		lock.CurrentState = lifecycle.MoneyRefunded
		return tx.ForceUpdateMoneyLock(ctx, lock)
	}))

	// But refunded is terminal even for force updates.
	err := m.WithTx(ctx, func(tx Tx) error {
		lock, _ := tx.LockTaskMoney(ctx, "t1")
		lock.CurrentState = lifecycle.MoneyHeld
		return tx.ForceUpdateMoneyLock(ctx, lock)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal mutation blocked")
}

func TestInsertMoneyLockConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.InsertMoneyLock(ctx, heldLock("t1"))
	}))

	err := m.WithTx(ctx, func(tx Tx) error {
		return tx.InsertMoneyLock(ctx, heldLock("t1"))
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.ConcurrencyConflict))
}

func TestClaimRefund(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.InsertMoneyLock(ctx, heldLock("t1"))
	}))

	// First claimer wins and flips the status to pending.
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock, claimed, err := tx.ClaimRefund(ctx, "t1")
		require.NoError(t, err)
		require.True(t, claimed)
		assert.Equal(t, RefundPending, lock.RefundStatus)
		return nil
	}))

	// Second claimer sees the pending claim and loses.
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		_, claimed, err := tx.ClaimRefund(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, claimed)
		return nil
	}))

	// A failed prior attempt is reclaimable.
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock, _ := tx.LockTaskMoney(ctx, "t1")
		lock.RefundStatus = RefundFailed
		return tx.UpdateMoneyLock(ctx, lock)
	}))
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		_, claimed, err := tx.ClaimRefund(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, claimed)
		return nil
	}))

	// Missing lock: no claim, no error.
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		lock, claimed, err := tx.ClaimRefund(ctx, "t-missing")
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Nil(t, lock)
		return nil
	}))
}

func TestUpdateTaskStatusCompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SeedTask(&Task{ID: "t1", Status: lifecycle.TaskOpen, PosterID: "p1", Category: "general", PriceAmount: 1000})

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateTaskStatus(ctx, "t1", string(lifecycle.TaskOpen), string(lifecycle.TaskAccepted))
	}))

	// Stale precondition loses.
	err := m.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateTaskStatus(ctx, "t1", string(lifecycle.TaskOpen), string(lifecycle.TaskAccepted))
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.ConcurrencyConflict))
}

func TestXPLedgerAppendOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		inserted, err := tx.InsertXP(ctx, &XPEntry{ID: "xp1", TaskID: "t1", UserID: "u1", FinalAmount: 50})
		require.NoError(t, err)
		assert.True(t, inserted)

		// Same task again: conflict-ignore, not an error.
		inserted, err = tx.InsertXP(ctx, &XPEntry{ID: "xp2", TaskID: "t1", UserID: "u1", FinalAmount: 999})
		require.NoError(t, err)
		assert.False(t, inserted)
		return nil
	}))

	total, err := m.TotalXP(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

func TestBadgeLedgerAppendOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		inserted, err := tx.InsertBadge(ctx, &BadgeAward{UserID: "u1", BadgeID: "first_completion"})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = tx.InsertBadge(ctx, &BadgeAward{UserID: "u1", BadgeID: "first_completion"})
		require.NoError(t, err)
		assert.False(t, inserted)
		return nil
	}))

	badges, err := m.ListBadges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, badges, 1)

	err = m.DeleteBadge("u1", "first_completion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestTrustChangesOnlyIncrease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.AppendTrustChange(ctx, &TrustChange{UserID: "u1", OldTier: 1, NewTier: 2})
	}))

	err := m.WithTx(ctx, func(tx Tx) error {
		return tx.AppendTrustChange(ctx, &TrustChange{UserID: "u1", OldTier: 2, NewTier: 1})
	})
	require.Error(t, err)

	tier, err := m.CurrentTier(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, tier)
}

func TestAppendEventBarrier(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		owned, err := tx.AppendEvent(ctx, "evt_1", "payment_intent.succeeded")
		require.NoError(t, err)
		assert.True(t, owned)
		return nil
	}))

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		owned, err := tx.AppendEvent(ctx, "evt_1", "payment_intent.succeeded")
		require.NoError(t, err)
		assert.False(t, owned)
		return nil
	}))

	seen, err := m.HasProcessedEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestAdminLockVisibility(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	active, err := m.HasActiveAdminLock(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		return tx.InsertAdminLock(ctx, &AdminLock{ID: "al1", UserID: "u1", Reason: "force refund"})
	}))

	active, err = m.HasActiveAdminLock(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, active)
}
