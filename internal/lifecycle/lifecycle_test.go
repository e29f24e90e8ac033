package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hustlexp/backend/internal/fault"
)

func TestTaskTransitions(t *testing.T) {
	require.NoError(t, AssertTaskTransition(TaskOpen, TaskAccepted))
	require.NoError(t, AssertTaskTransition(TaskAccepted, TaskProofSubmitted))
	require.NoError(t, AssertTaskTransition(TaskProofSubmitted, TaskCompleted))
	require.NoError(t, AssertTaskTransition(TaskProofSubmitted, TaskDisputed))
	require.NoError(t, AssertTaskTransition(TaskDisputed, TaskCompleted))

	// No skipping straight to completion.
	err := AssertTaskTransition(TaskOpen, TaskCompleted)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.IllegalTransition))

	// Terminal states have no exits.
	for _, from := range []TaskStatus{TaskCompleted, TaskCancelled, TaskExpired} {
		assert.True(t, TaskTerminal(from))
		assert.Error(t, AssertTaskTransition(from, TaskOpen))
	}
}

func TestMoneyTransitions(t *testing.T) {
	require.NoError(t, AssertMoneyTransition(MoneyInitial, MoneyHeld))
	require.NoError(t, AssertMoneyTransition(MoneyHeld, MoneyReleased))
	require.NoError(t, AssertMoneyTransition(MoneyHeld, MoneyRefunded))
	require.NoError(t, AssertMoneyTransition(MoneyHeld, MoneyLockedDispute))
	require.NoError(t, AssertMoneyTransition(MoneyLockedDispute, MoneyPartialRefund))

	// Held cannot go backwards, released is terminal to normal callers.
	assert.Error(t, AssertMoneyTransition(MoneyHeld, MoneyInitial))
	assert.Error(t, AssertMoneyTransition(MoneyReleased, MoneyRefunded))
	assert.Error(t, AssertMoneyTransition(MoneyInitial, MoneyReleased))
}

func TestAdminMoneyTransitions(t *testing.T) {
	// The admin variant admits the clawback edges out of released...
	require.NoError(t, AssertAdminMoneyTransition(MoneyReleased, MoneyRefunded))
	require.NoError(t, AssertAdminMoneyTransition(MoneyReleased, MoneyPartialRefund))

	// ...and everything the normal machine admits.
	require.NoError(t, AssertAdminMoneyTransition(MoneyHeld, MoneyReleased))

	// But refunded and partial_refund stay immutable even for admins.
	assert.Error(t, AssertAdminMoneyTransition(MoneyRefunded, MoneyReleased))
	assert.Error(t, AssertAdminMoneyTransition(MoneyPartialRefund, MoneyRefunded))
}

func TestProofTransitions(t *testing.T) {
	require.NoError(t, AssertProofTransition(ProofSubmitted, ProofAccepted))
	require.NoError(t, AssertProofTransition(ProofSubmitted, ProofRejected))
	require.NoError(t, AssertProofTransition(ProofSubmitted, ProofExpired))

	// No resurrection: accepted/rejected/expired are terminal.
	for _, from := range []ProofState{ProofAccepted, ProofRejected, ProofExpired} {
		assert.True(t, ProofTerminal(from))
		assert.Error(t, AssertProofTransition(from, ProofSubmitted))
	}
}

func TestNextMoneyEvents(t *testing.T) {
	assert.Equal(t, []string{"HOLD_ESCROW"}, NextMoneyEvents(MoneyInitial))
	assert.Equal(t, []string{"RELEASE_PAYOUT", "REFUND_ESCROW"}, NextMoneyEvents(MoneyHeld))
	assert.Contains(t, NextMoneyEvents(MoneyLockedDispute), "FORCE_REFUND")
	assert.Equal(t, []string{"FORCE_REFUND"}, NextMoneyEvents(MoneyReleased))
	assert.Empty(t, NextMoneyEvents(MoneyRefunded))
}
