// Package lifecycle holds the three state machines of the core: the task
// business lifecycle, the per-task money lock, and the proof artifact. All
// transition checks are pure; callers must AssertTransition before any write.
package lifecycle

import (
	"github.com/hustlexp/backend/internal/fault"
)

// TaskStatus is the business lifecycle status of a task.
type TaskStatus string

const (
	TaskOpen           TaskStatus = "OPEN"
	TaskAccepted       TaskStatus = "ACCEPTED"
	TaskProofSubmitted TaskStatus = "PROOF_SUBMITTED"
	TaskDisputed       TaskStatus = "DISPUTED"
	TaskCompleted      TaskStatus = "COMPLETED"
	TaskCancelled      TaskStatus = "CANCELLED"
	TaskExpired        TaskStatus = "EXPIRED"
)

// MoneyState is the state of the per-task money lock.
type MoneyState string

const (
	MoneyInitial       MoneyState = "initial"
	MoneyHeld          MoneyState = "held"
	MoneyLockedDispute MoneyState = "locked_dispute"
	MoneyReleased      MoneyState = "released"
	MoneyRefunded      MoneyState = "refunded"
	MoneyPartialRefund MoneyState = "partial_refund"
)

// ProofState is the state of a proof artifact.
type ProofState string

const (
	ProofSubmitted ProofState = "submitted"
	ProofAccepted  ProofState = "accepted"
	ProofRejected  ProofState = "rejected"
	ProofExpired   ProofState = "expired"
)

var taskEdges = map[TaskStatus][]TaskStatus{
	TaskOpen:           {TaskAccepted, TaskCancelled, TaskExpired},
	TaskAccepted:       {TaskProofSubmitted, TaskDisputed, TaskCancelled},
	TaskProofSubmitted: {TaskCompleted, TaskDisputed},
	TaskDisputed:       {TaskCompleted},
}

var moneyEdges = map[MoneyState][]MoneyState{
	MoneyInitial:       {MoneyHeld},
	MoneyHeld:          {MoneyReleased, MoneyRefunded, MoneyLockedDispute},
	MoneyLockedDispute: {MoneyReleased, MoneyRefunded, MoneyPartialRefund},
}

var proofEdges = map[ProofState][]ProofState{
	ProofSubmitted: {ProofAccepted, ProofRejected, ProofExpired},
}

// TaskTerminal reports whether a task status is terminal.
func TaskTerminal(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskExpired
}

// MoneyTerminal reports whether a money state is terminal. Terminal rows are
// immutable; the store enforces this with a conditional UPDATE.
func MoneyTerminal(s MoneyState) bool {
	return s == MoneyReleased || s == MoneyRefunded || s == MoneyPartialRefund
}

// ProofTerminal reports whether a proof state is terminal.
func ProofTerminal(s ProofState) bool {
	return s == ProofAccepted || s == ProofRejected || s == ProofExpired
}

// MoneyTerminalStates lists the terminal money states, for SQL guards.
func MoneyTerminalStates() []MoneyState {
	return []MoneyState{MoneyReleased, MoneyRefunded, MoneyPartialRefund}
}

// AssertTaskTransition fails with ILLEGAL_TRANSITION unless from→to is a
// defined edge of the task machine.
func AssertTaskTransition(from, to TaskStatus) error {
	for _, next := range taskEdges[from] {
		if next == to {
			return nil
		}
	}
	return fault.New(fault.IllegalTransition, "task %s → %s is not a legal transition", from, to)
}

// AssertMoneyTransition fails with ILLEGAL_TRANSITION unless from→to is a
// defined edge of the money lock machine.
func AssertMoneyTransition(from, to MoneyState) error {
	for _, next := range moneyEdges[from] {
		if next == to {
			return nil
		}
	}
	return fault.New(fault.IllegalTransition, "money lock %s → %s is not a legal transition", from, to)
}

// AssertProofTransition fails with ILLEGAL_TRANSITION unless from→to is a
// defined edge of the proof machine. There is no path back to submitted.
func AssertProofTransition(from, to ProofState) error {
	for _, next := range proofEdges[from] {
		if next == to {
			return nil
		}
	}
	return fault.New(fault.IllegalTransition, "proof %s → %s is not a legal transition", from, to)
}

// adminMoneyEdges are transitions reachable only through an admin override.
// FORCE_REFUND claws money back out of released, which is otherwise terminal;
// refunded and partial_refund stay absolutely immutable.
var adminMoneyEdges = map[MoneyState][]MoneyState{
	MoneyReleased: {MoneyRefunded, MoneyPartialRefund},
}

// AssertAdminMoneyTransition is like AssertMoneyTransition but additionally
// admits the admin-only edges out of released.
func AssertAdminMoneyTransition(from, to MoneyState) error {
	if AssertMoneyTransition(from, to) == nil {
		return nil
	}
	for _, next := range adminMoneyEdges[from] {
		if next == to {
			return nil
		}
	}
	return fault.New(fault.IllegalTransition, "money lock %s → %s is not a legal transition (admin)", from, to)
}

// NextMoneyEvents returns the money events admissible from a state. This is
// the value persisted in money_state_lock.next_allowed_events.
func NextMoneyEvents(s MoneyState) []string {
	switch s {
	case MoneyInitial:
		return []string{"HOLD_ESCROW"}
	case MoneyHeld:
		return []string{"RELEASE_PAYOUT", "REFUND_ESCROW"}
	case MoneyLockedDispute:
		return []string{"RELEASE_PAYOUT", "REFUND_ESCROW", "FORCE_REFUND"}
	case MoneyReleased:
		return []string{"FORCE_REFUND"}
	default:
		return nil
	}
}
