// Package store is the durable, transactional persistence layer of the core.
// It is the only authority for the sequencing of internal state transitions:
// per-task money events serialize on a SELECT ... FOR UPDATE of the money
// lock row, ledger tables are append-only (enforced by triggers), and
// terminal states are immutable (enforced by conditional updates).
package store

import (
	"context"
	"time"
)

// Tx exposes the repositories available inside one transaction. All writes
// the Money State Engine performs for a single event go through one Tx.
type Tx interface {
	// ------------------------------------------------------------------
	// Money state lock
	// ------------------------------------------------------------------

	// LockTaskMoney runs SELECT ... FOR UPDATE on the lock row. Returns
	// (nil, nil) when no row exists. A concurrent caller blocks here until
	// the owning transaction commits.
	LockTaskMoney(ctx context.Context, taskID string) (*MoneyLock, error)

	// InsertMoneyLock creates the lock row. Fails with CONCURRENCY_CONFLICT
	// on a duplicate task_id.
	InsertMoneyLock(ctx context.Context, lock *MoneyLock) error

	// UpdateMoneyLock applies a guarded update: the row must not be in a
	// terminal state and must match lock.Version. Zero affected rows maps
	// to INTERNAL (terminal mutation blocked) or CONCURRENCY_CONFLICT
	// (version drift). On success the stored version is lock.Version+1.
	UpdateMoneyLock(ctx context.Context, lock *MoneyLock) error

	// ForceUpdateMoneyLock is the admin-only variant used by FORCE_REFUND:
	// it may move a row out of released but never out of refunded or
	// partial_refund.
	ForceUpdateMoneyLock(ctx context.Context, lock *MoneyLock) error

	// ClaimRefund atomically sets refund_status=pending where it is NULL or
	// failed. Returns (lock, false, nil) without mutating when the claim is
	// lost: the refund is already pending or complete.
	ClaimRefund(ctx context.Context, taskID string) (*MoneyLock, bool, error)

	// ------------------------------------------------------------------
	// Tasks
	// ------------------------------------------------------------------

	GetTask(ctx context.Context, taskID string) (*Task, error)

	// UpdateTaskStatus moves a task from→to. The caller must have already
	// passed lifecycle.AssertTaskTransition; the store re-checks `from` in
	// the WHERE clause and returns CONCURRENCY_CONFLICT on drift.
	UpdateTaskStatus(ctx context.Context, taskID string, from, to string) error

	// ------------------------------------------------------------------
	// Escrow holds and payouts
	// ------------------------------------------------------------------

	InsertEscrowHold(ctx context.Context, hold *EscrowHold) error
	GetEscrowByTask(ctx context.Context, taskID string) (*EscrowHold, error)

	// UpdateEscrowStatus updates the status mirror and refund status. The
	// monetary amounts are never updatable.
	UpdateEscrowStatus(ctx context.Context, taskID string, status string, refund RefundStatus) error

	InsertPayout(ctx context.Context, p *Payout) error
	GetPayoutByTask(ctx context.Context, taskID string) (*Payout, error)

	// ------------------------------------------------------------------
	// Reward ledgers (append-only)
	// ------------------------------------------------------------------

	// InsertXP appends an xp_ledger row with conflict-ignore on task_id.
	// Returns false when the task was already awarded.
	InsertXP(ctx context.Context, e *XPEntry) (bool, error)
	TotalXP(ctx context.Context, userID string) (int64, error)
	RecentXP(ctx context.Context, userID string, since time.Time) ([]XPEntry, error)

	// CurrentTier reads the user's trust tier: the new_tier of the latest
	// trust_ledger row, or 1 when the user has no history.
	CurrentTier(ctx context.Context, userID string) (int, error)
	AppendTrustChange(ctx context.Context, c *TrustChange) error

	// InsertBadge appends with conflict-ignore on (user_id, badge_id).
	InsertBadge(ctx context.Context, b *BadgeAward) (bool, error)
	ListBadges(ctx context.Context, userID string) ([]BadgeAward, error)

	// ------------------------------------------------------------------
	// Proof artifacts
	// ------------------------------------------------------------------

	InsertProof(ctx context.Context, p *Proof) error
	GetProofByTask(ctx context.Context, taskID string) (*Proof, error)

	// UpdateProofState moves the artifact from→to with the same guarded
	// semantics as UpdateTaskStatus.
	UpdateProofState(ctx context.Context, proofID string, from, to string, reason string) error

	// ------------------------------------------------------------------
	// Idempotency, admin locks, snapshots, jobs
	// ------------------------------------------------------------------

	// AppendEvent inserts into processed_stripe_events with ON CONFLICT DO
	// NOTHING. Returns true iff this caller owns the event.
	AppendEvent(ctx context.Context, eventID, eventType string) (bool, error)

	InsertAdminLock(ctx context.Context, l *AdminLock) error
	InsertBalanceSnapshot(ctx context.Context, s *BalanceSnapshot) error
	EnqueueJob(ctx context.Context, j *Job) error
}

// Store is the durable store handle the Core owns.
type Store interface {
	// WithTx runs fn inside one transaction; fn composes multiple mutations
	// atomically. Any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Read-only accessors outside a transaction, for recovery checks, the
	// read model, and tests.
	GetMoneyLock(ctx context.Context, taskID string) (*MoneyLock, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	GetEscrowByTask(ctx context.Context, taskID string) (*EscrowHold, error)
	GetPayoutByTask(ctx context.Context, taskID string) (*Payout, error)
	GetProofByTask(ctx context.Context, taskID string) (*Proof, error)
	GetXPByTask(ctx context.Context, taskID string) (*XPEntry, error)
	TotalXP(ctx context.Context, userID string) (int64, error)
	RecentXP(ctx context.Context, userID string, since time.Time) ([]XPEntry, error)
	CurrentTier(ctx context.Context, userID string) (int, error)
	ListBadges(ctx context.Context, userID string) ([]BadgeAward, error)
	EscrowsForWorker(ctx context.Context, workerID string) ([]EscrowHold, error)
	PayoutsForWorker(ctx context.Context, workerID string) ([]Payout, error)
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	HasActiveAdminLock(ctx context.Context, userID string) (bool, error)
	PendingJobs(ctx context.Context, limit int) ([]Job, error)

	// MarkJob settles a job_queue row after execution or dispatch. Unknown
	// ids are a no-op.
	MarkJob(ctx context.Context, jobID, status string) error

	Close() error
}
