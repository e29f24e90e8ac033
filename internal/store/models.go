package store

import (
	"time"

	"github.com/hustlexp/backend/internal/lifecycle"
)

// ============================================================================
// ROW MODELS — one struct per authoritative table
// ============================================================================

// RefundStatus mirrors money_state_lock.refund_status. Empty means NULL.
type RefundStatus string

const (
	RefundNone     RefundStatus = ""
	RefundPending  RefundStatus = "pending"
	RefundRefunded RefundStatus = "refunded"
	RefundFailed   RefundStatus = "failed"
)

// Task is the external task row the core reads and advances.
type Task struct {
	ID               string
	Status           lifecycle.TaskStatus
	PosterID         string
	AssignedWorkerID string
	Category         string
	PriceAmount      int64 // minor units
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MoneyLock is the per-task money state lock row. Version is the optimistic
// concurrency counter; every successful transition bumps it.
type MoneyLock struct {
	TaskID            string
	CurrentState      lifecycle.MoneyState
	NextAllowedEvents []string
	PaymentIntentID   string
	TransferID        string
	RefundStatus      RefundStatus
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EscrowHold records the held funds for a task. The three amounts are
// immutable after insert.
type EscrowHold struct {
	ID                string
	TaskID            string
	PosterID          string
	WorkerID          string
	GrossAmount       int64
	PlatformFeeAmount int64
	NetPayoutAmount   int64
	Status            lifecycle.MoneyState
	RefundStatus      RefundStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PayoutType distinguishes standard from instant payouts.
type PayoutType string

const (
	PayoutStandard PayoutType = "standard"
	PayoutInstant  PayoutType = "instant"
)

// Payout is one hustler_payouts row, created when a task releases.
// NetAmount is post-fee: for instant payouts the instant fee is deducted from
// the worker's net.
type Payout struct {
	ID         string
	EscrowID   string
	TaskID     string
	WorkerID   string
	TransferID string
	ChargeID   string
	Type       PayoutType
	FeeAmount  int64
	NetAmount  int64
	Status     string // pending, processing, completed, failed
	CreatedAt  time.Time
}

// XPEntry is one xp_ledger row. TaskID carries a unique constraint; that
// constraint is the idempotency guarantee for awarding.
type XPEntry struct {
	ID               string
	UserID           string
	TaskID           string
	BaseAmount       int64
	DecayFactor      float64
	StreakMultiplier float64
	FinalAmount      int64
	AwardedAt        time.Time
}

// TrustChange is one trust_ledger row. Tiers only ever increase.
type TrustChange struct {
	ID        string
	UserID    string
	OldTier   int
	NewTier   int
	Reason    string
	AwardedAt time.Time
}

// BadgeAward is one badge_ledger row, unique on (user_id, badge_id).
type BadgeAward struct {
	UserID    string
	BadgeID   string
	Tier      int
	AwardedAt time.Time
}

// ProofQuality grades a proof artifact by the shape of its submission.
type ProofQuality string

const (
	ProofBasic    ProofQuality = "BASIC"
	ProofStandard ProofQuality = "STANDARD"
	ProofEnhanced ProofQuality = "ENHANCED"
)

// Proof is one proof_submissions row; at most one per task.
type Proof struct {
	ID           string
	TaskID       string
	UserID       string
	State        lifecycle.ProofState
	Quality      ProofQuality
	HasPhoto     bool
	HasGeo       bool
	HasTimestamp bool
	RejectReason string
	SubmittedAt  time.Time
	ResolvedAt   *time.Time
}

// AdminLock is one admin_locks row. An active lock (ReleasedAt nil) freezes
// the user's payout surface until an operator clears it.
type AdminLock struct {
	ID         string
	UserID     string
	Reason     string
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// BalanceSnapshot records the gateway destination balance observed just
// before a transfer reversal is attempted.
type BalanceSnapshot struct {
	ID        string
	WorkerID  string
	AccountID string
	Amount    int64
	TakenAt   time.Time
}

// Job is one job_queue row for background reconciliation work.
type Job struct {
	ID        string
	Type      string
	TaskID    string
	Payload   map[string]string
	Status    string // queued, running, done, failed
	RunAfter  time.Time
	CreatedAt time.Time
}
