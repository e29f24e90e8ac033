// Package money owns the per-task money state machine and drives the SAGA
// steps against the payment gateway. It is the only component that moves
// money state forward; webhooks heal, they never drive.
package money

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/authority"
	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/gateway"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/metrics"
	"github.com/hustlexp/backend/internal/proof"
	"github.com/hustlexp/backend/internal/rewards"
	"github.com/hustlexp/backend/internal/store"
)

// Event is one of the four money events the engine handles.
type Event string

const (
	EventHoldEscrow    Event = "HOLD_ESCROW"
	EventReleasePayout Event = "RELEASE_PAYOUT"
	EventRefundEscrow  Event = "REFUND_ESCROW"
	EventForceRefund   Event = "FORCE_REFUND"
)

// Fee policy. All amounts are integer minor units.
const (
	// PlatformFeeRate is the platform's cut of the gross escrow.
	PlatformFeeRate = 0.12
	// InstantFeeRate is the extra fee for instant payouts, deducted from
	// the worker's net.
	InstantFeeRate = 0.015
	// InstantFeeMin floors the instant fee.
	InstantFeeMin = 50
)

// PlatformFee computes the platform's cut of a gross amount.
func PlatformFee(gross int64) int64 {
	return int64(math.Round(float64(gross) * PlatformFeeRate))
}

// InstantFee computes the instant payout fee on a net amount.
func InstantFee(net int64) int64 {
	fee := int64(math.Round(float64(net) * InstantFeeRate))
	if fee < InstantFeeMin {
		fee = InstantFeeMin
	}
	return fee
}

// Params carries the gateway primitives and caller identity for one event.
type Params struct {
	PaymentMethodID    string
	PosterID           string
	WorkerID           string
	Amount             int64
	Currency           string
	DestinationAccount string
	Instant            bool

	// CallerID and CallerIsAdmin identify who asked. REFUND_ESCROW demands
	// poster or admin; FORCE_REFUND demands admin.
	CallerID      string
	CallerIsAdmin bool

	// AIProposed marks calls originating from the AI orchestrator. Money
	// events are never executable by AI; the authority gate rejects them
	// before any side effect.
	AIProposed bool
}

// Result reports what one event did.
type Result struct {
	TaskID       string
	Event        Event
	State        lifecycle.MoneyState
	Category     string
	Replay       bool
	RefundStatus store.RefundStatus
	Escrow       *store.EscrowHold
	Payout       *store.Payout
	Award        *rewards.AwardResult
}

// Publisher broadcasts domain events after commit. Satisfied by events.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]string)
}

// Deps are the engine's collaborators. All required except Pub.
type Deps struct {
	Store   store.Store
	Gateway gateway.Client
	Rewards *rewards.Ledger
	Proofs  *proof.Gate
	Auth    *authority.Gate
	Sink    *alerts.Sink
	Metrics *metrics.Metrics
	Pub     Publisher
}

// Engine is the money state engine. Safe for concurrent use; per-task
// serialization comes from the store's row lock, not from the engine.
type Engine struct {
	store   store.Store
	gateway gateway.Client
	rewards *rewards.Ledger
	proofs  *proof.Gate
	auth    *authority.Gate
	sink    *alerts.Sink
	metrics *metrics.Metrics
	pub     Publisher
	logger  *log.Logger
}

// NewEngine wires the engine from its dependencies.
func NewEngine(d Deps) *Engine {
	return &Engine{
		store:   d.Store,
		gateway: d.Gateway,
		rewards: d.Rewards,
		proofs:  d.Proofs,
		auth:    d.Auth,
		sink:    d.Sink,
		metrics: d.Metrics,
		pub:     d.Pub,
		logger:  log.New(log.Writer(), "[MONEY] ", log.LstdFlags),
	}
}

// eventSubsystem maps events to authority subsystems for AI-proposed calls.
var eventSubsystem = map[Event][2]string{
	EventHoldEscrow:    {"hold_escrow", "escrow.hold"},
	EventReleasePayout: {"release_payout", "escrow.release"},
	EventRefundEscrow:  {"refund_escrow", "escrow.refund"},
	EventForceRefund:   {"force_refund", "escrow.release"},
}

// Handle is the single entry point: it serializes on the per-task row lock,
// validates the transition, runs the gateway saga step, and persists the new
// state. On an idempotent replay it returns BOTH the prior result and an
// IDEMPOTENT_REPLAY fault so callers can distinguish no-ops without losing
// the state they asked about.
func (e *Engine) Handle(ctx context.Context, taskID string, event Event, p Params) (*Result, error) {
	start := time.Now()

	if p.AIProposed {
		as := eventSubsystem[event]
		if err := e.auth.Require(as[0], as[1]); err != nil {
			e.count(event, "error", err)
			return nil, err
		}
	}

	var res *Result
	var err error
	switch event {
	case EventHoldEscrow:
		res, err = e.holdEscrow(ctx, taskID, p)
	case EventReleasePayout:
		res, err = e.releasePayout(ctx, taskID, p)
	case EventRefundEscrow:
		res, err = e.refundEscrow(ctx, taskID, p)
	case EventForceRefund:
		res, err = e.forceRefund(ctx, taskID, p)
	default:
		err = fault.New(fault.PreconditionFailed, "unknown money event %q", event)
	}

	e.metrics.MoneyEventLatency.WithLabelValues(string(event)).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		e.count(event, "applied", nil)
	case fault.IsKind(err, fault.IdempotentReplay):
		e.count(event, "replay", nil)
		e.metrics.ReplaysShort.Inc()
	default:
		e.count(event, "error", err)
	}
	return res, err
}

func (e *Engine) count(event Event, outcome string, err error) {
	e.metrics.MoneyEvents.WithLabelValues(string(event), outcome).Inc()
	if err != nil {
		e.metrics.Faults.WithLabelValues(string(fault.KindOf(err))).Inc()
	}
}

func (e *Engine) publish(ctx context.Context, topic string, payload map[string]string) {
	if e.pub != nil {
		e.pub.Publish(ctx, topic, payload)
	}
}

// replay builds the informational replay return for a lock that already
// passed the requested event.
func (e *Engine) replay(lock *store.MoneyLock, event Event) (*Result, error) {
	res := &Result{
		TaskID:       lock.TaskID,
		Event:        event,
		State:        lock.CurrentState,
		Replay:       true,
		RefundStatus: lock.RefundStatus,
	}
	return res, fault.New(fault.IdempotentReplay, "task %s already %s; %s is a no-op",
		lock.TaskID, lock.CurrentState, event)
}

// admissible verifies the event against the lock's persisted allow-set.
func admissible(lock *store.MoneyLock, event Event) bool {
	for _, allowed := range lock.NextAllowedEvents {
		if allowed == string(event) {
			return true
		}
	}
	return false
}
