// Package recovery is the webhook healing pipeline. Gateway webhooks never
// drive forward progress: they exist to repair the window between "gateway
// call succeeded" and "local commit", and everything else they carry is
// observed and dropped. The pipeline never lets an error escape its
// boundary, because the gateway would otherwise retry forever.
package recovery

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/idempotency"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/metrics"
	"github.com/hustlexp/backend/internal/money"
	"github.com/hustlexp/backend/internal/store"
)

// Event types that drive recovery. Everything else is observed-only.
const (
	TypePaymentIntentSucceeded = "payment_intent.succeeded"
	TypeTransferCreated        = "transfer.created"
)

// GatewayEvent is the verified, parsed webhook event. Signature verification
// happens at the transport before the pipeline sees anything.
type GatewayEvent struct {
	ID              string
	Type            string
	TaskID          string
	PosterID        string
	WorkerID        string
	Amount          int64
	PaymentIntentID string
	TransferID      string
}

// Action is what the pipeline did with one event.
type Action string

const (
	ActionRecoveredHold    Action = "recovered_hold"
	ActionRecoveredRelease Action = "recovered_release"
	ActionObserved         Action = "observed"
	ActionNoop             Action = "noop"
	ActionReplay           Action = "replay"
	ActionError            Action = "error"
)

// Outcome reports what happened; never an error, by contract.
type Outcome struct {
	EventID string
	Type    string
	Action  Action
}

// Pipeline heals drifted money state from verified gateway events.
type Pipeline struct {
	store   store.Store
	guard   *idempotency.Guard
	sink    *alerts.Sink
	metrics *metrics.Metrics
	pub     money.Publisher
	logger  *log.Logger
}

// NewPipeline wires the pipeline.
func NewPipeline(st store.Store, guard *idempotency.Guard, sink *alerts.Sink, m *metrics.Metrics, pub money.Publisher) *Pipeline {
	return &Pipeline{
		store:   st,
		guard:   guard,
		sink:    sink,
		metrics: m,
		pub:     pub,
		logger:  log.New(log.Writer(), "[RECOVERY] ", log.LstdFlags),
	}
}

// Handle processes one verified event. It always returns an Outcome; any
// internal failure is logged and alerted, and the transport still answers
// success to suppress gateway retries.
func (p *Pipeline) Handle(ctx context.Context, ev GatewayEvent) Outcome {
	out := Outcome{EventID: ev.ID, Type: ev.Type}

	seen, err := p.guard.Seen(ctx, ev.ID)
	if err != nil {
		// Fail open: prefer processing again over losing an event. The
		// durable appendEvent below still dedupes.
		p.logger.Printf("⚠️ idempotency pre-check failed for %s, continuing: %v", ev.ID, err)
	}
	if seen {
		out.Action = ActionReplay
		p.observe(out)
		return out
	}

	action, err := p.process(ctx, ev)
	if err != nil {
		p.logger.Printf("❌ recovery failed for event %s (%s): %v", ev.ID, ev.Type, err)
		p.sink.Fire(alerts.TypeWebhookFailure, "webhook recovery failed", map[string]string{
			"event_id": ev.ID,
			"type":     ev.Type,
			"task_id":  ev.TaskID,
			"error":    err.Error(),
		})
		out.Action = ActionError
		p.observe(out)
		return out
	}

	p.guard.Remember(ctx, ev.ID)
	out.Action = action
	p.observe(out)
	return out
}

func (p *Pipeline) observe(out Outcome) {
	outcome := string(out.Action)
	switch out.Action {
	case ActionRecoveredHold, ActionRecoveredRelease:
		outcome = "recovered"
	case ActionObserved, ActionNoop:
		outcome = "noop"
	}
	p.metrics.WebhookEvents.WithLabelValues(out.Type, outcome).Inc()
}

// process runs the dedupe barrier and the per-type recovery inside one
// transaction. Duplicate concurrent deliveries race on the appendEvent
// insert; every loser short-circuits.
func (p *Pipeline) process(ctx context.Context, ev GatewayEvent) (Action, error) {
	action := ActionObserved
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		owned, err := tx.AppendEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return err
		}
		if !owned {
			action = ActionReplay
			return nil
		}

		switch ev.Type {
		case TypePaymentIntentSucceeded:
			action, err = p.recoverHoldEscrow(ctx, tx, ev)
		case TypeTransferCreated:
			action, err = p.recoverReleaseEscrow(ctx, tx, ev)
		default:
			action = ActionObserved
		}
		return err
	})
	return action, err
}

// recoverHoldEscrow heals a confirmed payment intent that never got its
// local commit: create the escrow hold, move the lock to held, and make
// sure the task is ACCEPTED. A lock already in held or beyond means the
// primary path won; nothing to do.
func (p *Pipeline) recoverHoldEscrow(ctx context.Context, tx store.Tx, ev GatewayEvent) (Action, error) {
	lock, err := tx.LockTaskMoney(ctx, ev.TaskID)
	if err != nil {
		return ActionError, err
	}
	if lock != nil && lock.CurrentState != lifecycle.MoneyInitial {
		return ActionNoop, nil
	}

	task, err := tx.GetTask(ctx, ev.TaskID)
	if err != nil {
		return ActionError, err
	}
	if task == nil {
		return ActionError, errTaskMissing(ev.TaskID)
	}
	if task.Status == lifecycle.TaskOpen {
		if err := tx.UpdateTaskStatus(ctx, ev.TaskID, string(lifecycle.TaskOpen), string(lifecycle.TaskAccepted)); err != nil {
			return ActionError, err
		}
	}

	fee := money.PlatformFee(ev.Amount)
	if err := tx.InsertEscrowHold(ctx, &store.EscrowHold{
		ID:                uuid.NewString(),
		TaskID:            ev.TaskID,
		PosterID:          ev.PosterID,
		WorkerID:          ev.WorkerID,
		GrossAmount:       ev.Amount,
		PlatformFeeAmount: fee,
		NetPayoutAmount:   ev.Amount - fee,
		Status:            lifecycle.MoneyHeld,
	}); err != nil {
		return ActionError, err
	}

	newLock := &store.MoneyLock{
		TaskID:            ev.TaskID,
		CurrentState:      lifecycle.MoneyHeld,
		NextAllowedEvents: lifecycle.NextMoneyEvents(lifecycle.MoneyHeld),
		PaymentIntentID:   ev.PaymentIntentID,
		Version:           1,
	}
	if lock == nil {
		err = tx.InsertMoneyLock(ctx, newLock)
	} else {
		newLock.Version = lock.Version
		err = tx.UpdateMoneyLock(ctx, newLock)
	}
	if err != nil {
		return ActionError, err
	}

	p.logger.Printf("🩹 recovered escrow hold for task %s from event %s", ev.TaskID, ev.ID)
	p.metrics.WebhookRecoveries.WithLabelValues("hold").Inc()
	if p.pub != nil {
		p.pub.Publish(ctx, "money.held", map[string]string{"task_id": ev.TaskID, "recovered": "true"})
	}
	return ActionRecoveredHold, nil
}

// recoverReleaseEscrow heals a created transfer that never got its local
// commit: move held → released and record the payout. Rewards are NOT
// awarded here — they are coupled to RELEASE_PAYOUT in the engine, and the
// webhook is pure reconciliation.
func (p *Pipeline) recoverReleaseEscrow(ctx context.Context, tx store.Tx, ev GatewayEvent) (Action, error) {
	lock, err := tx.LockTaskMoney(ctx, ev.TaskID)
	if err != nil {
		return ActionError, err
	}
	if lock == nil {
		// A transfer with no hold on record means causality broke
		// somewhere upstream. Alert and refuse to fabricate state.
		p.sink.Fire(alerts.TypeOrderingViolation, "transfer observed before any escrow hold", map[string]string{
			"event_id": ev.ID,
			"task_id":  ev.TaskID,
		})
		return ActionNoop, nil
	}
	if lock.CurrentState != lifecycle.MoneyHeld {
		return ActionNoop, nil
	}

	escrow, err := tx.GetEscrowByTask(ctx, ev.TaskID)
	if err != nil {
		return ActionError, err
	}
	if escrow == nil {
		p.sink.Fire(alerts.TypeLedgerDrift, "money lock held without an escrow hold row", map[string]string{
			"event_id": ev.ID,
			"task_id":  ev.TaskID,
		})
		return ActionNoop, nil
	}

	lock.CurrentState = lifecycle.MoneyReleased
	lock.NextAllowedEvents = lifecycle.NextMoneyEvents(lifecycle.MoneyReleased)
	lock.TransferID = ev.TransferID
	if err := tx.UpdateMoneyLock(ctx, lock); err != nil {
		return ActionError, err
	}
	if err := tx.UpdateEscrowStatus(ctx, ev.TaskID, string(lifecycle.MoneyReleased), escrow.RefundStatus); err != nil {
		return ActionError, err
	}
	if err := tx.InsertPayout(ctx, &store.Payout{
		ID:         uuid.NewString(),
		EscrowID:   escrow.ID,
		TaskID:     ev.TaskID,
		WorkerID:   escrow.WorkerID,
		TransferID: ev.TransferID,
		Type:       store.PayoutStandard,
		NetAmount:  escrow.NetPayoutAmount,
		Status:     "completed",
	}); err != nil {
		return ActionError, err
	}

	p.logger.Printf("🩹 recovered payout release for task %s from event %s", ev.TaskID, ev.ID)
	p.metrics.WebhookRecoveries.WithLabelValues("release").Inc()
	if p.pub != nil {
		p.pub.Publish(ctx, "money.released", map[string]string{"task_id": ev.TaskID, "recovered": "true"})
	}
	return ActionRecoveredRelease, nil
}

type errTaskMissing string

func (e errTaskMissing) Error() string { return "task " + string(e) + " not found for recovery" }
