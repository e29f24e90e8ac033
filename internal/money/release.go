package money

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/gateway"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/store"
)

// releasePayout runs the RELEASE_PAYOUT saga: capture the payment intent,
// transfer the net to the worker, persist the release, and award rewards in
// the same transaction. The window between capture and transfer is the
// highest-risk one; its compensation (refund the captured charge) is armed
// before the transfer is attempted.
func (e *Engine) releasePayout(ctx context.Context, taskID string, p Params) (*Result, error) {
	if p.DestinationAccount == "" {
		return nil, fault.New(fault.PreconditionFailed, "RELEASE_PAYOUT requires the worker's destination account")
	}

	// Advisory freeze check outside the money transaction: an active admin
	// lock on the worker blocks payouts until an operator clears it.
	if p.WorkerID != "" {
		frozen, err := e.store.HasActiveAdminLock(ctx, p.WorkerID)
		if err != nil {
			return nil, err
		}
		if frozen {
			return nil, fault.New(fault.PreconditionFailed, "worker %s payouts are administratively locked", p.WorkerID)
		}
	}

	var res *Result
	var gwErr error
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		lock, err := tx.LockTaskMoney(ctx, taskID)
		if err != nil {
			return err
		}
		if lock == nil {
			return fault.New(fault.PreconditionFailed, "task %s has no money state; nothing to release", taskID)
		}
		if lock.CurrentState == lifecycle.MoneyReleased {
			res, err = e.replay(lock, EventReleasePayout)
			return err
		}
		if !admissible(lock, EventReleasePayout) {
			return fault.New(fault.IllegalTransition, "task %s money is %s; RELEASE_PAYOUT not admissible",
				taskID, lock.CurrentState)
		}
		if err := lifecycle.AssertMoneyTransition(lock.CurrentState, lifecycle.MoneyReleased); err != nil {
			return err
		}

		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fault.New(fault.PreconditionFailed, "task %s not found", taskID)
		}
		if task.Status != lifecycle.TaskCompleted {
			return fault.New(fault.PreconditionFailed, "task %s is %s; payouts release only on COMPLETED tasks",
				taskID, task.Status)
		}
		if err := e.proofs.CanComplete(ctx, tx, taskID); err != nil {
			return err
		}

		escrow, err := tx.GetEscrowByTask(ctx, taskID)
		if err != nil {
			return err
		}
		if escrow == nil {
			return fault.New(fault.Internal, "task %s is %s but has no escrow hold", taskID, lock.CurrentState)
		}

		comps := newCompStack(taskID, EventReleasePayout, e.sink, e.logger)

		captured, err := e.gateway.CapturePaymentIntent(ctx, lock.PaymentIntentID)
		if err != nil {
			gwErr = fault.Wrap(fault.GatewayError, err, "capture payment intent for task %s", taskID)
			return e.failSaga(ctx, tx, lock, comps, gwErr)
		}
		comps.push(fmt.Sprintf("refund captured charge %s", captured.ChargeID), func(cctx context.Context) error {
			_, cerr := e.gateway.RefundCharge(cctx, captured.ChargeID, escrow.GrossAmount)
			return cerr
		})

		payoutNet := escrow.NetPayoutAmount
		payoutType := store.PayoutStandard
		var instantFee int64
		if p.Instant {
			payoutType = store.PayoutInstant
			instantFee = InstantFee(payoutNet)
			payoutNet -= instantFee
		}

		transfer, err := e.gateway.CreateTransfer(ctx, gateway.TransferParams{
			Amount:             payoutNet,
			Currency:           p.Currency,
			DestinationAccount: p.DestinationAccount,
			TaskID:             taskID,
			Instant:            p.Instant,
		})
		if err != nil {
			gwErr = fault.Wrap(fault.GatewayError, err, "create transfer for task %s", taskID)
			return e.failSaga(ctx, tx, lock, comps, gwErr)
		}
		comps.push(fmt.Sprintf("reverse transfer %s", transfer.ID), func(cctx context.Context) error {
			_, cerr := e.gateway.ReverseTransfer(cctx, transfer.ID, payoutNet)
			return cerr
		})

		lock.CurrentState = lifecycle.MoneyReleased
		lock.NextAllowedEvents = lifecycle.NextMoneyEvents(lifecycle.MoneyReleased)
		lock.TransferID = transfer.ID
		if err := tx.UpdateMoneyLock(ctx, lock); err != nil {
			comps.unwind(ctx)
			return err
		}
		if err := tx.UpdateEscrowStatus(ctx, taskID, string(lifecycle.MoneyReleased), escrow.RefundStatus); err != nil {
			comps.unwind(ctx)
			return err
		}

		payout := &store.Payout{
			ID:         uuid.NewString(),
			EscrowID:   escrow.ID,
			TaskID:     taskID,
			WorkerID:   escrow.WorkerID,
			TransferID: transfer.ID,
			ChargeID:   captured.ChargeID,
			Type:       payoutType,
			FeeAmount:  instantFee,
			NetAmount:  payoutNet,
			Status:     "completed",
		}
		if err := tx.InsertPayout(ctx, payout); err != nil {
			comps.unwind(ctx)
			return err
		}

		// Reward coupling: RELEASE_PAYOUT is the only award site, inside
		// this same transaction. A duplicate insert is a silent no-op.
		workerID := task.AssignedWorkerID
		if workerID == "" {
			workerID = escrow.WorkerID
		}
		award, err := e.rewards.AwardForTask(ctx, tx, task, workerID)
		if err != nil {
			comps.unwind(ctx)
			return err
		}

		res = &Result{
			TaskID:   taskID,
			Event:    EventReleasePayout,
			State:    lifecycle.MoneyReleased,
			Category: task.Category,
			Escrow:   escrow,
			Payout:   payout,
			Award:    award,
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if gwErr != nil {
		return nil, gwErr
	}

	e.logger.Printf("💸 payout released for task %s: net=%d type=%s xp=%d",
		taskID, res.Payout.NetAmount, res.Payout.Type, res.Award.Applied)
	e.observeAward(res)
	e.publish(ctx, "money.released", map[string]string{
		"task_id":   taskID,
		"worker_id": res.Payout.WorkerID,
		"net":       fmt.Sprintf("%d", res.Payout.NetAmount),
	})
	return res, nil
}

// failSaga unwinds the compensation stack, persists refund_status=failed as
// the only surviving write, and alerts. The nil return commits the marker;
// the caller surfaces the saved gateway error.
func (e *Engine) failSaga(ctx context.Context, tx store.Tx, lock *store.MoneyLock, comps *compStack, cause error) error {
	clean := comps.unwind(ctx)

	lock.RefundStatus = store.RefundFailed
	if err := tx.UpdateMoneyLock(ctx, lock); err != nil {
		e.logger.Printf("⚠️ could not persist refund_status=failed for task %s: %v", lock.TaskID, err)
		return cause
	}

	meta := map[string]string{
		"task_id": lock.TaskID,
		"state":   string(lock.CurrentState),
		"error":   cause.Error(),
	}
	if clean {
		e.sink.Fire(alerts.TypeSagaFailed, "gateway saga step failed; compensation complete", meta)
	}
	// Compensation failures already alerted from the stack itself.
	return nil
}

func (e *Engine) observeAward(res *Result) {
	if res.Award == nil || res.Award.Applied == 0 {
		return
	}
	category := res.Category
	if category == "" {
		category = "general"
	}
	e.metrics.XPAwarded.WithLabelValues(category).Add(float64(res.Award.Applied))
	if res.Award.TierChanged {
		e.metrics.TierUpgrades.Inc()
	}
	for _, b := range res.Award.Badges {
		e.metrics.BadgesAwarded.WithLabelValues(b).Inc()
	}
}
