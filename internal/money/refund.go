package money

import (
	"context"
	"fmt"

	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/store"
)

// refundEscrow runs the pre-capture refund: cancel the payment intent, which
// returns the authorized funds to the poster. No compensation is needed
// because nothing was captured.
func (e *Engine) refundEscrow(ctx context.Context, taskID string, p Params) (*Result, error) {
	var res *Result
	var gwErr error
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		lock, err := tx.LockTaskMoney(ctx, taskID)
		if err != nil {
			return err
		}
		if lock == nil {
			return fault.New(fault.PreconditionFailed, "task %s has no money state; nothing to refund", taskID)
		}
		if lock.CurrentState == lifecycle.MoneyRefunded {
			res, err = e.replay(lock, EventRefundEscrow)
			return err
		}
		if !admissible(lock, EventRefundEscrow) {
			return fault.New(fault.IllegalTransition, "task %s money is %s; REFUND_ESCROW not admissible",
				taskID, lock.CurrentState)
		}
		if err := lifecycle.AssertMoneyTransition(lock.CurrentState, lifecycle.MoneyRefunded); err != nil {
			return err
		}

		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fault.New(fault.PreconditionFailed, "task %s not found", taskID)
		}
		if !p.CallerIsAdmin && p.CallerID != task.PosterID {
			return fault.New(fault.PreconditionFailed, "only the poster or an admin may refund task %s", taskID)
		}

		// At most one concurrent refund per task: losing the claim means a
		// refund is already pending or complete.
		claimed, owned, err := tx.ClaimRefund(ctx, taskID)
		if err != nil {
			return err
		}
		if !owned {
			if claimed.RefundStatus == store.RefundRefunded {
				res, err = e.replay(claimed, EventRefundEscrow)
				return err
			}
			return fault.New(fault.ConcurrencyConflict, "refund for task %s already %s",
				taskID, claimed.RefundStatus)
		}
		lock = claimed

		if _, err := e.gateway.CancelPaymentIntent(ctx, lock.PaymentIntentID); err != nil {
			gwErr = fault.Wrap(fault.GatewayError, err, "cancel payment intent for task %s", taskID)
			return e.failSaga(ctx, tx, lock, newCompStack(taskID, EventRefundEscrow, e.sink, e.logger), gwErr)
		}

		lock.CurrentState = lifecycle.MoneyRefunded
		lock.NextAllowedEvents = nil
		lock.RefundStatus = store.RefundRefunded
		if err := tx.UpdateMoneyLock(ctx, lock); err != nil {
			return err
		}
		if err := tx.UpdateEscrowStatus(ctx, taskID, string(lifecycle.MoneyRefunded), store.RefundRefunded); err != nil {
			return err
		}

		escrow, err := tx.GetEscrowByTask(ctx, taskID)
		if err != nil {
			return err
		}

		res = &Result{
			TaskID:       taskID,
			Event:        EventRefundEscrow,
			State:        lifecycle.MoneyRefunded,
			RefundStatus: store.RefundRefunded,
			Escrow:       escrow,
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if gwErr != nil {
		return nil, gwErr
	}

	e.logger.Printf("↩️ escrow refunded for task %s", taskID)
	e.publish(ctx, "money.refunded", map[string]string{"task_id": taskID})
	return res, nil
}

// forceRefund is the admin-only clawback of released funds: snapshot the
// destination balance, reverse the transfer, refund the captured charge.
// Insufficient funds at the reversal is the NEGATIVE_BALANCE path: the
// worker's account is frozen and the lock stays released with
// refund_status=failed for operator follow-up.
func (e *Engine) forceRefund(ctx context.Context, taskID string, p Params) (*Result, error) {
	if !p.CallerIsAdmin {
		return nil, fault.New(fault.AuthorityViolation, "FORCE_REFUND is admin-only")
	}

	var res *Result
	var gwErr error
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		lock, err := tx.LockTaskMoney(ctx, taskID)
		if err != nil {
			return err
		}
		if lock == nil {
			return fault.New(fault.PreconditionFailed, "task %s has no money state", taskID)
		}
		if lock.CurrentState == lifecycle.MoneyRefunded || lock.CurrentState == lifecycle.MoneyPartialRefund {
			res, err = e.replay(lock, EventForceRefund)
			return err
		}
		if !admissible(lock, EventForceRefund) {
			return fault.New(fault.IllegalTransition, "task %s money is %s; FORCE_REFUND not admissible",
				taskID, lock.CurrentState)
		}

		escrow, err := tx.GetEscrowByTask(ctx, taskID)
		if err != nil {
			return err
		}
		if escrow == nil {
			return fault.New(fault.Internal, "task %s is %s but has no escrow hold", taskID, lock.CurrentState)
		}

		claimed, owned, err := tx.ClaimRefund(ctx, taskID)
		if err != nil {
			return err
		}
		if !owned && claimed.RefundStatus == store.RefundPending {
			return fault.New(fault.ConcurrencyConflict, "refund for task %s already pending", taskID)
		}
		if owned {
			lock = claimed
		}

		// Snapshot the destination balance before touching it; forensic
		// evidence for the operator when the reversal goes sideways.
		if bal, err := e.gateway.GetBalance(ctx, p.DestinationAccount); err == nil {
			_ = tx.InsertBalanceSnapshot(ctx, &store.BalanceSnapshot{
				ID:        newSnapshotID(taskID),
				WorkerID:  escrow.WorkerID,
				AccountID: p.DestinationAccount,
				Amount:    bal.Available,
			})
		}

		reversal, err := e.gateway.ReverseTransfer(ctx, lock.TransferID, escrow.NetPayoutAmount)
		if err != nil {
			return e.failForceRefund(ctx, tx, lock, escrow, err, &gwErr)
		}

		finalState := lifecycle.MoneyRefunded
		refundStatus := store.RefundRefunded
		payment := fmt.Sprintf("%d", escrow.GrossAmount)
		if _, err := e.gateway.RefundCharge(ctx, e.chargeID(ctx, tx, lock), escrow.GrossAmount); err != nil {
			// Worker clawed back but the poster is not yet made whole:
			// settle at partial_refund and hand the rest to an operator.
			finalState = lifecycle.MoneyPartialRefund
			refundStatus = store.RefundFailed
			e.sink.Fire("FORCE_REFUND_INCOMPLETE", "transfer reversed but charge refund failed", map[string]string{
				"task_id":     taskID,
				"reversal_id": reversal.ID,
				"error":       err.Error(),
			})
		}

		if err := lifecycle.AssertAdminMoneyTransition(lock.CurrentState, finalState); err != nil {
			return err
		}
		lock.CurrentState = finalState
		lock.NextAllowedEvents = nil
		lock.RefundStatus = refundStatus
		if err := tx.ForceUpdateMoneyLock(ctx, lock); err != nil {
			return err
		}
		if err := tx.UpdateEscrowStatus(ctx, taskID, string(finalState), refundStatus); err != nil {
			return err
		}

		// XP stays in the ledger (append-only); a reconciliation job owns
		// any compensating reward adjustment.
		if err := tx.EnqueueJob(ctx, &store.Job{
			ID:     newJobID(taskID),
			Type:   "reward_reconciliation",
			TaskID: taskID,
			Payload: map[string]string{
				"reason": "force_refund",
				"gross":  payment,
			},
			Status: "queued",
		}); err != nil {
			return err
		}

		res = &Result{
			TaskID:       taskID,
			Event:        EventForceRefund,
			State:        finalState,
			RefundStatus: refundStatus,
			Escrow:       escrow,
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if gwErr != nil {
		return nil, gwErr
	}

	e.logger.Printf("⚖️ force refund settled for task %s: %s", taskID, res.State)
	e.publish(ctx, "money.force_refunded", map[string]string{
		"task_id": taskID,
		"state":   string(res.State),
	})
	return res, nil
}
