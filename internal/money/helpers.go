package money

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/gateway"
	"github.com/hustlexp/backend/internal/store"
)

func newSnapshotID(taskID string) string { return "snap_" + taskID + "_" + uuid.NewString() }
func newJobID(taskID string) string      { return "job_" + taskID + "_" + uuid.NewString() }

// failForceRefund settles a failed transfer reversal. Insufficient funds is
// the NEGATIVE_BALANCE case: freeze the worker, keep the lock released with
// refund_status=failed, flag the ledger drift, and queue reconciliation so
// an operator sees where the books disagree. Any other gateway failure
// keeps the lock retryable the same way without the freeze.
func (e *Engine) failForceRefund(ctx context.Context, tx store.Tx, lock *store.MoneyLock, escrow *store.EscrowHold, cause error, gwErr *error) error {
	lock.RefundStatus = store.RefundFailed
	if err := tx.ForceUpdateMoneyLock(ctx, lock); err != nil {
		return err
	}
	if err := tx.UpdateEscrowStatus(ctx, lock.TaskID, string(lock.CurrentState), store.RefundFailed); err != nil {
		return err
	}

	if gateway.IsInsufficientFunds(cause) {
		if err := tx.InsertAdminLock(ctx, &store.AdminLock{
			ID:     "lock_" + uuid.NewString(),
			UserID: escrow.WorkerID,
			Reason: "transfer reversal failed: insufficient destination balance",
		}); err != nil {
			return err
		}
		// The payout is spent but the money state says released: the books
		// and the reward ledger disagree until reconciliation runs.
		if err := tx.EnqueueJob(ctx, &store.Job{
			ID:     newJobID(lock.TaskID),
			Type:   "reward_reconciliation",
			TaskID: lock.TaskID,
			Payload: map[string]string{
				"reason": "force_refund_reversal_failed",
				"net":    int64String(escrow.NetPayoutAmount),
			},
			Status: "queued",
		}); err != nil {
			return err
		}
		e.sink.Fire(alerts.TypeNegativeBalance, "force refund reversal hit insufficient funds", map[string]string{
			"task_id":   lock.TaskID,
			"worker_id": escrow.WorkerID,
			"net":       int64String(escrow.NetPayoutAmount),
		})
		e.sink.Fire(alerts.TypeLedgerDrift, "reversal failed; ledgers disagree until reconciliation runs", map[string]string{
			"task_id":   lock.TaskID,
			"worker_id": escrow.WorkerID,
		})
		*gwErr = fault.Wrap(fault.NegativeBalance, cause,
			"reversal for task %s failed: worker %s balance insufficient", lock.TaskID, escrow.WorkerID)
		return nil
	}

	e.sink.Fire(alerts.TypeSagaFailed, "force refund reversal failed", map[string]string{
		"task_id": lock.TaskID,
		"error":   cause.Error(),
	})
	*gwErr = fault.Wrap(fault.GatewayError, cause, "reverse transfer for task %s", lock.TaskID)
	return nil
}

// chargeID resolves the charge to refund for a released lock: the payout's
// captured charge when present, else the payment intent id (the gateway
// accepts either).
func (e *Engine) chargeID(ctx context.Context, tx store.Tx, lock *store.MoneyLock) string {
	if p, err := tx.GetPayoutByTask(ctx, lock.TaskID); err == nil && p != nil && p.ChargeID != "" {
		return p.ChargeID
	}
	return lock.PaymentIntentID
}

func int64String(v int64) string { return strconv.FormatInt(v, 10) }
