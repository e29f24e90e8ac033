package money

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/gateway"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/store"
)

// holdEscrow runs the HOLD_ESCROW saga: create a manual-capture payment
// intent, confirm it, then persist the lock in held plus the escrow hold.
// A gateway failure cancels the intent and leaves no lock row behind.
func (e *Engine) holdEscrow(ctx context.Context, taskID string, p Params) (*Result, error) {
	if p.PaymentMethodID == "" {
		return nil, fault.New(fault.PreconditionFailed, "HOLD_ESCROW requires a payment method")
	}
	if p.Amount <= 0 {
		return nil, fault.New(fault.PreconditionFailed, "HOLD_ESCROW requires a positive amount")
	}

	var res *Result
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		lock, err := tx.LockTaskMoney(ctx, taskID)
		if err != nil {
			return err
		}
		if lock != nil && lock.CurrentState != lifecycle.MoneyInitial {
			if lock.CurrentState == lifecycle.MoneyHeld {
				res, err = e.replay(lock, EventHoldEscrow)
				return err
			}
			return fault.New(fault.IllegalTransition, "task %s money is %s; HOLD_ESCROW needs initial",
				taskID, lock.CurrentState)
		}

		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fault.New(fault.PreconditionFailed, "task %s not found", taskID)
		}
		if task.Status != lifecycle.TaskAccepted {
			return fault.New(fault.PreconditionFailed, "task %s is %s; escrow holds only on ACCEPTED tasks",
				taskID, task.Status)
		}

		comps := newCompStack(taskID, EventHoldEscrow, e.sink, e.logger)

		intent, err := e.gateway.CreatePaymentIntent(ctx, gateway.CreateIntentParams{
			Amount:        p.Amount,
			Currency:      p.Currency,
			PosterID:      p.PosterID,
			TaskID:        taskID,
			ManualCapture: true,
		})
		if err != nil {
			return fault.Wrap(fault.GatewayError, err, "create payment intent for task %s", taskID)
		}
		comps.push(fmt.Sprintf("cancel payment intent %s", intent.ID), func(cctx context.Context) error {
			_, cerr := e.gateway.CancelPaymentIntent(cctx, intent.ID)
			return cerr
		})

		if _, err := e.gateway.ConfirmPaymentIntent(ctx, intent.ID); err != nil {
			comps.unwind(ctx)
			return fault.Wrap(fault.GatewayError, err, "confirm payment intent for task %s", taskID)
		}

		fee := PlatformFee(p.Amount)
		hold := &store.EscrowHold{
			ID:                uuid.NewString(),
			TaskID:            taskID,
			PosterID:          p.PosterID,
			WorkerID:          p.WorkerID,
			GrossAmount:       p.Amount,
			PlatformFeeAmount: fee,
			NetPayoutAmount:   p.Amount - fee,
			Status:            lifecycle.MoneyHeld,
		}

		newLock := &store.MoneyLock{
			TaskID:            taskID,
			CurrentState:      lifecycle.MoneyHeld,
			NextAllowedEvents: lifecycle.NextMoneyEvents(lifecycle.MoneyHeld),
			PaymentIntentID:   intent.ID,
			Version:           1,
		}
		if lock == nil {
			if err := tx.InsertMoneyLock(ctx, newLock); err != nil {
				comps.unwind(ctx)
				return err
			}
		} else {
			if err := lifecycle.AssertMoneyTransition(lock.CurrentState, lifecycle.MoneyHeld); err != nil {
				comps.unwind(ctx)
				return err
			}
			newLock.Version = lock.Version
			if err := tx.UpdateMoneyLock(ctx, newLock); err != nil {
				comps.unwind(ctx)
				return err
			}
		}
		if err := tx.InsertEscrowHold(ctx, hold); err != nil {
			comps.unwind(ctx)
			return err
		}

		res = &Result{
			TaskID: taskID,
			Event:  EventHoldEscrow,
			State:  lifecycle.MoneyHeld,
			Escrow: hold,
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	e.logger.Printf("💰 escrow held for task %s: gross=%d fee=%d net=%d",
		taskID, res.Escrow.GrossAmount, res.Escrow.PlatformFeeAmount, res.Escrow.NetPayoutAmount)
	e.publish(ctx, "money.held", map[string]string{
		"task_id": taskID,
		"gross":   fmt.Sprintf("%d", res.Escrow.GrossAmount),
	})
	return res, nil
}
