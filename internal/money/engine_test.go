package money

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// ============================================================================
// TEST HARNESS
// ============================================================================

type harness struct {
	engine  *Engine
	store   *store.Memory
	gateway *gateway.Mock
	capture *alerts.CaptureChannel
	sink    *alerts.Sink
	proofs  *proof.Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := store.NewMemory()
	gw := gateway.NewMock()
	capture := alerts.NewCaptureChannel("capture")
	sink := alerts.NewSink(capture, nil, 1)
	t.Cleanup(sink.Close)

	proofs := proof.NewGate(st)
	engine := NewEngine(Deps{
		Store:   st,
		Gateway: gw,
		Rewards: rewards.NewLedger(),
		Proofs:  proofs,
		Auth:    authority.NewGate(),
		Sink:    sink,
		Metrics: metrics.NewWith(prometheus.NewRegistry()),
	})

	return &harness{engine: engine, store: st, gateway: gw, capture: capture, sink: sink, proofs: proofs}
}

func (h *harness) seedAcceptedTask(id, poster, worker string, price int64) {
	h.store.SeedTask(&store.Task{
		ID:               id,
		Status:           lifecycle.TaskAccepted,
		PosterID:         poster,
		AssignedWorkerID: worker,
		Category:         "general",
		PriceAmount:      price,
	})
}

func (h *harness) holdParams(poster, worker string, amount int64) Params {
	return Params{
		PaymentMethodID: "pm_test",
		PosterID:        poster,
		WorkerID:        worker,
		Amount:          amount,
		Currency:        "usd",
		CallerID:        poster,
	}
}

func (h *harness) releaseParams(worker string) Params {
	return Params{
		WorkerID:           worker,
		Currency:           "usd",
		DestinationAccount: "acct_" + worker,
		CallerID:           worker,
	}
}

// completeTask walks proof submission, acceptance, and completion, the way
// the API does before asking for a release.
func (h *harness) completeTask(t *testing.T, taskID, worker string) {
	t.Helper()
	ctx := context.Background()

	_, err := h.proofs.Submit(ctx, taskID, worker, proof.Submission{HasPhoto: true, HasGeo: true, HasTimestamp: true})
	require.NoError(t, err)
	_, err = h.proofs.Accept(ctx, taskID)
	require.NoError(t, err)
	task, err := h.proofs.Complete(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.TaskCompleted, task.Status)
}

// ============================================================================
// HAPPY PATH: HOLD → RELEASE
// ============================================================================

func TestHoldEscrowHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	res, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)
	require.NotNil(t, res.Escrow)

	// 12% platform fee on 10000.
	assert.Equal(t, int64(10000), res.Escrow.GrossAmount)
	assert.Equal(t, int64(1200), res.Escrow.PlatformFeeAmount)
	assert.Equal(t, int64(8800), res.Escrow.NetPayoutAmount)
	assert.Equal(t, lifecycle.MoneyHeld, res.State)

	lock, err := h.store.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, lifecycle.MoneyHeld, lock.CurrentState)
	assert.ElementsMatch(t, []string{"RELEASE_PAYOUT", "REFUND_ESCROW"}, lock.NextAllowedEvents)
	assert.NotEmpty(t, lock.PaymentIntentID)
}

func TestHoldEscrowReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)

	// Second hold is a no-op replay: prior state returned alongside the
	// tagged fault, and no second intent is confirmed.
	res, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.IdempotentReplay))
	require.NotNil(t, res)
	assert.True(t, res.Replay)
	assert.Equal(t, lifecycle.MoneyHeld, res.State)
}

func TestHoldEscrowPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Missing payment method.
	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, Params{Amount: 1000})
	assert.True(t, fault.IsKind(err, fault.PreconditionFailed))

	// Unknown task.
	_, err = h.engine.Handle(ctx, "ghost", EventHoldEscrow, h.holdParams("p", "w", 1000))
	assert.True(t, fault.IsKind(err, fault.PreconditionFailed))

	// Task not ACCEPTED.
	h.store.SeedTask(&store.Task{ID: "t-open", Status: lifecycle.TaskOpen, PosterID: "p", Category: "general", PriceAmount: 1000})
	_, err = h.engine.Handle(ctx, "t-open", EventHoldEscrow, h.holdParams("p", "w", 1000))
	assert.True(t, fault.IsKind(err, fault.PreconditionFailed))
}

func TestHoldEscrowGatewayFailureCompensates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	h.gateway.FailConfirm = 1
	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.GatewayError))

	// The created intent was canceled by the compensation stack and no lock
	// row survived the rollback.
	pi := h.gateway.Intent("pi_mock_0001")
	require.NotNil(t, pi)
	assert.Equal(t, "canceled", pi.Status)

	lock, err := h.store.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestReleasePayoutHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)
	h.completeTask(t, "t1", "worker1")

	res, err := h.engine.Handle(ctx, "t1", EventReleasePayout, h.releaseParams("worker1"))
	require.NoError(t, err)
	require.NotNil(t, res.Payout)

	assert.Equal(t, lifecycle.MoneyReleased, res.State)
	assert.Equal(t, int64(8800), res.Payout.NetAmount)
	assert.Equal(t, store.PayoutStandard, res.Payout.Type)
	assert.Equal(t, "completed", res.Payout.Status)

	// Reward coupling: XP awarded in the same transaction.
	require.NotNil(t, res.Award)
	assert.Equal(t, int64(50), res.Award.Applied) // general base 50, no decay, 1-day streak
	xp, err := h.store.GetXPByTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, xp)
	assert.Equal(t, "worker1", xp.UserID)

	// Second release is a replay; no second transfer, no second award.
	res2, err := h.engine.Handle(ctx, "t1", EventReleasePayout, h.releaseParams("worker1"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.IdempotentReplay))
	assert.True(t, res2.Replay)

	total, err := h.store.TotalXP(ctx, "worker1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

func TestReleaseInstantPayoutFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)
	h.completeTask(t, "t1", "worker1")

	p := h.releaseParams("worker1")
	p.Instant = true
	res, err := h.engine.Handle(ctx, "t1", EventReleasePayout, p)
	require.NoError(t, err)

	// 1.5% of 8800 = 132, above the 50 floor, deducted from the worker net.
	assert.Equal(t, store.PayoutInstant, res.Payout.Type)
	assert.Equal(t, int64(132), res.Payout.FeeAmount)
	assert.Equal(t, int64(8668), res.Payout.NetAmount)
}

func TestReleaseRequiresAcceptedProof(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)

	// Task never reached COMPLETED.
	_, err = h.engine.Handle(ctx, "t1", EventReleasePayout, h.releaseParams("worker1"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.PreconditionFailed))

	lock, _ := h.store.GetMoneyLock(ctx, "t1")
	assert.Equal(t, lifecycle.MoneyHeld, lock.CurrentState)
}

func TestReleaseTransferFailureCommitsFailureMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)
	h.completeTask(t, "t1", "worker1")

	h.gateway.FailTransfer = 1
	_, err = h.engine.Handle(ctx, "t1", EventReleasePayout, h.releaseParams("worker1"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.GatewayError))

	// Compensation refunded the captured charge.
	refunds := h.gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(10000), refunds[0].Amount)

	// The failure marker committed even though the saga failed.
	lock, err := h.store.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.MoneyHeld, lock.CurrentState)
	assert.Equal(t, store.RefundFailed, lock.RefundStatus)

	// No payout, no XP.
	payout, _ := h.store.GetPayoutByTask(ctx, "t1")
	assert.Nil(t, payout)
	xp, _ := h.store.GetXPByTask(ctx, "t1")
	assert.Nil(t, xp)

	h.sink.Close()
	types := alertTypes(h.capture.Alerts())
	assert.Contains(t, types, alerts.TypeSagaFailed)
}

// ============================================================================
// REFUNDS
// ============================================================================

func TestRefundEscrowPreCapture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)

	res, err := h.engine.Handle(ctx, "t1", EventRefundEscrow, Params{CallerID: "poster1"})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.MoneyRefunded, res.State)
	assert.Equal(t, store.RefundRefunded, res.RefundStatus)

	// The uncaptured intent was canceled, not refunded.
	pi := h.gateway.Intent("pi_mock_0001")
	assert.Equal(t, "canceled", pi.Status)
	assert.Empty(t, h.gateway.Refunds())

	// refunded is terminal: release afterwards is illegal.
	_, err = h.engine.Handle(ctx, "t1", EventReleasePayout, h.releaseParams("worker1"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.IllegalTransition))

	// And a duplicate refund replays.
	res2, err := h.engine.Handle(ctx, "t1", EventRefundEscrow, Params{CallerID: "poster1"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.IdempotentReplay))
	assert.True(t, res2.Replay)
}

func TestRefundEscrowCallerCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	_, err := h.engine.Handle(ctx, "t1", EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)

	// A stranger cannot refund.
	_, err = h.engine.Handle(ctx, "t1", EventRefundEscrow, Params{CallerID: "rando"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.PreconditionFailed))

	// An admin can.
	_, err = h.engine.Handle(ctx, "t1", EventRefundEscrow, Params{CallerID: "ops", CallerIsAdmin: true})
	require.NoError(t, err)
}

// ============================================================================
// FORCE_REFUND
// ============================================================================

func (h *harness) releasedTask(t *testing.T, taskID string) {
	t.Helper()
	ctx := context.Background()
	h.seedAcceptedTask(taskID, "poster1", "worker1", 10000)
	_, err := h.engine.Handle(ctx, taskID, EventHoldEscrow, h.holdParams("poster1", "worker1", 10000))
	require.NoError(t, err)
	h.completeTask(t, taskID, "worker1")
	_, err = h.engine.Handle(ctx, taskID, EventReleasePayout, h.releaseParams("worker1"))
	require.NoError(t, err)
}

func TestForceRefundAdminOnly(t *testing.T) {
	h := newHarness(t)
	h.releasedTask(t, "t1")

	_, err := h.engine.Handle(context.Background(), "t1", EventForceRefund, Params{CallerID: "worker1"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.AuthorityViolation))
}

func TestForceRefundClawback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.releasedTask(t, "t1")

	res, err := h.engine.Handle(ctx, "t1", EventForceRefund, Params{
		CallerID:           "ops",
		CallerIsAdmin:      true,
		DestinationAccount: "acct_worker1",
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.MoneyRefunded, res.State)

	// Transfer reversed and charge refunded.
	require.Len(t, h.gateway.Reversals(), 1)
	assert.Equal(t, int64(8800), h.gateway.Reversals()[0].Amount)
	require.Len(t, h.gateway.Refunds(), 1)
	assert.Equal(t, int64(10000), h.gateway.Refunds()[0].Amount)

	// The XP row survives the clawback; reconciliation owns the follow-up.
	xp, err := h.store.GetXPByTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, xp)

	jobs, err := h.store.PendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "reward_reconciliation", jobs[0].Type)

	// refunded is absolutely terminal, even for admins.
	res2, err := h.engine.Handle(ctx, "t1", EventForceRefund, Params{CallerID: "ops", CallerIsAdmin: true})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.IdempotentReplay))
	assert.True(t, res2.Replay)
}

func TestForceRefundInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.releasedTask(t, "t1")

	// Worker already spent the balance.
	h.gateway.ShortBalances["acct_worker1"] = true

	_, err := h.engine.Handle(ctx, "t1", EventForceRefund, Params{
		CallerID:           "ops",
		CallerIsAdmin:      true,
		DestinationAccount: "acct_worker1",
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NegativeBalance))

	// Lock stays released with the failure marker for operator follow-up.
	lock, err := h.store.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.MoneyReleased, lock.CurrentState)
	assert.Equal(t, store.RefundFailed, lock.RefundStatus)

	// The worker's payout surface is frozen.
	frozen, err := h.store.HasActiveAdminLock(ctx, "worker1")
	require.NoError(t, err)
	assert.True(t, frozen)

	// The books disagree until reconciliation runs: the job is queued
	// durably in the same transaction as the failure marker.
	jobs, err := h.store.PendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "reward_reconciliation", jobs[0].Type)
	assert.Equal(t, "t1", jobs[0].TaskID)
	assert.Equal(t, "force_refund_reversal_failed", jobs[0].Payload["reason"])

	h.sink.Close()
	types := alertTypes(h.capture.Alerts())
	assert.Contains(t, types, alerts.TypeNegativeBalance)
	assert.Contains(t, types, alerts.TypeLedgerDrift)
}

func TestReleaseBlockedByAdminLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.releasedTask(t, "t1")
	h.gateway.ShortBalances["acct_worker1"] = true
	_, err := h.engine.Handle(ctx, "t1", EventForceRefund, Params{
		CallerID: "ops", CallerIsAdmin: true, DestinationAccount: "acct_worker1",
	})
	require.Error(t, err)

	// A second task for the frozen worker cannot release.
	h.seedAcceptedTask("t2", "poster2", "worker1", 5000)
	_, err = h.engine.Handle(ctx, "t2", EventHoldEscrow, h.holdParams("poster2", "worker1", 5000))
	require.NoError(t, err)
	h.completeTask(t, "t2", "worker1")

	_, err = h.engine.Handle(ctx, "t2", EventReleasePayout, h.releaseParams("worker1"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.PreconditionFailed))
}

// ============================================================================
// AUTHORITY
// ============================================================================

func TestAIProposedMoneyEventsForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAcceptedTask("t1", "poster1", "worker1", 10000)

	for _, ev := range []Event{EventHoldEscrow, EventReleasePayout, EventRefundEscrow, EventForceRefund} {
		p := h.holdParams("poster1", "worker1", 10000)
		p.AIProposed = true
		p.CallerIsAdmin = true
		_, err := h.engine.Handle(ctx, "t1", ev, p)
		require.Error(t, err, "event %s must be rejected for AI callers", ev)
		assert.True(t, fault.IsKind(err, fault.AuthorityViolation), "event %s: got %v", ev, err)
	}

	// Nothing happened.
	lock, err := h.store.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func alertTypes(fired []alerts.Alert) []string {
	types := make([]string, 0, len(fired))
	for _, a := range fired {
		types = append(types, a.Type)
	}
	return types
}
