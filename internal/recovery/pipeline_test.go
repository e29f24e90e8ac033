package recovery

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/idempotency"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/metrics"
	"github.com/hustlexp/backend/internal/store"
)

type fixture struct {
	pipeline *Pipeline
	store    *store.Memory
	capture  *alerts.CaptureChannel
	sink     *alerts.Sink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	capture := alerts.NewCaptureChannel("capture")
	sink := alerts.NewSink(capture, nil, 1)
	t.Cleanup(sink.Close)
	guard := idempotency.NewGuard(st, nil)
	p := NewPipeline(st, guard, sink, metrics.NewWith(prometheus.NewRegistry()), nil)
	return &fixture{pipeline: p, store: st, capture: capture, sink: sink}
}

func holdEvent(id, taskID string) GatewayEvent {
	return GatewayEvent{
		ID:              id,
		Type:            TypePaymentIntentSucceeded,
		TaskID:          taskID,
		PosterID:        "poster1",
		WorkerID:        "worker1",
		Amount:          10000,
		PaymentIntentID: "pi_webhook_1",
	}
}

func TestRecoverHoldEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedTask(&store.Task{
		ID: "t1", Status: lifecycle.TaskOpen, PosterID: "poster1",
		AssignedWorkerID: "worker1", Category: "general", PriceAmount: 10000,
	})

	out := f.pipeline.Handle(ctx, holdEvent("evt_1", "t1"))
	assert.Equal(t, ActionRecoveredHold, out.Action)

	lock, err := f.store.GetMoneyLock(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, lifecycle.MoneyHeld, lock.CurrentState)
	assert.Equal(t, "pi_webhook_1", lock.PaymentIntentID)

	escrow, err := f.store.GetEscrowByTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, escrow)
	assert.Equal(t, int64(10000), escrow.GrossAmount)
	assert.Equal(t, int64(1200), escrow.PlatformFeeAmount)
	assert.Equal(t, int64(8800), escrow.NetPayoutAmount)

	task, err := f.store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskAccepted, task.Status)
}

func TestRecoverHoldNoopWhenPrimaryPathWon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedTask(&store.Task{ID: "t1", Status: lifecycle.TaskAccepted, PosterID: "poster1", Category: "general", PriceAmount: 10000})

	out := f.pipeline.Handle(ctx, holdEvent("evt_1", "t1"))
	require.Equal(t, ActionRecoveredHold, out.Action)

	// Same task, later duplicate intent event: the lock is already held.
	out = f.pipeline.Handle(ctx, holdEvent("evt_2", "t1"))
	assert.Equal(t, ActionNoop, out.Action)
}

func TestDuplicateDeliveriesCommitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedTask(&store.Task{ID: "t1", Status: lifecycle.TaskOpen, PosterID: "poster1", Category: "general", PriceAmount: 10000})

	// Five concurrent deliveries of the same event: exactly one owns the
	// append barrier, the rest replay.
	var wg sync.WaitGroup
	results := make([]Outcome, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.pipeline.Handle(ctx, holdEvent("evt_dup", "t1"))
		}(i)
	}
	wg.Wait()

	recovered, replayed := 0, 0
	for _, out := range results {
		switch out.Action {
		case ActionRecoveredHold:
			recovered++
		case ActionReplay:
			replayed++
		default:
			t.Fatalf("unexpected action %s", out.Action)
		}
	}
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 4, replayed)
}

func TestRecoverReleaseEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedTask(&store.Task{ID: "t1", Status: lifecycle.TaskCompleted, PosterID: "poster1", AssignedWorkerID: "worker1", Category: "general", PriceAmount: 10000})
	require.Equal(t, ActionRecoveredHold, f.pipeline.Handle(ctx, holdEvent("evt_1", "t1")).Action)

	out := f.pipeline.Handle(ctx, GatewayEvent{
		ID: "evt_2", Type: TypeTransferCreated, TaskID: "t1", TransferID: "tr_webhook_1",
	})
	assert.Equal(t, ActionRecoveredRelease, out.Action)

	lock, _ := f.store.GetMoneyLock(ctx, "t1")
	assert.Equal(t, lifecycle.MoneyReleased, lock.CurrentState)
	assert.Equal(t, "tr_webhook_1", lock.TransferID)

	payout, err := f.store.GetPayoutByTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, payout)
	assert.Equal(t, int64(8800), payout.NetAmount)

	// Webhooks never award rewards; that is coupled to the engine's
	// RELEASE_PAYOUT only.
	xp, err := f.store.GetXPByTask(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, xp)
}

func TestTransferBeforeHoldAlertsOrderingViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.pipeline.Handle(ctx, GatewayEvent{
		ID: "evt_1", Type: TypeTransferCreated, TaskID: "t-unknown", TransferID: "tr_1",
	})
	assert.Equal(t, ActionNoop, out.Action)

	f.sink.Close()
	fired := f.capture.Alerts()
	require.Len(t, fired, 1)
	assert.Equal(t, alerts.TypeOrderingViolation, fired[0].Type)
}

func TestUnknownEventTypesAreObserved(t *testing.T) {
	f := newFixture(t)
	out := f.pipeline.Handle(context.Background(), GatewayEvent{ID: "evt_1", Type: "charge.updated"})
	assert.Equal(t, ActionObserved, out.Action)
}

func TestRecoveryErrorNeverEscapes(t *testing.T) {
	f := newFixture(t)

	// Hold event for a task that does not exist: the pipeline alerts and
	// reports the error as an outcome, never as a returned error.
	out := f.pipeline.Handle(context.Background(), holdEvent("evt_1", "t-missing"))
	assert.Equal(t, ActionError, out.Action)

	f.sink.Close()
	require.NotEmpty(t, f.capture.Alerts())
	assert.Equal(t, alerts.TypeWebhookFailure, f.capture.Alerts()[0].Type)
}
