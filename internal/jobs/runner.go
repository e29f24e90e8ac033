// Package jobs drains the durable job_queue: reconciliation work that must
// not run inside a money transaction but must not be lost either. Jobs are
// enqueued transactionally by the engine and processed here at-least-once.
package jobs

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/store"
)

// Job types.
const (
	TypeRewardReconciliation = "reward_reconciliation"
	TypeLedgerScan           = "ledger_scan"
)

// JobDispatcher hands a pending job to an external queue for durable
// delivery. Satisfied by *Dispatcher.
type JobDispatcher interface {
	Enqueue(ctx context.Context, j store.Job) error
}

// Runner polls the job queue. With a dispatcher it pushes each pending job
// to Cloud Tasks and lets the push endpoint execute it; without one it
// executes in-process. Duplicate execution across processes is tolerated
// because every handler is idempotent.
type Runner struct {
	store      store.Store
	sink       *alerts.Sink
	dispatcher JobDispatcher // nil means in-process-only mode
	interval   time.Duration
	batch      int
	logger     *log.Logger
}

// NewRunner builds a runner. Non-positive interval or batch fall back to the
// defaults.
func NewRunner(st store.Store, sink *alerts.Sink, dispatcher JobDispatcher, interval time.Duration, batch int) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 20
	}
	return &Runner{
		store:      st,
		sink:       sink,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      batch,
		logger:     log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
	}
}

// Run polls until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Printf("job runner started (interval=%s)", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("job runner stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain takes one batch of pending jobs and either dispatches each to Cloud
// Tasks or executes it in-process. A job that fails stays queued for the
// next poll.
func (r *Runner) Drain(ctx context.Context) {
	pending, err := r.store.PendingJobs(ctx, r.batch)
	if err != nil {
		r.logger.Printf("⚠️ pending jobs query failed: %v", err)
		return
	}
	for _, j := range pending {
		if r.dispatcher != nil {
			if err := r.dispatcher.Enqueue(ctx, j); err != nil {
				r.logger.Printf("⚠️ dispatch of job %s (%s) failed, retrying next poll: %v", j.ID, j.Type, err)
				continue
			}
			// The queue owns delivery now; the push endpoint settles it.
			r.mark(ctx, j.ID, "running")
			continue
		}
		if err := r.Process(ctx, j); err != nil {
			r.logger.Printf("❌ job %s (%s) failed: %v", j.ID, j.Type, err)
		}
	}
}

// Process executes one job and settles its queue row. The Cloud Tasks push
// endpoint calls this; a returned error makes the queue redeliver.
func (r *Runner) Process(ctx context.Context, j store.Job) error {
	if err := r.Execute(ctx, j); err != nil {
		return err
	}
	if j.ID != "" {
		r.mark(ctx, j.ID, "done")
	}
	return nil
}

func (r *Runner) mark(ctx context.Context, jobID, status string) {
	if err := r.store.MarkJob(ctx, jobID, status); err != nil {
		r.logger.Printf("⚠️ mark job %s %s: %v", jobID, status, err)
	}
}

// Execute runs one job by type. Unknown types are logged and dropped.
func (r *Runner) Execute(ctx context.Context, j store.Job) error {
	switch j.Type {
	case TypeRewardReconciliation:
		return r.reconcileRewards(ctx, j)
	case TypeLedgerScan:
		return r.scanLedger(ctx, j)
	default:
		r.logger.Printf("unknown job type %q (id=%s), dropping", j.Type, j.ID)
		return nil
	}
}

// reconcileRewards follows a FORCE_REFUND: the XP row stays (the ledger is
// append-only and awards are never revoked), so reconciliation means telling
// an operator the books and the rewards now disagree on purpose.
func (r *Runner) reconcileRewards(ctx context.Context, j store.Job) error {
	xp, err := r.store.GetXPByTask(ctx, j.TaskID)
	if err != nil {
		return err
	}
	if xp == nil {
		// Nothing was ever awarded; nothing to reconcile.
		return nil
	}
	lock, err := r.store.GetMoneyLock(ctx, j.TaskID)
	if err != nil {
		return err
	}
	state := ""
	if lock != nil {
		state = string(lock.CurrentState)
	}

	r.sink.Fire(alerts.TypeLedgerDrift, "XP awarded for a task whose payout was clawed back", map[string]string{
		"task_id":     j.TaskID,
		"user_id":     xp.UserID,
		"xp":          formatInt(xp.FinalAmount),
		"money_state": state,
		"reason":      j.Payload["reason"],
	})
	r.logger.Printf("🔎 reward reconciliation flagged task %s (xp=%d, state=%s)", j.TaskID, xp.FinalAmount, state)
	return nil
}

// scanLedger is the forensic causality check for one task: a released lock
// must have an escrow hold behind it, and an XP row must sit on a released
// lock. Findings alert; nothing is mutated.
func (r *Runner) scanLedger(ctx context.Context, j store.Job) error {
	lock, err := r.store.GetMoneyLock(ctx, j.TaskID)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}

	if lock.CurrentState == lifecycle.MoneyReleased {
		escrow, err := r.store.GetEscrowByTask(ctx, j.TaskID)
		if err != nil {
			return err
		}
		if escrow == nil {
			r.sink.Fire(alerts.TypeOrderingViolation, "released money lock with no escrow hold behind it", map[string]string{
				"task_id": j.TaskID,
			})
		}
	}

	xp, err := r.store.GetXPByTask(ctx, j.TaskID)
	if err != nil {
		return err
	}
	if xp != nil && lock.CurrentState == lifecycle.MoneyInitial {
		r.sink.Fire(alerts.TypeLedgerDrift, "XP ledger row exists for an unreleased task", map[string]string{
			"task_id": j.TaskID,
			"state":   string(lock.CurrentState),
		})
	}
	return nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
