// Package proof governs proof-of-completion artifacts: one per task, graded
// at submission, resolved exactly once. A task cannot complete and money
// cannot release until its proof is accepted.
package proof

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/lifecycle"
	"github.com/hustlexp/backend/internal/store"
)

// Submission is the worker-supplied artifact shape. The quality grade is
// derived from it, never supplied by the caller.
type Submission struct {
	HasPhoto     bool
	HasGeo       bool
	HasTimestamp bool
}

// Grade maps a submission shape to its quality tier.
func Grade(s Submission) store.ProofQuality {
	switch {
	case s.HasPhoto && s.HasGeo && s.HasTimestamp:
		return store.ProofEnhanced
	case s.HasPhoto:
		return store.ProofStandard
	default:
		return store.ProofBasic
	}
}

// Gate is the proof lifecycle coordinator.
type Gate struct {
	store  store.Store
	logger *log.Logger
}

// NewGate builds the proof gate over the durable store.
func NewGate(st store.Store) *Gate {
	return &Gate{
		store:  st,
		logger: log.New(log.Writer(), "[PROOF] ", log.LstdFlags),
	}
}

// Submit records a proof artifact for the task and advances the task to
// PROOF_SUBMITTED. Exactly one proof per task: a second submission fails
// with CONCURRENCY_CONFLICT.
func (g *Gate) Submit(ctx context.Context, taskID, userID string, s Submission) (*store.Proof, error) {
	p := &store.Proof{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		UserID:       userID,
		State:        lifecycle.ProofSubmitted,
		Quality:      Grade(s),
		HasPhoto:     s.HasPhoto,
		HasGeo:       s.HasGeo,
		HasTimestamp: s.HasTimestamp,
		SubmittedAt:  time.Now().UTC(),
	}

	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fault.New(fault.PreconditionFailed, "task %s not found", taskID)
		}
		if task.AssignedWorkerID != userID {
			return fault.New(fault.PreconditionFailed, "user %s is not the assigned worker on task %s", userID, taskID)
		}
		if err := lifecycle.AssertTaskTransition(task.Status, lifecycle.TaskProofSubmitted); err != nil {
			return err
		}
		if err := tx.InsertProof(ctx, p); err != nil {
			return err
		}
		return tx.UpdateTaskStatus(ctx, taskID, string(task.Status), string(lifecycle.TaskProofSubmitted))
	})
	if err != nil {
		return nil, err
	}

	g.logger.Printf("📸 proof %s submitted for task %s (quality=%s)", p.ID, taskID, p.Quality)
	return p, nil
}

// Accept resolves the proof as accepted, clearing the task for completion.
func (g *Gate) Accept(ctx context.Context, taskID string) (*store.Proof, error) {
	return g.resolve(ctx, taskID, lifecycle.ProofAccepted, "")
}

// Reject resolves the proof as rejected and moves the task into DISPUTED for
// human review. Rejection requires a reason.
func (g *Gate) Reject(ctx context.Context, taskID, reason string) (*store.Proof, error) {
	if reason == "" {
		return nil, fault.New(fault.PreconditionFailed, "proof rejection requires a reason")
	}
	return g.resolve(ctx, taskID, lifecycle.ProofRejected, reason)
}

// Expire resolves a stale proof. Driven by the reconciliation job, not by
// user action.
func (g *Gate) Expire(ctx context.Context, taskID string) (*store.Proof, error) {
	return g.resolve(ctx, taskID, lifecycle.ProofExpired, "review window elapsed")
}

func (g *Gate) resolve(ctx context.Context, taskID string, to lifecycle.ProofState, reason string) (*store.Proof, error) {
	var resolved *store.Proof
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProofByTask(ctx, taskID)
		if err != nil {
			return err
		}
		if p == nil {
			return fault.New(fault.PreconditionFailed, "no proof submitted for task %s", taskID)
		}
		if err := lifecycle.AssertProofTransition(p.State, to); err != nil {
			return err
		}
		if err := tx.UpdateProofState(ctx, p.ID, string(p.State), string(to), reason); err != nil {
			return err
		}
		if to == lifecycle.ProofRejected {
			task, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			if task != nil && task.Status == lifecycle.TaskProofSubmitted {
				if err := tx.UpdateTaskStatus(ctx, taskID, string(task.Status), string(lifecycle.TaskDisputed)); err != nil {
					return err
				}
			}
		}
		p.State = to
		p.RejectReason = reason
		resolved = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Printf("proof for task %s resolved: %s", taskID, to)
	return resolved, nil
}

// Complete advances a task from PROOF_SUBMITTED to COMPLETED once its proof
// is accepted. This is the only forward path to completion; the money engine
// re-checks the same proof gate inside its own transaction before releasing.
func (g *Gate) Complete(ctx context.Context, taskID string) (*store.Task, error) {
	var completed *store.Task
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fault.New(fault.PreconditionFailed, "task %s not found", taskID)
		}
		if err := g.CanComplete(ctx, tx, taskID); err != nil {
			return err
		}
		if err := lifecycle.AssertTaskTransition(task.Status, lifecycle.TaskCompleted); err != nil {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, taskID, string(task.Status), string(lifecycle.TaskCompleted)); err != nil {
			return err
		}
		task.Status = lifecycle.TaskCompleted
		completed = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Printf("✅ task %s completed", taskID)
	return completed, nil
}

// CanComplete reports, as a fault, whether the task's proof clears it for
// completion and payout release.
func (g *Gate) CanComplete(ctx context.Context, tx store.Tx, taskID string) error {
	p, err := tx.GetProofByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if p == nil {
		return fault.New(fault.PreconditionFailed, "task %s has no proof submission", taskID)
	}
	if p.State != lifecycle.ProofAccepted {
		return fault.New(fault.PreconditionFailed, "task %s proof is %s, not accepted", taskID, p.State)
	}
	return nil
}
