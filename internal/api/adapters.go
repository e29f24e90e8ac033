package api

import (
	"net/http"

	"github.com/hustlexp/backend/internal/money"
	"github.com/hustlexp/backend/internal/proof"
	"github.com/hustlexp/backend/internal/recovery"
	"github.com/hustlexp/backend/internal/store"
)

type recoveryEvent = recovery.GatewayEvent

func moneyEvent(e string) money.Event { return money.Event(e) }

func moneyParams(req moneyRequest) money.Params {
	return money.Params{
		PaymentMethodID:    req.PaymentMethodID,
		PosterID:           req.PosterID,
		WorkerID:           req.WorkerID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		DestinationAccount: req.DestinationAccount,
		Instant:            req.Instant,
		CallerID:           req.CallerID,
		CallerIsAdmin:      req.CallerIsAdmin,
		AIProposed:         req.AIProposed,
	}
}

func proofSubmission(req proofRequest) proof.Submission {
	return proof.Submission{
		HasPhoto:     req.HasPhoto,
		HasGeo:       req.HasGeo,
		HasTimestamp: req.HasTimestamp,
	}
}

func jobFromPush(id, typ, taskID string, payload map[string]string) store.Job {
	return store.Job{ID: id, Type: typ, TaskID: taskID, Payload: payload}
}

func resolveProof(s *Server, r *http.Request, verb, taskID, reason string) (*store.Proof, error) {
	if verb == "accept" {
		return s.core.Proofs.Accept(r.Context(), taskID)
	}
	return s.core.Proofs.Reject(r.Context(), taskID, reason)
}
