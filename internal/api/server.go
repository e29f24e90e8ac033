// Package api exposes the core over REST/JSON for the mobile clients and the
// gateway webhook endpoint. The core never speaks HTTP; this package owns the
// fault-kind → status-code translation.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hustlexp/backend/internal/core"
	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/gateway"
)

// Server is the HTTP front of one core instance.
type Server struct {
	core   *core.Core
	router *mux.Router
	logger *log.Logger
}

// NewServer wires the routes.
func NewServer(c *core.Core) *Server {
	s := &Server{
		core:   c,
		router: mux.NewRouter(),
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Gateway webhooks. Signature verification happens here, before the
	// recovery pipeline sees anything.
	r.HandleFunc("/webhooks/stripe", s.handleWebhook).Methods("POST")

	// Cloud Tasks push target for durable jobs.
	r.HandleFunc("/internal/jobs/run", s.handleJobPush).Methods("POST")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	// Money events.
	api.HandleFunc("/tasks/{task_id}/escrow/hold", s.handleMoneyEvent("HOLD_ESCROW")).Methods("POST")
	api.HandleFunc("/tasks/{task_id}/escrow/release", s.handleMoneyEvent("RELEASE_PAYOUT")).Methods("POST")
	api.HandleFunc("/tasks/{task_id}/escrow/refund", s.handleMoneyEvent("REFUND_ESCROW")).Methods("POST")
	api.HandleFunc("/tasks/{task_id}/escrow/force-refund", s.handleMoneyEvent("FORCE_REFUND")).Methods("POST")

	// Proof lifecycle and task completion.
	api.HandleFunc("/tasks/{task_id}/proof", s.handleProofSubmit).Methods("POST")
	api.HandleFunc("/tasks/{task_id}/proof/accept", s.handleProofResolve("accept")).Methods("POST")
	api.HandleFunc("/tasks/{task_id}/proof/reject", s.handleProofResolve("reject")).Methods("POST")
	api.HandleFunc("/tasks/{task_id}/complete", s.handleTaskComplete).Methods("POST")

	// Read model.
	api.HandleFunc("/users/{user_id}/profile", s.handleProfile).Methods("GET")
	api.HandleFunc("/users/{user_id}/wallet", s.handleWallet).Methods("GET")

	// Authority introspection: what may the AI do here?
	api.HandleFunc("/authority/check", s.handleAuthorityCheck).Methods("GET")
}

// Run serves until the listener fails or the server is shut down.
func (s *Server) Run(port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Printf("🚀 listening on :%s", port)
	return srv.ListenAndServe()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "hustlexp-core",
	})
}

type moneyRequest struct {
	PaymentMethodID    string `json:"payment_method_id"`
	PosterID           string `json:"poster_id"`
	WorkerID           string `json:"worker_id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	DestinationAccount string `json:"destination_account"`
	Instant            bool   `json:"instant"`
	CallerID           string `json:"caller_id"`
	CallerIsAdmin      bool   `json:"caller_is_admin"`
	AIProposed         bool   `json:"ai_proposed"`
}

func (s *Server) handleMoneyEvent(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := mux.Vars(r)["task_id"]

		var req moneyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		res, err := s.core.Engine.Handle(r.Context(), taskID, moneyEvent(event), moneyParams(req))
		if err != nil && !fault.IsKind(err, fault.IdempotentReplay) {
			s.writeFault(w, err)
			return
		}

		status := http.StatusOK
		body := map[string]interface{}{
			"task_id": res.TaskID,
			"event":   string(res.Event),
			"state":   string(res.State),
			"replay":  res.Replay,
		}
		if res.RefundStatus != "" {
			body["refund_status"] = string(res.RefundStatus)
		}
		if res.Award != nil && res.Award.Applied > 0 {
			body["xp_awarded"] = res.Award.Applied
			body["level"] = res.Award.Level
		}
		writeJSON(w, status, body)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if err := gateway.VerifyWebhook(s.core.Config.Gateway.WebhookSecret, payload, sig, s.core.Config.Gateway.SignatureTolerance); err != nil {
		s.logger.Printf("⚠️ webhook signature rejected: %v", err)
		s.writeFault(w, err)
		return
	}

	ev, err := parseGatewayEvent(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// The pipeline never errors across this boundary; a 200 suppresses
	// gateway retries even when recovery itself failed and alerted.
	out := s.core.Pipeline.Handle(r.Context(), ev)
	writeJSON(w, http.StatusOK, map[string]string{
		"event_id": out.EventID,
		"action":   string(out.Action),
	})
}

func (s *Server) handleJobPush(w http.ResponseWriter, r *http.Request) {
	var j struct {
		ID      string            `json:"id"`
		Type    string            `json:"type"`
		TaskID  string            `json:"task_id"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.core.Runner.Process(r.Context(), jobFromPush(j.ID, j.Type, j.TaskID, j.Payload)); err != nil {
		// Non-2xx makes Cloud Tasks redeliver; handlers are idempotent.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type proofRequest struct {
	UserID       string `json:"user_id"`
	HasPhoto     bool   `json:"has_photo"`
	HasGeo       bool   `json:"has_geo"`
	HasTimestamp bool   `json:"has_timestamp"`
	Reason       string `json:"reason"`
}

func (s *Server) handleProofSubmit(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	p, err := s.core.Proofs.Submit(r.Context(), taskID, req.UserID, proofSubmission(req))
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"proof_id": p.ID,
		"state":    string(p.State),
		"quality":  string(p.Quality),
	})
}

func (s *Server) handleProofResolve(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := mux.Vars(r)["task_id"]
		var req proofRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		p, err := resolveProof(s, r, verb, taskID, req.Reason)
		if err != nil {
			s.writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"proof_id": p.ID,
			"state":    string(p.State),
		})
	}
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	task, err := s.core.Proofs.Complete(r.Context(), taskID)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	summary, err := s.core.ReadModel.Profile(r.Context(), userID)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	summary, err := s.core.ReadModel.Wallet(r.Context(), userID)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAuthorityCheck(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	subsystem := r.URL.Query().Get("subsystem")
	d := s.core.Authority.Validate(action, subsystem)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":        d.Allowed,
		"required_level": d.RequiredLevel.String(),
		"reason":         d.Reason,
	})
}

// ---------------------------------------------------------------------------
// Plumbing
// ---------------------------------------------------------------------------

// writeFault maps a fault kind onto the transport.
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.AuthorityViolation:
		status = http.StatusForbidden
	case fault.IllegalTransition, fault.PreconditionFailed, fault.ConcurrencyConflict:
		status = http.StatusConflict
	case fault.GatewayError:
		status = http.StatusBadGateway
	case fault.NegativeBalance, fault.Internal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"kind":  string(kind),
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func parseGatewayEvent(payload []byte) (ev recoveryEvent, err error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Metadata struct {
					TaskID   string `json:"task_id"`
					PosterID string `json:"poster_id"`
					WorkerID string `json:"worker_id"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ev, fmt.Errorf("malformed event payload: %w", err)
	}
	if raw.ID == "" || raw.Type == "" {
		return ev, fmt.Errorf("event payload missing id or type")
	}

	ev.ID = raw.ID
	ev.Type = raw.Type
	ev.TaskID = raw.Data.Object.Metadata.TaskID
	ev.PosterID = raw.Data.Object.Metadata.PosterID
	ev.WorkerID = raw.Data.Object.Metadata.WorkerID
	ev.Amount = raw.Data.Object.Amount
	switch raw.Type {
	case "payment_intent.succeeded":
		ev.PaymentIntentID = raw.Data.Object.ID
	case "transfer.created":
		ev.TransferID = raw.Data.Object.ID
	}
	return ev, nil
}
