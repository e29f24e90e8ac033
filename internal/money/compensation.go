package money

import (
	"context"
	"log"
	"time"

	"github.com/hustlexp/backend/internal/alerts"
)

// compensation is one undo paired ahead of time with the gateway call that
// created the side effect.
type compensation struct {
	description string
	undo        func(ctx context.Context) error
}

// compStack collects compensations for a single saga run. On gateway failure
// the stack unwinds in LIFO order; on success it is simply discarded.
type compStack struct {
	taskID  string
	event   Event
	entries []compensation
	sink    *alerts.Sink
	logger  *log.Logger
}

const (
	compTimeout    = 5 * time.Second
	compMaxRetries = 3
	compRetryDelay = 250 * time.Millisecond
)

func newCompStack(taskID string, event Event, sink *alerts.Sink, logger *log.Logger) *compStack {
	return &compStack{taskID: taskID, event: event, sink: sink, logger: logger}
}

func (s *compStack) push(description string, undo func(ctx context.Context) error) {
	s.entries = append(s.entries, compensation{description: description, undo: undo})
	s.logger.Printf("📌 compensation armed for task %s: %s (depth=%d)", s.taskID, description, len(s.entries))
}

// unwind executes all compensations in LIFO order with per-entry timeout and
// retries. Returns true iff every undo succeeded; failures fire an operator
// alert and are reported, never swallowed silently.
func (s *compStack) unwind(ctx context.Context) bool {
	if len(s.entries) == 0 {
		return true
	}
	s.logger.Printf("🔄 unwinding %d compensations for task %s (%s)", len(s.entries), s.taskID, s.event)

	allOK := true
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !s.runOne(ctx, s.entries[i]) {
			allOK = false
		}
	}
	s.entries = nil
	return allOK
}

func (s *compStack) runOne(ctx context.Context, c compensation) bool {
	var lastErr error
	for attempt := 0; attempt <= compMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(compRetryDelay)
			s.logger.Printf("🔁 retry %d/%d for compensation on task %s: %s",
				attempt, compMaxRetries, s.taskID, c.description)
		}
		cctx, cancel := context.WithTimeout(ctx, compTimeout)
		err := c.undo(cctx)
		cancel()
		if err == nil {
			s.logger.Printf("✅ compensation succeeded for task %s: %s", s.taskID, c.description)
			return true
		}
		lastErr = err
	}

	s.logger.Printf("❌ compensation exhausted for task %s: %s — %v", s.taskID, c.description, lastErr)
	s.sink.Fire(alerts.TypeCompensationFailed, "saga compensation failed after retries", map[string]string{
		"task_id":      s.taskID,
		"event":        string(s.event),
		"compensation": c.description,
		"error":        lastErr.Error(),
	})
	return false
}
