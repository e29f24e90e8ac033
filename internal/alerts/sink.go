// Package alerts is the one-way operator notification sink. Every alert is
// logged first; channel delivery is fire-and-forget over a bounded queue and
// never blocks a caller. A full queue drops delivery, not the log line.
package alerts

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Alert types the core fires. Callers may fire additional ad-hoc types; the
// constants exist so tests and dashboards can match on them.
const (
	TypeCompensationFailed  = "COMPENSATION_FAILED"
	TypeSagaFailed          = "SAGA_STEP_FAILED"
	TypeNegativeBalance     = "NEGATIVE_BALANCE"
	TypeAppendOnlyViolation = "APPEND_ONLY_VIOLATION"
	TypeLedgerDrift         = "LEDGER_DRIFT_DETECTED"
	TypeWebhookFailure      = "WEBHOOK_RECOVERY_FAILURE"
	TypeOrderingViolation   = "ORDERING_VIOLATION"
)

// Alert is one operator notification.
type Alert struct {
	Type     string
	Message  string
	Metadata map[string]string
	FiredAt  time.Time
}

// Channel delivers alerts somewhere external (pager, chat, email bridge).
// Implementations may block; the sink isolates callers from that.
type Channel interface {
	Deliver(ctx context.Context, a Alert) error
	Name() string
}

// Sink fans alerts out to a primary channel with a fallback. Safe for
// concurrent use; Fire never blocks.
type Sink struct {
	primary  Channel
	fallback Channel

	queue   chan Alert
	dropped atomic.Int64
	logger  *log.Logger

	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

const queueDepth = 256
const deliverTimeout = 5 * time.Second

// NewSink builds a sink over the given channels. Either may be nil; a sink
// with no channels still logs every alert.
func NewSink(primary, fallback Channel, workers int) *Sink {
	if workers <= 0 {
		workers = 2
	}
	s := &Sink{
		primary:  primary,
		fallback: fallback,
		queue:    make(chan Alert, queueDepth),
		logger:   log.New(log.Writer(), "[ALERT] ", log.LstdFlags),
		closing:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Fire logs the alert and queues it for delivery. Never blocks: a full
// queue drops the delivery and counts it.
func (s *Sink) Fire(alertType, message string, metadata map[string]string) {
	a := Alert{Type: alertType, Message: message, Metadata: metadata, FiredAt: time.Now().UTC()}
	s.logger.Printf("🚨 %s: %s %v", a.Type, a.Message, a.Metadata)

	select {
	case s.queue <- a:
	default:
		s.dropped.Add(1)
		s.logger.Printf("⚠️ alert queue full, delivery dropped (type=%s, dropped=%d)", a.Type, s.dropped.Load())
	}
}

// Dropped reports how many deliveries were dropped on queue overflow.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close stops the workers after draining the queue.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.closing)
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for a := range s.queue {
		s.deliver(a)
	}
}

func (s *Sink) deliver(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if s.primary != nil {
		if err := s.primary.Deliver(ctx, a); err == nil {
			return
		} else {
			s.logger.Printf("⚠️ primary channel %s failed for %s: %v", s.primary.Name(), a.Type, err)
		}
	}
	if s.fallback != nil {
		if err := s.fallback.Deliver(ctx, a); err != nil {
			s.logger.Printf("❌ fallback channel %s failed for %s: %v", s.fallback.Name(), a.Type, err)
		}
	}
}
