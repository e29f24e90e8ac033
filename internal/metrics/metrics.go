// Package metrics exposes the core's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the money and trust core.
type Metrics struct {
	// Money engine
	MoneyEvents       *prometheus.CounterVec
	MoneyEventLatency *prometheus.HistogramVec
	SagaCompensations *prometheus.CounterVec

	// Webhook recovery
	WebhookEvents     *prometheus.CounterVec
	WebhookRecoveries *prometheus.CounterVec

	// Rewards
	XPAwarded     *prometheus.CounterVec
	TierUpgrades  prometheus.Counter
	BadgesAwarded *prometheus.CounterVec

	// Faults and alerts
	Faults       *prometheus.CounterVec
	AlertsFired  *prometheus.CounterVec
	ReplaysShort prometheus.Counter
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against a caller-supplied registry; tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MoneyEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "money_events_total",
				Help: "Money state engine events processed",
			},
			[]string{"event", "outcome"}, // outcome: applied, replay, error
		),
		MoneyEventLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "money_event_duration_seconds",
				Help:    "End-to-end duration of one money event, gateway calls included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		SagaCompensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_compensations_total",
				Help: "Compensating actions executed after gateway failures",
			},
			[]string{"event", "result"}, // result: ok, failed
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Gateway webhook events received",
			},
			[]string{"type", "outcome"}, // outcome: recovered, noop, replay, error
		),
		WebhookRecoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_recoveries_total",
				Help: "State recoveries driven by the webhook pipeline",
			},
			[]string{"kind"}, // kind: hold, release
		),
		XPAwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_awarded_total",
				Help: "Final XP amounts appended to the experience ledger",
			},
			[]string{"category"},
		),
		TierUpgrades: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trust_tier_upgrades_total",
				Help: "Trust ledger tier upgrades appended",
			},
		),
		BadgesAwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "badges_awarded_total",
				Help: "Badge ledger rows appended",
			},
			[]string{"badge"},
		),
		Faults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_faults_total",
				Help: "Tagged faults returned across the core boundary",
			},
			[]string{"kind"},
		),
		AlertsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_fired_total",
				Help: "Operator alerts fired by type",
			},
			[]string{"type"},
		),
		ReplaysShort: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotent_replays_total",
				Help: "Events and actions short-circuited as already applied",
			},
		),
	}
}
