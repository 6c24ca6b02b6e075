package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lending"

// Metrics holds the settlement and lifecycle counters.
type Metrics struct {
	// Settlements applied to the ledger, by channel
	SettlementsApplied *prometheus.CounterVec
	// Settlements that were already applied, by channel
	SettlementsDuplicate *prometheus.CounterVec
	// Settlements that failed, by channel and error kind
	SettlementFailures *prometheus.CounterVec
	// Webhook deliveries, by event type and outcome
	WebhookEvents *prometheus.CounterVec
	// Application status transitions, by target status
	ApplicationTransitions *prometheus.CounterVec
	// Accounts moved to overdue or defaulted by the sweep
	OverdueAccounts   prometheus.Counter
	DefaultedAccounts prometheus.Counter
	// Gateway call latency, by operation
	GatewayDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SettlementsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlements_applied_total",
			Help:      "Settlements applied to a loan account",
		}, []string{"channel"}),
		SettlementsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlements_duplicate_total",
			Help:      "Settlements skipped because the payment was already applied",
		}, []string{"channel"}),
		SettlementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlement_failures_total",
			Help:      "Settlements that could not be applied",
		}, []string{"channel", "kind"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Gateway webhook deliveries",
		}, []string{"event_type", "outcome"}),
		ApplicationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "application",
			Name:      "transitions_total",
			Help:      "Loan application status transitions",
		}, []string{"status"}),
		OverdueAccounts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overdue",
			Name:      "accounts_flagged_total",
			Help:      "Accounts found with overdue installments by the sweep",
		}),
		DefaultedAccounts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overdue",
			Name:      "accounts_defaulted_total",
			Help:      "Accounts moved to defaulted by the sweep",
		}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Payment gateway call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.SettlementsApplied,
		m.SettlementsDuplicate,
		m.SettlementFailures,
		m.WebhookEvents,
		m.ApplicationTransitions,
		m.OverdueAccounts,
		m.DefaultedAccounts,
		m.GatewayDuration,
	)
	return m
}

// NewUnregistered returns collectors that are not exposed anywhere, for
// tests and tools that do not serve /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
