package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	verifications       *prometheus.CounterVec
	chainProbes         *prometheus.CounterVec
	ledgerRegistrations *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	errors              prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "quest_verify_verifications_total",
				Help: "Verification attempts by task type and result code",
			}, []string{"task_type", "code"}),
			chainProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "quest_verify_chain_probes_total",
				Help: "Per-chain receipt probes by outcome",
			}, []string{"chain_id", "outcome"}),
			ledgerRegistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "quest_verify_ledger_registrations_total",
				Help: "Replay guard registrations by status",
			}, []string{"status"}),
			notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "quest_verify_notifications_total",
				Help: "Sink notifications by sink and outcome",
			}, []string{"sink", "outcome"}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "quest_verify_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.verifications,
			metrics.chainProbes,
			metrics.ledgerRegistrations,
			metrics.notifications,
			metrics.errors,
		)
	})
	return metrics
}

// Verification counts a finished verification. An empty code means success.
func (m *Metrics) Verification(taskType, code string) {
	if m != nil {
		if code == "" {
			code = "OK"
		}
		m.verifications.WithLabelValues(taskType, code).Inc()
	}
}

// ChainProbe counts a single-chain receipt lookup.
func (m *Metrics) ChainProbe(chainID uint64, found bool) {
	if m != nil {
		outcome := "not_found"
		if found {
			outcome = "found"
		}
		m.chainProbes.WithLabelValues(strconv.FormatUint(chainID, 10), outcome).Inc()
	}
}

// LedgerRegistration counts a replay guard outcome.
func (m *Metrics) LedgerRegistration(status string) {
	if m != nil {
		m.ledgerRegistrations.WithLabelValues(status).Inc()
	}
}

// Notification counts a sink delivery attempt.
func (m *Metrics) Notification(sinkID string, ok bool) {
	if m != nil {
		outcome := "sent"
		if !ok {
			outcome = "failed"
		}
		m.notifications.WithLabelValues(sinkID, outcome).Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
