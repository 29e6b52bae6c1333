// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Wallet metrics
	WalletsCreated *prometheus.CounterVec
	VaultFailures  prometheus.Counter

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionRejections  *prometheus.CounterVec
	SessionsFinished   *prometheus.CounterVec
	SessionsExpired    prometheus.Counter

	// Builder metrics
	BuildDuration *prometheus.HistogramVec
	BuildErrors   *prometheus.CounterVec

	// Relay metrics
	RelayAttempts    *prometheus.CounterVec
	RelaySubmissions *prometheus.CounterVec
	RelayDuration    prometheus.Histogram
	SimulationsRun   prometheus.Counter
	BreakerState     prometheus.Gauge

	// Hub metrics
	HubConnections     prometheus.Gauge
	HubSubscriptions   prometheus.Gauge
	HubEventsDelivered *prometheus.CounterVec
	HubDisconnects     *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "solana_action_relay"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Wallet metrics
		WalletsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "created_total",
			Help:      "Total number of wallets taken into custody by origin",
		}, []string{"origin"}),
		VaultFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "vault_failures_total",
			Help:      "Total number of secrets that could not be decrypted",
		}),

		// Session metrics
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total number of accepted session transitions by target stage",
		}, []string{"kind", "stage"}),
		SessionRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejected_inputs_total",
			Help:      "Total number of inputs re-prompted by stage",
		}, []string{"kind", "stage"}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total number of sessions that reached a terminal stage",
		}, []string{"kind", "stage"}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Total number of sessions discarded after the idle timeout",
		}),

		// Builder metrics
		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "build_duration_seconds",
			Help:      "Unsigned transaction build latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		BuildErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "errors_total",
			Help:      "Total number of failed builds by reason",
		}, []string{"kind", "reason"}),

		// Relay metrics
		RelayAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "attempts_total",
			Help:      "Total number of ledger submission attempts by outcome",
		}, []string{"outcome"}),
		RelaySubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "submissions_total",
			Help:      "Total number of Submit calls by final outcome",
		}, []string{"outcome"}),
		RelayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "submission_duration_seconds",
			Help:      "Submit latency including retries and simulation",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SimulationsRun: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "simulations_total",
			Help:      "Total number of diagnostic simulations run",
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "breaker_state",
			Help:      "Ledger circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		// Hub metrics
		HubConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Number of live client connections",
		}),
		HubSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "watched_wallets",
			Help:      "Number of wallets with at least one subscriber",
		}),
		HubEventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_delivered_total",
			Help:      "Total number of events queued to connections by kind",
		}, []string{"kind"}),
		HubDisconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "disconnects_total",
			Help:      "Total number of removed connections by reason",
		}, []string{"reason"}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordWalletCreated increments the wallets created counter.
func RecordWalletCreated(origin string) {
	DefaultMetrics.WalletsCreated.WithLabelValues(origin).Inc()
}

// RecordVaultFailure increments the vault failures counter.
func RecordVaultFailure() {
	DefaultMetrics.VaultFailures.Inc()
}

// RecordSessionTransition records an accepted transition into stage.
func RecordSessionTransition(kind, stage string) {
	DefaultMetrics.SessionTransitions.WithLabelValues(kind, stage).Inc()
}

// RecordSessionRejection records an input that was re-prompted at stage.
func RecordSessionRejection(kind, stage string) {
	DefaultMetrics.SessionRejections.WithLabelValues(kind, stage).Inc()
}

// RecordSessionFinished records a session reaching a terminal stage.
func RecordSessionFinished(kind, stage string) {
	DefaultMetrics.SessionsFinished.WithLabelValues(kind, stage).Inc()
}

// RecordSessionExpired increments the expired sessions counter.
func RecordSessionExpired() {
	DefaultMetrics.SessionsExpired.Inc()
}

// RecordBuild records build latency and, on failure, the reason.
func RecordBuild(kind string, seconds float64, reason string) {
	DefaultMetrics.BuildDuration.WithLabelValues(kind).Observe(seconds)
	if reason != "" {
		DefaultMetrics.BuildErrors.WithLabelValues(kind, reason).Inc()
	}
}

// RecordRelayAttempt records a single ledger submission attempt.
func RecordRelayAttempt(outcome string) {
	DefaultMetrics.RelayAttempts.WithLabelValues(outcome).Inc()
}

// RecordRelaySubmission records the final outcome of a Submit call.
func RecordRelaySubmission(outcome string, seconds float64) {
	DefaultMetrics.RelaySubmissions.WithLabelValues(outcome).Inc()
	DefaultMetrics.RelayDuration.Observe(seconds)
}

// RecordSimulation increments the simulations counter.
func RecordSimulation() {
	DefaultMetrics.SimulationsRun.Inc()
}

// UpdateBreakerState sets the circuit breaker gauge.
func UpdateBreakerState(state int) {
	DefaultMetrics.BreakerState.Set(float64(state))
}

// UpdateHubSize sets the connection and watched wallet gauges.
func UpdateHubSize(connections, wallets int) {
	DefaultMetrics.HubConnections.Set(float64(connections))
	DefaultMetrics.HubSubscriptions.Set(float64(wallets))
}

// RecordHubDelivery records an event queued to a connection.
func RecordHubDelivery(kind string) {
	DefaultMetrics.HubEventsDelivered.WithLabelValues(kind).Inc()
}

// RecordHubDisconnect records a removed connection.
func RecordHubDisconnect(reason string) {
	DefaultMetrics.HubDisconnects.WithLabelValues(reason).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
