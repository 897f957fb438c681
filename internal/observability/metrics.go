package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VaultLedger.
type Metrics struct {
	// --- Engine ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	EventsEmitted  *prometheus.CounterVec
	EngineSequence prometheus.Gauge

	// --- Vault aggregates ---
	VaultTotalDebt   *prometheus.GaugeVec
	VaultTotalShares *prometheus.GaugeVec
	Deleverages      *prometheus.CounterVec
	InsolvencyEvents *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	OutboundDrops      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten  prometheus.Counter
	PersistRecordsWritten *prometheus.CounterVec
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Publisher ---
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Commands rejected by validation",
		}, []string{"op"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_op_duration_seconds",
			Help:    "Time to apply a single command, external calls included",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_emitted_total",
			Help: "Events emitted by the engine",
		}, []string{"event_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_engine_sequence",
			Help: "Next global sequence number",
		}),

		// Vault aggregates
		VaultTotalDebt: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_debt_underlying",
			Help: "Outstanding primary debt magnitude per vault maturity",
		}, []string{"vault_id", "maturity"}),

		VaultTotalShares: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_shares",
			Help: "Outstanding vault shares per vault maturity",
		}, []string{"vault_id", "maturity"}),

		Deleverages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_deleverages_total",
			Help: "Deleverage operations executed",
		}, []string{"vault_id"}),

		InsolvencyEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_insolvency_events_total",
			Help: "Settlement shortfalls the insurance pool could not cover",
		}, []string{"vault_id"}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		OutboundDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_outbound_drops_total",
			Help: "Events dropped due to full outbound channel",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistRecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_records_written_total",
			Help: "Ledger records upserted to Postgres",
		}, []string{"table"}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Publisher
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_publish_errors_total",
			Help: "NATS publish errors",
		}, []string{"event_type"}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
