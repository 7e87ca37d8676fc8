package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Clawboard.
type Metrics struct {
	// --- Command processing ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	EventsEmitted    *prometheus.CounterVec
	StateHashDur     prometheus.Histogram
	CoreSequence     prometheus.Gauge

	// --- Economics ---
	CirculatingSupply prometheus.Gauge
	TotalBurned       prometheus.Gauge
	ReserveBalance    prometheus.Gauge
	AgentCount        prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion / publishing ---
	IngestToApply   *prometheus.HistogramVec
	IngestMalformed *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistStateRows     prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Recovery ---
	RecoveryStateRows prometheus.Gauge
	RecoveryDuration  prometheus.Gauge

	// --- Snapshots ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer in the service, a fresh registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Command processing
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_core_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_core_commands_rejected_total",
			Help: "Commands rejected (duplicate or error code)",
		}, []string{"command", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claw_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_core_events_emitted_total",
			Help: "Events emitted by committed commands",
		}, []string{"event_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "claw_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_core_sequence",
			Help: "Current global event sequence number",
		}),

		// Economics (float approximations of 18-decimal amounts, in whole tokens)
		CirculatingSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_token_circulating_supply",
			Help: "Circulating supply in whole tokens",
		}),

		TotalBurned: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_token_total_burned",
			Help: "Lifetime burned supply in whole tokens",
		}),

		ReserveBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_vault_reserve_balance",
			Help: "Vault reserve in whole reserve units",
		}),

		AgentCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_registry_agents",
			Help: "Registered agents",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claw_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claw_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claw_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/tier2)",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "claw_dedup_tier2_duration_seconds",
			Help:    "Tier-2 dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_dedup_tier2_errors_total",
			Help: "Tier-2 dedup lookups that failed",
		}),

		// Ingestion / publishing
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claw_ingest_to_apply_seconds",
			Help:    "NATS receive to engine apply complete",
			Buckets: ingestBuckets,
		}, []string{"command"}),

		IngestMalformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_ingest_malformed_total",
			Help: "Inbound commands that failed to parse",
		}, []string{"subject"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_events_published_total",
			Help: "Events published to the outbound broker",
		}, []string{"backend"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_publish_errors_total",
			Help: "Outbound publish failures",
		}, []string{"backend"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistStateRows: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_persist_state_rows_total",
			Help: "State rows upserted or deleted in Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "claw_persist_batch_size",
			Help:    "Outputs per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "claw_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Recovery
		RecoveryStateRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_recovery_state_rows",
			Help: "State rows loaded on startup",
		}),

		RecoveryDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_recovery_duration_seconds",
			Help: "Total recovery time",
		}),

		// Snapshots
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "claw_snapshot_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "claw_snapshot_duration_seconds",
			Help:    "Snapshot capture and write duration",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "claw_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claw_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claw_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
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
