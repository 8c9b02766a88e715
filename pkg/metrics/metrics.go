package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft role/term/log metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = not)",
		},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_raft_current_term",
			Help: "Current Raft term observed by this node",
		},
	)

	RaftRole = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_raft_role",
			Help: "Current Raft role (1 for the active role, 0 otherwise), labeled by role",
		},
		[]string{"role"},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_raft_log_index",
			Help: "Length of this node's Raft log",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_raft_commit_index",
			Help: "Highest Raft log index known committed",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_raft_applied_index",
			Help: "Highest Raft log index applied to the state machine",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_raft_peers_total",
			Help: "Total number of configured Raft peers",
		},
	)

	RaftElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_raft_elections_total",
			Help: "Total number of times this node became leader",
		},
	)

	RaftCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_raft_commands_total",
			Help: "Total number of client commands submitted, labeled by outcome",
		},
		[]string{"outcome"},
	)

	// Latency histograms
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed log entry to the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_raft_commit_duration_seconds",
			Help:    "Time from client write submission to commitIndex advancing past it",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransportRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_transport_rpc_duration_seconds",
			Help:    "RPC round-trip duration, labeled by RPC kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TransportRPCFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_transport_rpc_failures_total",
			Help: "Total transport RPC failures, labeled by RPC kind and reason",
		},
		[]string{"kind", "reason"},
	)

	StorageWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_storage_write_duration_seconds",
			Help:    "Persistent store write latency, labeled by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ClusterUptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_cluster_uptime_seconds",
			Help: "Seconds since this node's cluster service was started",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RaftIsLeader,
		RaftTerm,
		RaftRole,
		RaftLogIndex,
		RaftCommitIndex,
		RaftAppliedIndex,
		RaftPeers,
		RaftElectionsTotal,
		RaftCommandsTotal,
		RaftApplyDuration,
		RaftCommitDuration,
		TransportRPCDuration,
		TransportRPCFailuresTotal,
		StorageWriteDuration,
		ClusterUptimeSeconds,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
