// Package api provides Prometheus metrics and the operational HTTP surface
// for the BioVault orchestrator.
package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gordonkoehn/BioVault/consensus"
)

// Source supplies the exporter with live orchestrator state. All funcs must
// be safe for concurrent use; nil funcs report zero.
type Source struct {
	Snapshot         func() consensus.MetricsSnapshot
	ActiveSessions   func() int
	RegisteredAgents func() int
}

// Exporter bridges the orchestrator's internal counters into Prometheus. It
// reads a fresh snapshot on every scrape instead of double-counting through
// parallel counters.
type Exporter struct {
	src Source

	totalEvaluations     *prometheus.Desc
	consensusAchieved    *prometheus.Desc
	consensusFailed      *prometheus.Desc
	agentTimeouts        *prometheus.Desc
	duplicateMessages    *prometheus.Desc
	walletFailures       *prometheus.Desc
	invalidSignatures    *prometheus.Desc
	replayDetections     *prometheus.Desc
	partialConsensus     *prometheus.Desc
	broadcastDiscoveries *prometheus.Desc

	activeSessions   *prometheus.Desc
	registeredAgents *prometheus.Desc
}

// NewExporter creates an exporter under the given namespace.
func NewExporter(namespace string, src Source) *Exporter {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Exporter{
		src:                  src,
		totalEvaluations:     desc("evaluations_total", "Total consensus evaluations started"),
		consensusAchieved:    desc("consensus_achieved_total", "Evaluations that reached the agreement threshold"),
		consensusFailed:      desc("consensus_failed_total", "Evaluations that fell short of the agreement threshold"),
		agentTimeouts:        desc("agent_timeouts_total", "Sessions closed by the collection timeout"),
		duplicateMessages:    desc("duplicate_messages_total", "Inbound messages dropped by nonce deduplication"),
		walletFailures:       desc("wallet_verification_failures_total", "Messages dropped for sender identity mismatch"),
		invalidSignatures:    desc("invalid_signatures_total", "Verdicts dropped for signature verification failure"),
		replayDetections:     desc("replay_detections_total", "Verdicts dropped as signature replays"),
		partialConsensus:     desc("partial_consensus_total", "Sessions evaluated from partial results after timeout"),
		broadcastDiscoveries: desc("broadcast_discoveries_total", "Agent discovery broadcasts sent"),
		activeSessions:       desc("active_sessions", "Currently open consensus sessions"),
		registeredAgents:     desc("registered_agents", "Currently registered evaluator agents"),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.totalEvaluations
	ch <- e.consensusAchieved
	ch <- e.consensusFailed
	ch <- e.agentTimeouts
	ch <- e.duplicateMessages
	ch <- e.walletFailures
	ch <- e.invalidSignatures
	ch <- e.replayDetections
	ch <- e.partialConsensus
	ch <- e.broadcastDiscoveries
	ch <- e.activeSessions
	ch <- e.registeredAgents
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	var snap consensus.MetricsSnapshot
	if e.src.Snapshot != nil {
		snap = e.src.Snapshot()
	}

	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(e.totalEvaluations, snap.TotalEvaluations)
	counter(e.consensusAchieved, snap.ConsensusAchieved)
	counter(e.consensusFailed, snap.ConsensusFailed)
	counter(e.agentTimeouts, snap.AgentTimeouts)
	counter(e.duplicateMessages, snap.DuplicateMessages)
	counter(e.walletFailures, snap.WalletVerificationFailures)
	counter(e.invalidSignatures, snap.InvalidSignatures)
	counter(e.replayDetections, snap.ReplayDetections)
	counter(e.partialConsensus, snap.PartialConsensusCount)
	counter(e.broadcastDiscoveries, snap.BroadcastDiscoveries)

	gauge := func(d *prometheus.Desc, f func() int) {
		var v int
		if f != nil {
			v = f()
		}
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	gauge(e.activeSessions, e.src.ActiveSessions)
	gauge(e.registeredAgents, e.src.RegisteredAgents)
}

// Metrics holds the directly instrumented metrics of the HTTP/session layer.
type Metrics struct {
	SessionLatency    prometheus.Histogram
	SessionsByOutcome *prometheus.CounterVec
}

// NewMetrics creates session metrics registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of consensus sessions",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SessionsByOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_by_outcome_total",
			Help:      "Finished sessions by outcome",
		}, []string{"outcome"}),
	}
}

// ConsensusCompleted implements consensus.Observer.
func (m *Metrics) ConsensusCompleted(_ string, achieved bool, duration time.Duration) {
	m.SessionLatency.Observe(duration.Seconds())
	outcome := "failed"
	if achieved {
		outcome = "achieved"
	}
	m.SessionsByOutcome.WithLabelValues(outcome).Inc()
}
