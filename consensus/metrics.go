package consensus

import "sync/atomic"

// Metrics holds the orchestrator's monotonically increasing counters. They
// start at zero at process start, are updated only by the session manager
// and verification path, and are read-only to external observers via
// Snapshot.
type Metrics struct {
	totalEvaluations           atomic.Int64
	consensusAchieved          atomic.Int64
	consensusFailed            atomic.Int64
	agentTimeouts              atomic.Int64
	duplicateMessages          atomic.Int64
	walletVerificationFailures atomic.Int64
	invalidSignatures          atomic.Int64
	replayDetections           atomic.Int64
	partialConsensusCount      atomic.Int64
	broadcastDiscoveries       atomic.Int64
}

// NewMetrics creates zeroed metrics.
func NewMetrics() *Metrics { return &Metrics{} }

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	TotalEvaluations           int64 `json:"total_evaluations"`
	ConsensusAchieved          int64 `json:"consensus_achieved"`
	ConsensusFailed            int64 `json:"consensus_failed"`
	AgentTimeouts              int64 `json:"agent_timeouts"`
	DuplicateMessages          int64 `json:"duplicate_messages"`
	WalletVerificationFailures int64 `json:"wallet_verification_failures"`
	InvalidSignatures          int64 `json:"invalid_signatures"`
	ReplayDetections           int64 `json:"replay_detections"`
	PartialConsensusCount      int64 `json:"partial_consensus_count"`
	BroadcastDiscoveries       int64 `json:"broadcast_discoveries"`
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalEvaluations:           m.totalEvaluations.Load(),
		ConsensusAchieved:          m.consensusAchieved.Load(),
		ConsensusFailed:            m.consensusFailed.Load(),
		AgentTimeouts:              m.agentTimeouts.Load(),
		DuplicateMessages:          m.duplicateMessages.Load(),
		WalletVerificationFailures: m.walletVerificationFailures.Load(),
		InvalidSignatures:          m.invalidSignatures.Load(),
		ReplayDetections:           m.replayDetections.Load(),
		PartialConsensusCount:      m.partialConsensusCount.Load(),
		BroadcastDiscoveries:       m.broadcastDiscoveries.Load(),
	}
}

// ErrorRate returns the fraction of evaluations that failed to reach
// consensus, for health reporting.
func (m *Metrics) ErrorRate() float64 {
	total := m.totalEvaluations.Load()
	if total == 0 {
		return 0
	}
	return float64(m.consensusFailed.Load()) / float64(total)
}
