package message

import "time"

// VerdictKind is an agent's coverage decision for a claim.
type VerdictKind string

const (
	VerdictCovered         VerdictKind = "COVERED"
	VerdictNotCovered      VerdictKind = "NOT_COVERED"
	VerdictPartialCoverage VerdictKind = "PARTIAL_COVERAGE"
	VerdictRequiresReview  VerdictKind = "REQUIRES_REVIEW"
)

// Valid reports whether the kind is part of the catalog.
func (k VerdictKind) Valid() bool {
	switch k {
	case VerdictCovered, VerdictNotCovered, VerdictPartialCoverage, VerdictRequiresReview:
		return true
	}
	return false
}

// Monetary reports whether the kind implies a monetary outcome.
func (k VerdictKind) Monetary() bool {
	return k == VerdictCovered || k == VerdictPartialCoverage
}

// Verdict is one agent's independent coverage decision. It is immutable once
// signed: the signature covers the fields listed in Signature.SignedFields.
type Verdict struct {
	AgentID             string      `json:"agent_id"`
	AgentType           string      `json:"agent_type"`
	Verdict             VerdictKind `json:"verdict"`
	CoverageAmount      *float64    `json:"coverage_amount,omitempty"`
	PrimaryReason       string      `json:"primary_reason"`
	ConfidenceScore     float64     `json:"confidence_score"`
	RequiresHumanReview bool        `json:"requires_human_review"`
	ProcessingTimeMS    int64       `json:"processing_time_ms"`
	ModelName           string      `json:"model_name,omitempty"`
	Timestamp           time.Time   `json:"timestamp"`
	Signature           *Signature  `json:"signature,omitempty"`
}

// Signature authenticates a verdict. SignedFields records exactly which
// fields entered the canonical payload so a verifier can rebuild it without
// prior knowledge of the signer's field set. Field order does not affect the
// digest; the payload is serialized with sorted keys.
type Signature struct {
	Value         string   `json:"value"`
	Algorithm     string   `json:"algorithm"`
	SignedFields  []string `json:"signed_fields"`
	SignerAddress string   `json:"signer_address"`
}

// ConsensusResult is the combined decision over the accepted verdicts of one
// session. FinalVerdict is nil when the agreement ratio fell short of the
// configured threshold.
type ConsensusResult struct {
	ClaimID                 string       `json:"claim_id"`
	FinalVerdict            *VerdictKind `json:"final_verdict,omitempty"`
	AgreementRatio          float64      `json:"agreement_ratio"`
	AgentVerdicts           []Verdict    `json:"agent_verdicts"`
	DissentingAgents        []string     `json:"dissenting_agents"`
	ConsensusCoverageAmount *float64     `json:"consensus_coverage_amount,omitempty"`
	ProcessingTimeMS        int64        `json:"processing_time_ms"`
	EvaluationTimestamp     time.Time    `json:"evaluation_timestamp"`
}
