package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the process-wide protocol version. Messages carrying any
// other version are rejected before further processing.
const SchemaVersion = "1.0.0"

// Kind identifies a message type on the wire.
type Kind string

// The complete message catalog. Decode matches these exhaustively; there is
// no partial compatibility path for unknown kinds.
const (
	KindAgentRegistration Kind = "agent_registration"
	KindAgentDiscovery    Kind = "agent_discovery"
	KindAgentList         Kind = "agent_list"
	KindClaimEvaluation   Kind = "claim_evaluation"
	KindVerdictResponse   Kind = "verdict_response"
	KindConsensusRequest  Kind = "consensus_request"
	KindConsensusResponse Kind = "consensus_response"
	KindHealthCheck       Kind = "health_check"
	KindHealthResponse    Kind = "health_response"
	KindAgentPing         Kind = "agent_ping"
	KindAgentPong         Kind = "agent_pong"
)

// Base carries the fields common to every message: the schema version gate,
// a human-diagnosable message ID, the deduplication nonce, and a timestamp.
// A nonce identifies one logical send; retransmissions of the same logical
// message reuse it, so a receiver that has seen the nonce must treat the
// message as a duplicate and perform no side effects.
type Base struct {
	SchemaVersion string    `json:"schema_version"`
	MessageID     string    `json:"message_id"`
	Nonce         string    `json:"nonce"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewBase creates message metadata with a fresh nonce and a message ID of the
// form "<prefix>_<unix-ms>_<nonce-head>".
func NewBase(prefix string) Base {
	nonce := uuid.NewString()
	return Base{
		SchemaVersion: SchemaVersion,
		MessageID:     fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), nonce[:8]),
		Nonce:         nonce,
		Timestamp:     time.Now().UTC(),
	}
}

// Meta returns the shared message metadata.
func (b *Base) Meta() *Base { return b }

func (b *Base) sealed() {}

// Message is the closed union over the message catalog. Only types in this
// package implement it.
type Message interface {
	Kind() Kind
	Meta() *Base
	sealed()
}

// AgentRegistration announces an evaluator agent to the orchestrator. It is
// accepted only when the transport-attested sender equals AgentAddress.
type AgentRegistration struct {
	Base
	AgentID                  string   `json:"agent_id"`
	AgentAddress             string   `json:"agent_address"`
	Endpoint                 string   `json:"endpoint,omitempty"`
	AgentType                string   `json:"agent_type"`
	LLMBackend               string   `json:"llm_backend"`
	Capabilities             []string `json:"capabilities"`
	MaxConcurrentEvaluations int      `json:"max_concurrent_evaluations"`
}

func (*AgentRegistration) Kind() Kind { return KindAgentRegistration }

// AgentDiscovery asks for agents matching a set of required capabilities.
type AgentDiscovery struct {
	Base
	RequesterAddress     string   `json:"requester_address"`
	RequiredCapabilities []string `json:"required_capabilities"`
	TimeoutSeconds       int      `json:"timeout_seconds"`
}

func (*AgentDiscovery) Kind() Kind { return KindAgentDiscovery }

// AgentList answers a discovery request with the matching registrations.
type AgentList struct {
	Base
	Agents              []AgentRegistration `json:"agents"`
	TotalAgents         int                 `json:"total_agents"`
	OrchestratorAddress string              `json:"orchestrator_address"`
	RequestMessageID    string              `json:"request_message_id"`
}

func (*AgentList) Kind() Kind { return KindAgentList }

// ClaimEvaluation asks one agent for an independent verdict on a claim. The
// document references and decryption material are opaque to the orchestrator.
type ClaimEvaluation struct {
	Base
	ClaimID          string `json:"claim_id"`
	PolicyPath       string `json:"policy_path"`
	InvoicePath      string `json:"invoice_path"`
	DecryptionKey    string `json:"decryption_key"`
	RequesterAddress string `json:"requester_address"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

func (*ClaimEvaluation) Kind() Kind { return KindClaimEvaluation }

// VerdictResponse returns an agent's verdict, or an error outcome, for one
// evaluation request.
type VerdictResponse struct {
	Base
	ClaimID          string   `json:"claim_id"`
	RequestMessageID string   `json:"request_message_id"`
	Verdict          *Verdict `json:"verdict,omitempty"`
	Success          bool     `json:"success"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	ErrorType        string   `json:"error_type,omitempty"`
	AgentAddress     string   `json:"agent_address"`
}

func (*VerdictResponse) Kind() Kind { return KindVerdictResponse }

// ConsensusRequest asks the orchestrator to evaluate a claim across all
// registered agents and combine the verdicts.
type ConsensusRequest struct {
	Base
	ClaimID            string  `json:"claim_id"`
	PolicyPath         string  `json:"policy_path"`
	InvoicePath        string  `json:"invoice_path"`
	DecryptionKey      string  `json:"decryption_key"`
	RequesterAddress   string  `json:"requester_address"`
	ConsensusThreshold float64 `json:"consensus_threshold"`
	AgentTimeout       int     `json:"agent_timeout"`
}

func (*ConsensusRequest) Kind() Kind { return KindConsensusRequest }

// ConsensusResponse returns the combined decision for one consensus request.
type ConsensusResponse struct {
	Base
	ClaimID             string           `json:"claim_id"`
	RequestMessageID    string           `json:"request_message_id"`
	Result              *ConsensusResult `json:"consensus_result,omitempty"`
	Success             bool             `json:"success"`
	ErrorMessage        string           `json:"error_message,omitempty"`
	ErrorType           string           `json:"error_type,omitempty"`
	OrchestratorAddress string           `json:"orchestrator_address"`
}

func (*ConsensusResponse) Kind() Kind { return KindConsensusResponse }

// HealthCheck probes a node for liveness and basic statistics.
type HealthCheck struct {
	Base
	RequesterAddress string `json:"requester_address"`
	CheckType        string `json:"check_type"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

func (*HealthCheck) Kind() Kind { return KindHealthCheck }

// HealthResponse reports a node's health status.
type HealthResponse struct {
	Base
	AgentID            string     `json:"agent_id"`
	AgentAddress       string     `json:"agent_address"`
	RequestMessageID   string     `json:"request_message_id"`
	Status             string     `json:"status"`
	LLMBackend         string     `json:"llm_backend"`
	LastEvaluationTime *time.Time `json:"last_evaluation_time,omitempty"`
	TotalEvaluations   int64      `json:"total_evaluations"`
	ErrorRate          float64    `json:"error_rate"`
}

func (*HealthResponse) Kind() Kind { return KindHealthResponse }

// AgentPing is a lightweight connectivity probe.
type AgentPing struct {
	Base
	RequesterAddress string `json:"requester_address"`
}

func (*AgentPing) Kind() Kind { return KindAgentPing }

// AgentPong answers a ping.
type AgentPong struct {
	Base
	ResponderAddress string    `json:"responder_address"`
	RequestMessageID string    `json:"request_message_id"`
	PingTimestamp    time.Time `json:"ping_timestamp"`
	RoundTripMS      *int64    `json:"round_trip_ms,omitempty"`
}

func (*AgentPong) Kind() Kind { return KindAgentPong }
