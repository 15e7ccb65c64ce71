package message

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Codec errors.
var (
	ErrIncompatibleSchema = errors.New("incompatible schema version")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrEmptyBody          = errors.New("empty message body")
)

// Envelope is the transport frame around one message. From and To carry node
// wallet addresses and are filled in by the transport layer.
type Envelope struct {
	Kind Kind            `json:"kind"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Body json.RawMessage `json:"body"`
}

// Encode wraps a message into an envelope. From/To are left for the sender.
func Encode(m Message) (Envelope, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return Envelope{Kind: m.Kind(), Body: body}, nil
}

// Decode unwraps an envelope into its concrete message type. The schema
// version is checked before anything else: a mismatch rejects the message
// outright, with no partial compatibility logic.
func Decode(env Envelope) (Message, error) {
	if len(env.Body) == 0 {
		return nil, ErrEmptyBody
	}

	var base Base
	if err := json.Unmarshal(env.Body, &base); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if base.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIncompatibleSchema, base.SchemaVersion, SchemaVersion)
	}

	var m Message
	switch env.Kind {
	case KindAgentRegistration:
		m = &AgentRegistration{}
	case KindAgentDiscovery:
		m = &AgentDiscovery{}
	case KindAgentList:
		m = &AgentList{}
	case KindClaimEvaluation:
		m = &ClaimEvaluation{}
	case KindVerdictResponse:
		m = &VerdictResponse{}
	case KindConsensusRequest:
		m = &ConsensusRequest{}
	case KindConsensusResponse:
		m = &ConsensusResponse{}
	case KindHealthCheck:
		m = &HealthCheck{}
	case KindHealthResponse:
		m = &HealthResponse{}
	case KindAgentPing:
		m = &AgentPing{}
	case KindAgentPong:
		m = &AgentPong{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	if err := json.Unmarshal(env.Body, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return m, nil
}
