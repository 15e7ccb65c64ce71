// Package registry tracks wallet-verified evaluator agents and answers
// capability-based discovery queries.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/gordonkoehn/BioVault/message"
)

// AgentIdentity is a registered agent as the orchestrator sees it. The
// address doubles as the agent's wallet identity; the endpoint is where the
// transport can reach it.
type AgentIdentity struct {
	AgentID                  string    `json:"agent_id"`
	AgentAddress             string    `json:"agent_address"`
	Endpoint                 string    `json:"endpoint,omitempty"`
	AgentType                string    `json:"agent_type"`
	LLMBackend               string    `json:"llm_backend"`
	Capabilities             []string  `json:"capabilities"`
	MaxConcurrentEvaluations int       `json:"max_concurrent_evaluations"`
	RegisteredAt             time.Time `json:"registered_at"`
}

// IdentityFromRegistration builds an identity from a registration message.
func IdentityFromRegistration(m *message.AgentRegistration) AgentIdentity {
	return AgentIdentity{
		AgentID:                  m.AgentID,
		AgentAddress:             m.AgentAddress,
		Endpoint:                 m.Endpoint,
		AgentType:                m.AgentType,
		LLMBackend:               m.LLMBackend,
		Capabilities:             append([]string(nil), m.Capabilities...),
		MaxConcurrentEvaluations: m.MaxConcurrentEvaluations,
		RegisteredAt:             time.Now().UTC(),
	}
}

// Registry holds verified agent identities. All methods are safe for
// concurrent use.
type Registry struct {
	agents    map[string]AgentIdentity // agent_id -> identity
	byAddress map[string]string        // wallet address -> agent_id
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:    make(map[string]AgentIdentity),
		byAddress: make(map[string]string),
	}
}

// Register stores an identity if the transport-attested sender equals the
// self-attested agent address. Returns false on mismatch; the caller counts
// the verification failure and stays silent towards the sender. Registering
// an existing agent_id overwrites its prior entry, so re-registration with a
// new address retires the old one.
func (r *Registry) Register(id AgentIdentity, attestedSender string) bool {
	if attestedSender == "" || attestedSender != id.AgentAddress {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.agents[id.AgentID]; ok {
		delete(r.byAddress, prev.AgentAddress)
	}
	r.agents[id.AgentID] = id
	r.byAddress[id.AgentAddress] = id.AgentID
	return true
}

// Deregister removes an agent. Returns true if it was registered.
func (r *Registry) Deregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.agents[agentID]
	if !ok {
		return false
	}
	delete(r.agents, agentID)
	delete(r.byAddress, id.AgentAddress)
	return true
}

// Discover returns every identity whose capability set is a superset of
// required. An empty requirement matches all agents. Results are sorted by
// agent_id for deterministic iteration.
func (r *Registry) Discover(required []string) []AgentIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]AgentIdentity, 0, len(r.agents))
	for _, id := range r.agents {
		if hasCapabilities(id.Capabilities, required) {
			matched = append(matched, id)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].AgentID < matched[j].AgentID })
	return matched
}

// All returns every registered identity, sorted by agent_id.
func (r *Registry) All() []AgentIdentity {
	return r.Discover(nil)
}

// Get looks up an agent by ID.
func (r *Registry) Get(agentID string) (AgentIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.agents[agentID]
	return id, ok
}

// Verified reports whether a wallet address belongs to a registered agent.
func (r *Registry) Verified(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAddress[address]
	return ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func hasCapabilities(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}
