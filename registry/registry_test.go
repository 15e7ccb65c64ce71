package registry

import (
	"fmt"
	"sync"
	"testing"
)

func identity(agentID, address string, caps ...string) AgentIdentity {
	return AgentIdentity{
		AgentID:      agentID,
		AgentAddress: address,
		AgentType:    "nlp_policy",
		LLMBackend:   "asi-one",
		Capabilities: caps,
	}
}

func TestRegisterVerifiedSender(t *testing.T) {
	r := NewRegistry()

	if !r.Register(identity("agent-1", "addr-1", "claim_evaluation"), "addr-1") {
		t.Fatal("Registration with matching sender should succeed")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 agent, got %d", r.Len())
	}
	if !r.Verified("addr-1") {
		t.Error("addr-1 should be wallet-verified")
	}
}

func TestRegisterSenderMismatch(t *testing.T) {
	r := NewRegistry()

	if r.Register(identity("agent-1", "addr-1"), "attacker-addr") {
		t.Fatal("Registration with mismatched sender must be dropped")
	}
	if r.Register(identity("agent-1", "addr-1"), "") {
		t.Fatal("Registration without attested sender must be dropped")
	}
	if r.Len() != 0 {
		t.Error("Rejected registrations must not be stored")
	}
}

func TestReRegistrationUpdatesAddress(t *testing.T) {
	r := NewRegistry()

	r.Register(identity("agent-1", "addr-old", "claim_evaluation"), "addr-old")
	r.Register(identity("agent-1", "addr-new", "claim_evaluation"), "addr-new")

	if r.Len() != 1 {
		t.Fatalf("Re-registration must overwrite, got %d entries", r.Len())
	}

	agents := r.Discover(nil)
	if agents[0].AgentAddress != "addr-new" {
		t.Errorf("Discovery should return only the latest address, got %s", agents[0].AgentAddress)
	}
	if r.Verified("addr-old") {
		t.Error("Old address must no longer be verified")
	}
	if !r.Verified("addr-new") {
		t.Error("New address must be verified")
	}
}

func TestDiscoverCapabilitySuperset(t *testing.T) {
	r := NewRegistry()
	r.Register(identity("agent-a", "addr-a", "claim_evaluation", "policy_analysis"), "addr-a")
	r.Register(identity("agent-b", "addr-b", "claim_evaluation"), "addr-b")
	r.Register(identity("agent-c", "addr-c", "ocr"), "addr-c")

	tests := []struct {
		name     string
		required []string
		want     int
	}{
		{"empty requirement returns all", nil, 3},
		{"single capability", []string{"claim_evaluation"}, 2},
		{"superset match", []string{"claim_evaluation", "policy_analysis"}, 1},
		{"no match", []string{"claim_evaluation", "ocr"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Discover(tt.required)
			if len(got) != tt.want {
				t.Errorf("Expected %d agents, got %d", tt.want, len(got))
			}
		})
	}
}

func TestDiscoverDeterministicOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(identity("zeta", "addr-z"), "addr-z")
	r.Register(identity("alpha", "addr-a"), "addr-a")
	r.Register(identity("mid", "addr-m"), "addr-m")

	agents := r.Discover(nil)
	if agents[0].AgentID != "alpha" || agents[1].AgentID != "mid" || agents[2].AgentID != "zeta" {
		t.Error("Discover should sort by agent_id")
	}
}

func TestDeregister(t *testing.T) {
	r := NewRegistry()
	r.Register(identity("agent-1", "addr-1"), "addr-1")

	if !r.Deregister("agent-1") {
		t.Error("Deregister should return true for a registered agent")
	}
	if r.Deregister("agent-1") {
		t.Error("Deregister should return false for an unknown agent")
	}
	if r.Verified("addr-1") {
		t.Error("Deregistered address must not stay verified")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	r.Register(identity("agent-1", "addr-1"), "addr-1")

	if _, ok := r.Get("agent-1"); !ok {
		t.Error("Get should find agent-1")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("Get should miss unknown agents")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("addr-%d", i)
			r.Register(identity(fmt.Sprintf("agent-%d", i), addr, "claim_evaluation"), addr)
			r.Discover([]string{"claim_evaluation"})
			r.Verified(addr)
		}(i)
	}
	wg.Wait()

	if r.Len() != 20 {
		t.Errorf("Expected 20 agents, got %d", r.Len())
	}
}
