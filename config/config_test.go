package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOrchestratorConfigDefaults(t *testing.T) {
	cfg, err := LoadOrchestratorConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OrchestratorID != "biovault-orchestrator" {
		t.Errorf("orchestrator id = %s", cfg.OrchestratorID)
	}
	if cfg.ConsensusThreshold != 1.0 {
		t.Errorf("threshold = %v", cfg.ConsensusThreshold)
	}
	if cfg.AgentTimeoutSeconds != 120 {
		t.Errorf("timeout = %d", cfg.AgentTimeoutSeconds)
	}
}

func TestLoadOrchestratorConfigFileOverlay(t *testing.T) {
	path := writeTOML(t, `
orchestrator_id = "  orch-1  "
consensus_threshold = 0.67
agent_timeout_seconds = 30
metrics_addr = ":9191"
`)

	cfg, err := LoadOrchestratorConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OrchestratorID != "orch-1" {
		t.Errorf("orchestrator id = %q, want trimmed value", cfg.OrchestratorID)
	}
	if cfg.ConsensusThreshold != 0.67 {
		t.Errorf("threshold = %v", cfg.ConsensusThreshold)
	}
	if cfg.AgentTimeoutSeconds != 30 {
		t.Errorf("timeout = %d", cfg.AgentTimeoutSeconds)
	}
	if cfg.MetricsAddr != ":9191" {
		t.Errorf("metrics addr = %s", cfg.MetricsAddr)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Port != 5600 || cfg.Workers != 4 {
		t.Errorf("defaults lost: port=%d workers=%d", cfg.Port, cfg.Workers)
	}
}

func TestLoadOrchestratorConfigEnvOverrides(t *testing.T) {
	path := writeTOML(t, `
orchestrator_id = "orch-file"
consensus_threshold = 0.5
`)
	t.Setenv("BV_ORCHESTRATOR_ID", "orch-env")
	t.Setenv("BV_CONSENSUS_THRESHOLD", "0.75")
	t.Setenv("BV_PORT", "6001")

	cfg, err := LoadOrchestratorConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OrchestratorID != "orch-env" {
		t.Errorf("env override lost: %s", cfg.OrchestratorID)
	}
	if cfg.ConsensusThreshold != 0.75 {
		t.Errorf("threshold = %v", cfg.ConsensusThreshold)
	}
	if cfg.Port != 6001 {
		t.Errorf("port = %d", cfg.Port)
	}
}

func TestLoadOrchestratorConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"empty id", `orchestrator_id = "  "`},
		{"bad port", `port = 70000`},
		{"zero threshold", `consensus_threshold = 0.0`},
		{"threshold above one", `consensus_threshold = 1.5`},
		{"zero timeout", `agent_timeout_seconds = 0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTOML(t, tt.toml)
			if _, err := LoadOrchestratorConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadOrchestratorConfigMissingFile(t *testing.T) {
	if _, err := LoadOrchestratorConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadAgentConfig(t *testing.T) {
	path := writeTOML(t, `
agent_id = "agent-1"
llm_backend = "rules"
capabilities = ["claim_evaluation"]
orchestrator_address = "0xorch"
orchestrator_endpoint = "tcp://127.0.0.1:5600"
`)

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AgentID != "agent-1" {
		t.Errorf("agent id = %s", cfg.AgentID)
	}
	if cfg.AgentType != "claims_evaluator" {
		t.Errorf("agent type default lost: %s", cfg.AgentType)
	}
	if len(cfg.Capabilities) != 1 || cfg.Capabilities[0] != "claim_evaluation" {
		t.Errorf("capabilities = %v", cfg.Capabilities)
	}
	if cfg.OrchestratorAddress != "0xorch" {
		t.Errorf("orchestrator address = %s", cfg.OrchestratorAddress)
	}
}

func TestLoadAgentConfigRequiresID(t *testing.T) {
	if _, err := LoadAgentConfig(""); err == nil {
		t.Error("expected error for missing agent_id")
	}

	t.Setenv("BV_AGENT_ID", "agent-env")
	cfg, err := LoadAgentConfig("")
	if err != nil {
		t.Fatalf("load with env id: %v", err)
	}
	if cfg.AgentID != "agent-env" {
		t.Errorf("agent id = %s", cfg.AgentID)
	}
}
