// Package config loads BioVault node configuration from TOML files with a
// default overlay and BV_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// OrchestratorConfig holds orchestrator node settings.
type OrchestratorConfig struct {
	OrchestratorID           string
	Host                     string
	Port                     int
	WalletSeed               string
	ConsensusThreshold       float64
	AgentTimeoutSeconds      int
	DedupCapacity            int
	Workers                  int
	DiscoveryIntervalSeconds int
	MetricsAddr              string
	AuditDir                 string
	AuditFlushEvery          int
	LogLevel                 string
}

// DefaultOrchestratorConfig returns the orchestrator defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		OrchestratorID:           "biovault-orchestrator",
		Host:                     "127.0.0.1",
		Port:                     5600,
		ConsensusThreshold:       1.0,
		AgentTimeoutSeconds:      120,
		Workers:                  4,
		DiscoveryIntervalSeconds: 30,
		MetricsAddr:              ":9090",
		AuditDir:                 "audit",
		LogLevel:                 "info",
	}
}

// AgentConfig holds evaluator agent settings.
type AgentConfig struct {
	AgentID                  string
	AgentType                string
	LLMBackend               string
	Host                     string
	Port                     int
	WalletSeed               string
	VaultRoot                string
	Capabilities             []string
	MaxConcurrentEvaluations int
	DedupCapacity            int
	OrchestratorAddress      string
	OrchestratorEndpoint     string
	LogLevel                 string
}

// DefaultAgentConfig returns the agent defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		AgentType:                "claims_evaluator",
		LLMBackend:               "rules",
		Host:                     "127.0.0.1",
		Port:                     5700,
		VaultRoot:                "/tmp/biovault_vault",
		Capabilities:             []string{"claim_evaluation", "health_check"},
		MaxConcurrentEvaluations: 4,
		LogLevel:                 "info",
	}
}

// orchestratorFile maps orchestrator config.toml keys.
type orchestratorFile struct {
	OrchestratorID           string  `toml:"orchestrator_id"`
	Host                     string  `toml:"host"`
	Port                     int     `toml:"port"`
	WalletSeed               string  `toml:"wallet_seed"`
	ConsensusThreshold       float64 `toml:"consensus_threshold"`
	AgentTimeoutSeconds      int     `toml:"agent_timeout_seconds"`
	DedupCapacity            int     `toml:"dedup_capacity"`
	Workers                  int     `toml:"workers"`
	DiscoveryIntervalSeconds int     `toml:"discovery_interval_seconds"`
	MetricsAddr              string  `toml:"metrics_addr"`
	AuditDir                 string  `toml:"audit_dir"`
	AuditFlushEvery          int     `toml:"audit_flush_every"`
	LogLevel                 string  `toml:"log_level"`
}

// agentFile maps agent config.toml keys.
type agentFile struct {
	AgentID                  string   `toml:"agent_id"`
	AgentType                string   `toml:"agent_type"`
	LLMBackend               string   `toml:"llm_backend"`
	Host                     string   `toml:"host"`
	Port                     int      `toml:"port"`
	WalletSeed               string   `toml:"wallet_seed"`
	VaultRoot                string   `toml:"vault_root"`
	Capabilities             []string `toml:"capabilities"`
	MaxConcurrentEvaluations int      `toml:"max_concurrent_evaluations"`
	DedupCapacity            int      `toml:"dedup_capacity"`
	OrchestratorAddress      string   `toml:"orchestrator_address"`
	OrchestratorEndpoint     string   `toml:"orchestrator_endpoint"`
	LogLevel                 string   `toml:"log_level"`
}

// LoadOrchestratorConfig loads the orchestrator config. An empty path keeps
// the defaults. Environment variables override file values.
func LoadOrchestratorConfig(path string) (OrchestratorConfig, error) {
	cfg := DefaultOrchestratorConfig()

	if path != "" {
		var raw orchestratorFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return OrchestratorConfig{}, fmt.Errorf("load orchestrator config: %w", err)
		}
		if meta.IsDefined("orchestrator_id") {
			cfg.OrchestratorID = strings.TrimSpace(raw.OrchestratorID)
		}
		if meta.IsDefined("host") {
			cfg.Host = strings.TrimSpace(raw.Host)
		}
		if meta.IsDefined("port") {
			cfg.Port = raw.Port
		}
		if meta.IsDefined("wallet_seed") {
			cfg.WalletSeed = raw.WalletSeed
		}
		if meta.IsDefined("consensus_threshold") {
			cfg.ConsensusThreshold = raw.ConsensusThreshold
		}
		if meta.IsDefined("agent_timeout_seconds") {
			cfg.AgentTimeoutSeconds = raw.AgentTimeoutSeconds
		}
		if meta.IsDefined("dedup_capacity") {
			cfg.DedupCapacity = raw.DedupCapacity
		}
		if meta.IsDefined("workers") {
			cfg.Workers = raw.Workers
		}
		if meta.IsDefined("discovery_interval_seconds") {
			cfg.DiscoveryIntervalSeconds = raw.DiscoveryIntervalSeconds
		}
		if meta.IsDefined("metrics_addr") {
			cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
		}
		if meta.IsDefined("audit_dir") {
			cfg.AuditDir = strings.TrimSpace(raw.AuditDir)
		}
		if meta.IsDefined("audit_flush_every") {
			cfg.AuditFlushEvery = raw.AuditFlushEvery
		}
		if meta.IsDefined("log_level") {
			cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
		}
	}

	envString("BV_ORCHESTRATOR_ID", &cfg.OrchestratorID)
	envString("BV_HOST", &cfg.Host)
	envInt("BV_PORT", &cfg.Port)
	envString("BV_WALLET_SEED", &cfg.WalletSeed)
	envFloat("BV_CONSENSUS_THRESHOLD", &cfg.ConsensusThreshold)
	envInt("BV_AGENT_TIMEOUT_SECONDS", &cfg.AgentTimeoutSeconds)
	envString("BV_METRICS_ADDR", &cfg.MetricsAddr)
	envString("BV_AUDIT_DIR", &cfg.AuditDir)
	envString("BV_LOG_LEVEL", &cfg.LogLevel)

	if err := validateOrchestrator(cfg); err != nil {
		return OrchestratorConfig{}, err
	}
	return cfg, nil
}

// LoadAgentConfig loads the agent config. An empty path keeps the defaults.
// Environment variables override file values.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if path != "" {
		var raw agentFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("load agent config: %w", err)
		}
		if meta.IsDefined("agent_id") {
			cfg.AgentID = strings.TrimSpace(raw.AgentID)
		}
		if meta.IsDefined("agent_type") {
			cfg.AgentType = strings.TrimSpace(raw.AgentType)
		}
		if meta.IsDefined("llm_backend") {
			cfg.LLMBackend = strings.TrimSpace(raw.LLMBackend)
		}
		if meta.IsDefined("host") {
			cfg.Host = strings.TrimSpace(raw.Host)
		}
		if meta.IsDefined("port") {
			cfg.Port = raw.Port
		}
		if meta.IsDefined("wallet_seed") {
			cfg.WalletSeed = raw.WalletSeed
		}
		if meta.IsDefined("vault_root") {
			cfg.VaultRoot = strings.TrimSpace(raw.VaultRoot)
		}
		if meta.IsDefined("capabilities") {
			cfg.Capabilities = raw.Capabilities
		}
		if meta.IsDefined("max_concurrent_evaluations") {
			cfg.MaxConcurrentEvaluations = raw.MaxConcurrentEvaluations
		}
		if meta.IsDefined("dedup_capacity") {
			cfg.DedupCapacity = raw.DedupCapacity
		}
		if meta.IsDefined("orchestrator_address") {
			cfg.OrchestratorAddress = strings.TrimSpace(raw.OrchestratorAddress)
		}
		if meta.IsDefined("orchestrator_endpoint") {
			cfg.OrchestratorEndpoint = strings.TrimSpace(raw.OrchestratorEndpoint)
		}
		if meta.IsDefined("log_level") {
			cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
		}
	}

	envString("BV_AGENT_ID", &cfg.AgentID)
	envString("BV_AGENT_TYPE", &cfg.AgentType)
	envString("BV_LLM_BACKEND", &cfg.LLMBackend)
	envString("BV_HOST", &cfg.Host)
	envInt("BV_PORT", &cfg.Port)
	envString("BV_WALLET_SEED", &cfg.WalletSeed)
	envString("BV_VAULT_ROOT", &cfg.VaultRoot)
	envString("BV_ORCHESTRATOR_ADDRESS", &cfg.OrchestratorAddress)
	envString("BV_ORCHESTRATOR_ENDPOINT", &cfg.OrchestratorEndpoint)
	envString("BV_LOG_LEVEL", &cfg.LogLevel)

	if err := validateAgent(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func validateOrchestrator(cfg OrchestratorConfig) error {
	if strings.TrimSpace(cfg.OrchestratorID) == "" {
		return fmt.Errorf("orchestrator config missing orchestrator_id")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("orchestrator config port out of range: %d", cfg.Port)
	}
	if cfg.ConsensusThreshold <= 0 || cfg.ConsensusThreshold > 1 {
		return fmt.Errorf("orchestrator config consensus_threshold must be in (0, 1], got %v", cfg.ConsensusThreshold)
	}
	if cfg.AgentTimeoutSeconds <= 0 {
		return fmt.Errorf("orchestrator config agent_timeout_seconds must be positive")
	}
	return nil
}

func validateAgent(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return fmt.Errorf("agent config missing agent_id")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("agent config port out of range: %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.VaultRoot) == "" {
		return fmt.Errorf("agent config missing vault_root")
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
