package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gordonkoehn/BioVault/agent"
	"github.com/gordonkoehn/BioVault/config"
	"github.com/gordonkoehn/BioVault/network"
	"github.com/gordonkoehn/BioVault/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to agent config.toml")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "agent").Logger()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	logger = logger.With().Str("agent_id", cfg.AgentID).Logger()

	var w *wallet.Wallet
	if cfg.WalletSeed != "" {
		w = wallet.FromSeed(cfg.WalletSeed)
	} else if w, err = wallet.NewWallet(); err != nil {
		logger.Fatal().Err(err).Msg("failed to create wallet")
	}
	logger.Info().Str("address", w.Address()).Msg("agent wallet ready")

	node := network.NewNode(w.Address(), cfg.Host, cfg.Port, logger)

	ag, err := agent.New(agent.Config{
		AgentID:                  cfg.AgentID,
		AgentType:                cfg.AgentType,
		LLMBackend:               cfg.LLMBackend,
		Endpoint:                 node.Endpoint(),
		VaultRoot:                cfg.VaultRoot,
		Capabilities:             cfg.Capabilities,
		MaxConcurrentEvaluations: cfg.MaxConcurrentEvaluations,
		DedupCapacity:            cfg.DedupCapacity,
		OrchestratorAddress:      cfg.OrchestratorAddress,
	}, w, node, agent.FileExtractor{}, agent.NewRuleBackend(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create agent")
	}

	node.SetHandler(ag.Handle)
	if err := node.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start network node")
	}
	logger.Info().Str("endpoint", node.Endpoint()).Msg("listening")

	if cfg.OrchestratorAddress != "" && cfg.OrchestratorEndpoint != "" {
		node.RegisterPeer(cfg.OrchestratorAddress, cfg.OrchestratorEndpoint)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ag.Register(ctx); err != nil {
			logger.Error().Err(err).Msg("registration send failed")
		}
		cancel()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ag.Close()
	node.Stop()
	fmt.Println("agent stopped")
}
