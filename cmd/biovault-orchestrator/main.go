package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gordonkoehn/BioVault/api"
	"github.com/gordonkoehn/BioVault/audit"
	"github.com/gordonkoehn/BioVault/config"
	"github.com/gordonkoehn/BioVault/consensus"
	"github.com/gordonkoehn/BioVault/message"
	"github.com/gordonkoehn/BioVault/network"
	"github.com/gordonkoehn/BioVault/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to orchestrator config.toml")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "orchestrator").Logger()

	cfg, err := config.LoadOrchestratorConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	var w *wallet.Wallet
	if cfg.WalletSeed != "" {
		w = wallet.FromSeed(cfg.WalletSeed)
	} else if w, err = wallet.NewWallet(); err != nil {
		logger.Fatal().Err(err).Msg("failed to create wallet")
	}
	logger.Info().Str("address", w.Address()).Msg("orchestrator wallet ready")

	node := network.NewNode(w.Address(), cfg.Host, cfg.Port, logger)

	auditLog, err := audit.NewLog(cfg.AuditDir, cfg.AuditFlushEvery)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit log")
	}

	reg := prometheus.NewRegistry()
	metrics := api.NewMetrics("biovault", reg)

	orch := consensus.NewOrchestrator(consensus.Config{
		OrchestratorID:     cfg.OrchestratorID,
		ConsensusThreshold: cfg.ConsensusThreshold,
		AgentTimeout:       time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		DedupCapacity:      cfg.DedupCapacity,
		Workers:            cfg.Workers,
		Observer:           metrics,
		OnResult: func(r *message.ConsensusResult) {
			if err := auditLog.Append(r); err != nil {
				logger.Error().Err(err).Str("claim_id", r.ClaimID).Msg("audit append failed")
			}
		},
	}, node, logger)

	node.SetHandler(orch.Handle)
	if err := node.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start network node")
	}
	logger.Info().Str("endpoint", node.Endpoint()).Msg("listening")

	broadcaster := network.NewBroadcaster(node,
		time.Duration(cfg.DiscoveryIntervalSeconds)*time.Second,
		[]string{"claim_evaluation"},
		orch.RecordDiscoveryBroadcast)
	broadcaster.Start()

	exporter := api.NewExporter("biovault", api.Source{
		Snapshot:         func() consensus.MetricsSnapshot { return orch.Metrics().Snapshot() },
		ActiveSessions:   orch.ActiveSessions,
		RegisteredAgents: orch.Registry().Len,
	})
	reg.MustRegister(exporter)

	auth := api.NewAuthenticatorFromEnv()
	metricsServer := api.NewMetricsServer(cfg.MetricsAddr, reg, auth)
	metricsServer.StartAsync()
	logger.Info().Str("addr", cfg.MetricsAddr).Bool("auth", auth.IsEnabled()).Msg("metrics server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	broadcaster.Stop()
	orch.Close()
	node.Stop()
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}
	if err := auditLog.Close(); err != nil {
		logger.Error().Err(err).Msg("audit flush failed")
	}
	fmt.Println("orchestrator stopped")
}
