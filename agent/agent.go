package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gordonkoehn/BioVault/message"
	"github.com/gordonkoehn/BioVault/wallet"
	"github.com/gordonkoehn/BioVault/work"
)

// maxDocumentSize bounds vault documents to 50MB.
const maxDocumentSize = 50 * 1024 * 1024

// minKeyLength is the minimum accepted decryption key length.
const minKeyLength = 32

// Transport is the messaging surface the agent needs.
type Transport interface {
	Address() string
	Send(ctx context.Context, to string, m message.Message) error
}

// Config controls agent behavior.
type Config struct {
	// AgentID names this agent in verdicts and registrations.
	AgentID string
	// AgentType labels the evaluation role. Defaults to "claims_evaluator".
	AgentType string
	// LLMBackend names the evaluation backend in registrations.
	LLMBackend string
	// Endpoint is this agent's dialable ROUTER endpoint, advertised on
	// registration.
	Endpoint string
	// VaultRoot confines document paths. Requests referencing documents
	// outside it are rejected.
	VaultRoot string
	// Capabilities advertised on registration.
	Capabilities []string
	// MaxConcurrentEvaluations advertised on registration and used to size
	// the work pool.
	MaxConcurrentEvaluations int
	// DedupCapacity bounds the nonce cache. Zero selects the default.
	DedupCapacity int
	// OrchestratorAddress is where registrations are sent.
	OrchestratorAddress string
}

func (c *Config) applyDefaults() {
	if c.AgentType == "" {
		c.AgentType = "claims_evaluator"
	}
	if c.VaultRoot == "" {
		c.VaultRoot = "/tmp/biovault_vault"
	}
	if len(c.Capabilities) == 0 {
		c.Capabilities = []string{"claim_evaluation", "health_check"}
	}
	if c.MaxConcurrentEvaluations <= 0 {
		c.MaxConcurrentEvaluations = 4
	}
}

// Agent evaluates claims on request and answers with wallet-signed verdicts.
type Agent struct {
	cfg       Config
	signer    wallet.Signer
	transport Transport
	extractor DocumentExtractor
	backend   Backend
	dedup     *message.Deduplicator
	pool      *work.Pool
	log       zerolog.Logger

	vaultRoot string // absolute, cleaned

	totalEvaluations atomic.Int64
	failedCount      atomic.Int64

	mu       sync.Mutex
	lastEval *time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an agent. The signer's wallet address is the agent's network
// identity.
func New(cfg Config, signer wallet.Signer, transport Transport, extractor DocumentExtractor, backend Backend, logger zerolog.Logger) (*Agent, error) {
	cfg.applyDefaults()
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	vaultRoot, err := filepath.Abs(cfg.VaultRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		cfg:       cfg,
		signer:    signer,
		transport: transport,
		extractor: extractor,
		backend:   backend,
		dedup:     message.NewDeduplicator(cfg.DedupCapacity),
		pool:      work.NewPool("agent", cfg.MaxConcurrentEvaluations),
		log:       logger.With().Str("component", "agent").Str("agent_id", cfg.AgentID).Logger(),
		vaultRoot: filepath.Clean(vaultRoot),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Address returns the agent's wallet address.
func (a *Agent) Address() string { return a.signer.Address() }

// Close stops the agent's work pool.
func (a *Agent) Close() {
	a.cancel()
	a.pool.Shutdown()
}

// Register announces the agent to the orchestrator.
func (a *Agent) Register(ctx context.Context) error {
	reg := &message.AgentRegistration{
		Base:                     message.NewBase("register"),
		AgentID:                  a.cfg.AgentID,
		AgentAddress:             a.signer.Address(),
		Endpoint:                 a.cfg.Endpoint,
		AgentType:                a.cfg.AgentType,
		LLMBackend:               a.cfg.LLMBackend,
		Capabilities:             a.cfg.Capabilities,
		MaxConcurrentEvaluations: a.cfg.MaxConcurrentEvaluations,
	}
	if err := a.transport.Send(ctx, a.cfg.OrchestratorAddress, reg); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}
	a.log.Info().Str("orchestrator", a.cfg.OrchestratorAddress).Msg("registration sent")
	return nil
}

// Handle accepts one inbound envelope from the transport and queues it.
func (a *Agent) Handle(sender string, env message.Envelope) {
	task := work.NewTask(string(env.Kind)+"/"+sender, func() error {
		return a.process(sender, env)
	})
	if err := a.pool.Submit(task); err != nil {
		a.log.Warn().Err(err).Str("kind", string(env.Kind)).Msg("inbound message dropped")
	}
}

func (a *Agent) process(sender string, env message.Envelope) error {
	m, err := message.Decode(env)
	if err != nil {
		a.log.Warn().Err(err).Str("kind", string(env.Kind)).Msg("rejected inbound message")
		return err
	}

	if a.dedup.IsDuplicate(m) {
		a.log.Debug().Str("message_id", m.Meta().MessageID).Msg("duplicate message ignored")
		return nil
	}

	switch msg := m.(type) {
	case *message.ClaimEvaluation:
		return a.handleEvaluation(sender, msg)
	case *message.AgentDiscovery:
		// Discovery broadcasts double as registration prompts.
		return a.Register(a.ctx)
	case *message.HealthCheck:
		return a.handleHealthCheck(sender, msg)
	case *message.AgentPing:
		return a.handlePing(sender, msg)
	default:
		a.log.Debug().Str("kind", string(m.Kind())).Msg("message kind not handled by agent")
		return nil
	}
}

// handleEvaluation validates, evaluates, signs, and replies. Every failure
// path still answers the orchestrator, so the session is not left waiting
// for the timeout.
func (a *Agent) handleEvaluation(sender string, req *message.ClaimEvaluation) error {
	start := time.Now()
	a.totalEvaluations.Add(1)
	a.log.Info().Str("claim_id", req.ClaimID).Str("sender", sender).Msg("evaluation requested")

	if err := a.validateRequest(req); err != nil {
		return a.sendErrorVerdict(sender, req, start, ErrorTypeValidation, err)
	}

	verdict, errType, err := a.evaluate(a.ctx, req)
	if err != nil {
		return a.sendErrorVerdict(sender, req, start, errType, err)
	}

	verdict.ProcessingTimeMS = time.Since(start).Milliseconds()
	sig := wallet.SignVerdict(a.signer, verdict, req.MessageID)
	verdict.Signature = &sig

	a.markEvaluated()

	resp := &message.VerdictResponse{
		Base:             message.NewBase("verdict"),
		ClaimID:          req.ClaimID,
		RequestMessageID: req.MessageID,
		Verdict:          verdict,
		Success:          true,
		AgentAddress:     a.signer.Address(),
	}
	if err := a.transport.Send(a.ctx, sender, resp); err != nil {
		return fmt.Errorf("send verdict: %w", err)
	}

	a.log.Info().Str("claim_id", req.ClaimID).Str("verdict", string(verdict.Verdict)).
		Int64("processing_ms", verdict.ProcessingTimeMS).Msg("verdict sent")
	return nil
}

// evaluate runs extraction and judgment, classifying failures by stage.
func (a *Agent) evaluate(ctx context.Context, req *message.ClaimEvaluation) (*message.Verdict, string, error) {
	policyText, err := a.extractor.Extract(ctx, req.PolicyPath, req.DecryptionKey)
	if err != nil {
		return nil, ErrorTypeExtraction, fmt.Errorf("extract policy: %w", err)
	}
	invoiceText, err := a.extractor.Extract(ctx, req.InvoicePath, req.DecryptionKey)
	if err != nil {
		return nil, ErrorTypeExtraction, fmt.Errorf("extract invoice: %w", err)
	}

	policy, err := a.backend.ExtractPolicy(ctx, policyText)
	if err != nil {
		return nil, ErrorTypeExtraction, err
	}
	invoice, err := a.backend.ExtractInvoice(ctx, invoiceText)
	if err != nil {
		return nil, ErrorTypeExtraction, err
	}

	judgment, err := a.backend.Evaluate(ctx, policy, invoice, req.ClaimID)
	if err != nil {
		return nil, ErrorTypeEvaluation, err
	}

	return &message.Verdict{
		AgentID:             a.cfg.AgentID,
		AgentType:           a.cfg.AgentType,
		Verdict:             judgment.Verdict,
		CoverageAmount:      judgment.CoverageAmount,
		PrimaryReason:       judgment.PrimaryReason,
		ConfidenceScore:     judgment.Confidence,
		RequiresHumanReview: judgment.RequiresHumanReview,
		ModelName:           a.backend.ModelName(),
		Timestamp:           time.Now().UTC(),
	}, "", nil
}

// validateRequest rejects traversal outside the vault root, non-PDF
// documents, short keys, and oversized files before any extraction runs.
func (a *Agent) validateRequest(req *message.ClaimEvaluation) error {
	if len(req.DecryptionKey) < minKeyLength {
		return fmt.Errorf("invalid decryption key format")
	}
	for _, path := range []string{req.PolicyPath, req.InvoicePath} {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve document path: %w", err)
		}
		abs = filepath.Clean(abs)
		if abs != a.vaultRoot && !strings.HasPrefix(abs, a.vaultRoot+string(filepath.Separator)) {
			return fmt.Errorf("document path outside vault root %s", a.vaultRoot)
		}
		if strings.ToLower(filepath.Ext(abs)) != ".pdf" {
			return fmt.Errorf("document must be a PDF: %s", filepath.Base(abs))
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("document does not exist: %s", filepath.Base(abs))
		}
		if info.Size() > maxDocumentSize {
			return fmt.Errorf("document too large: %s", filepath.Base(abs))
		}
	}
	return nil
}

// sendErrorVerdict answers a failed evaluation with a signed REQUIRES_REVIEW
// verdict so the orchestrator's quorum accounting still advances.
func (a *Agent) sendErrorVerdict(sender string, req *message.ClaimEvaluation, start time.Time, errType string, evalErr error) error {
	a.failedCount.Add(1)
	a.log.Error().Err(evalErr).Str("claim_id", req.ClaimID).Str("error_type", errType).
		Msg("evaluation failed")

	verdict := &message.Verdict{
		AgentID:             a.cfg.AgentID,
		AgentType:           a.cfg.AgentType,
		Verdict:             message.VerdictRequiresReview,
		PrimaryReason:       fmt.Sprintf("Error processing claim: %v", evalErr),
		RequiresHumanReview: true,
		ProcessingTimeMS:    time.Since(start).Milliseconds(),
		ModelName:           a.backend.ModelName(),
		Timestamp:           time.Now().UTC(),
	}
	sig := wallet.SignVerdict(a.signer, verdict, req.MessageID)
	verdict.Signature = &sig

	resp := &message.VerdictResponse{
		Base:             message.NewBase("verdict"),
		ClaimID:          req.ClaimID,
		RequestMessageID: req.MessageID,
		Verdict:          verdict,
		Success:          false,
		ErrorMessage:     evalErr.Error(),
		ErrorType:        errType,
		AgentAddress:     a.signer.Address(),
	}
	if err := a.transport.Send(a.ctx, sender, resp); err != nil {
		return fmt.Errorf("send error verdict: %w", err)
	}
	return nil
}

func (a *Agent) markEvaluated() {
	now := time.Now().UTC()
	a.mu.Lock()
	a.lastEval = &now
	a.mu.Unlock()
}

func (a *Agent) handleHealthCheck(sender string, m *message.HealthCheck) error {
	total := a.totalEvaluations.Load()
	failed := a.failedCount.Load()
	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	a.mu.Lock()
	lastEval := a.lastEval
	a.mu.Unlock()

	resp := &message.HealthResponse{
		Base:               message.NewBase("health"),
		AgentID:            a.cfg.AgentID,
		AgentAddress:       a.signer.Address(),
		RequestMessageID:   m.MessageID,
		Status:             "healthy",
		LLMBackend:         a.cfg.LLMBackend,
		LastEvaluationTime: lastEval,
		TotalEvaluations:   total,
		ErrorRate:          errorRate,
	}
	return a.transport.Send(a.ctx, sender, resp)
}

func (a *Agent) handlePing(sender string, m *message.AgentPing) error {
	resp := &message.AgentPong{
		Base:             message.NewBase("pong"),
		ResponderAddress: a.signer.Address(),
		RequestMessageID: m.MessageID,
		PingTimestamp:    m.Timestamp,
	}
	return a.transport.Send(a.ctx, sender, resp)
}
