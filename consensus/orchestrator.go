package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gordonkoehn/BioVault/message"
	"github.com/gordonkoehn/BioVault/registry"
	"github.com/gordonkoehn/BioVault/wallet"
	"github.com/gordonkoehn/BioVault/work"
)

// Orchestrator errors.
var (
	// ErrSessionActive is returned when a consensus request names a claim
	// that already has a live session. One claim, one session at a time.
	ErrSessionActive = errors.New("consensus session already active for claim")
)

// errorTypeSessionActive labels the duplicate-session rejection on the wire.
const errorTypeSessionActive = "SessionAlreadyActive"

// Transport is the messaging surface the orchestrator needs. The network
// layer implements it; tests substitute a fake.
type Transport interface {
	// Address returns this node's wallet address.
	Address() string
	// Send delivers one message to the peer with the given wallet address.
	Send(ctx context.Context, to string, m message.Message) error
	// RegisterPeer binds a wallet address to a dialable endpoint.
	RegisterPeer(address, endpoint string)
}

// Observer receives completion notifications for finished sessions. The
// metrics exporter implements it.
type Observer interface {
	ConsensusCompleted(claimID string, achieved bool, duration time.Duration)
}

// Config controls orchestrator behavior.
type Config struct {
	// OrchestratorID names this node in logs and health responses.
	OrchestratorID string
	// ConsensusThreshold is the default agreement ratio a majority must
	// reach, used when a request does not carry its own. Defaults to 1.0
	// (unanimity).
	ConsensusThreshold float64
	// AgentTimeout is the default per-session collection window, used when
	// a request does not carry its own. Defaults to 120s.
	AgentTimeout time.Duration
	// DedupCapacity bounds the nonce cache. Zero selects the default.
	DedupCapacity int
	// Workers sizes the message-handling pool. Zero selects 4.
	Workers int

	// Observer, when set, is notified after every finished session.
	Observer Observer
	// OnResult, when set, receives every consensus result after the
	// session closes. Used for audit logging.
	OnResult func(*message.ConsensusResult)
}

func (c *Config) applyDefaults() {
	if c.OrchestratorID == "" {
		c.OrchestratorID = "biovault-orchestrator"
	}
	if c.ConsensusThreshold <= 0 {
		c.ConsensusThreshold = 1.0
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = 120 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Orchestrator coordinates claim evaluations across registered agents and
// combines their signed verdicts into consensus results. It owns the agent
// registry, the per-claim session table, and the inbound message pool.
type Orchestrator struct {
	cfg       Config
	transport Transport
	reg       *registry.Registry
	dedup     *message.Deduplicator
	metrics   *Metrics
	pool      *work.Pool
	log       zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator on the given transport.
func NewOrchestrator(cfg Config, transport Transport, logger zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		transport: transport,
		reg:       registry.NewRegistry(),
		dedup:     message.NewDeduplicator(cfg.DedupCapacity),
		metrics:   NewMetrics(),
		pool:      work.NewPool("orchestrator", cfg.Workers),
		log:       logger.With().Str("component", "orchestrator").Str("orchestrator_id", cfg.OrchestratorID).Logger(),
		sessions:  make(map[string]*session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Registry exposes the agent registry, for discovery broadcasting and
// operational gauges.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Metrics exposes the evaluation counters.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// DedupStats returns nonce-cache statistics.
func (o *Orchestrator) DedupStats() message.DedupStats { return o.dedup.Stats() }

// PoolStats returns message-pool statistics.
func (o *Orchestrator) PoolStats() work.PoolStats { return o.pool.Stats() }

// ActiveSessions returns the number of live consensus sessions.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// RecordDiscoveryBroadcast counts one outbound discovery broadcast. The
// network layer calls it on each periodic announcement.
func (o *Orchestrator) RecordDiscoveryBroadcast() {
	o.metrics.broadcastDiscoveries.Add(1)
}

// Close stops the orchestrator. In-flight sessions complete with whatever
// verdicts they have collected.
func (o *Orchestrator) Close() {
	o.cancel()
	o.pool.Shutdown()
}

// Handle accepts one inbound envelope from the transport and queues it on
// the worker pool. sender is the transport-attested wallet address of the
// peer that delivered the envelope.
func (o *Orchestrator) Handle(sender string, env message.Envelope) {
	task := work.NewTask(string(env.Kind)+"/"+sender, func() error {
		return o.process(sender, env)
	})
	if err := o.pool.Submit(task); err != nil {
		o.log.Warn().Err(err).Str("kind", string(env.Kind)).Str("sender", sender).
			Msg("inbound message dropped")
	}
}

// process decodes, deduplicates, and dispatches one inbound message.
func (o *Orchestrator) process(sender string, env message.Envelope) error {
	m, err := message.Decode(env)
	if err != nil {
		o.log.Warn().Err(err).Str("kind", string(env.Kind)).Str("sender", sender).
			Msg("rejected inbound message")
		return err
	}

	if o.dedup.IsDuplicate(m) {
		o.metrics.duplicateMessages.Add(1)
		o.log.Debug().Str("message_id", m.Meta().MessageID).Str("nonce", m.Meta().Nonce).
			Msg("duplicate message ignored")
		return nil
	}

	switch msg := m.(type) {
	case *message.AgentRegistration:
		return o.handleRegistration(sender, msg)
	case *message.AgentDiscovery:
		return o.handleDiscovery(sender, msg)
	case *message.ConsensusRequest:
		// Sessions run on their own goroutine. A collection window can span
		// minutes; parking it on a pool worker would let a handful of
		// concurrent requests starve the workers that must process the very
		// verdicts that close them.
		go func() {
			if err := o.handleConsensusRequest(sender, msg); err != nil && !errors.Is(err, ErrSessionActive) {
				o.log.Warn().Err(err).Str("claim_id", msg.ClaimID).Msg("consensus session failed")
			}
		}()
		return nil
	case *message.VerdictResponse:
		return o.handleVerdictResponse(sender, msg)
	case *message.HealthCheck:
		return o.handleHealthCheck(sender, msg)
	case *message.AgentPing:
		return o.handlePing(sender, msg)
	default:
		o.log.Debug().Str("kind", string(m.Kind())).Str("sender", sender).
			Msg("message kind not handled by orchestrator")
		return nil
	}
}

// handleRegistration verifies that the transport-attested sender matches the
// self-attested agent address before admitting the agent. Mismatches are
// dropped silently; the failure is only visible in metrics and logs.
func (o *Orchestrator) handleRegistration(sender string, m *message.AgentRegistration) error {
	id := registry.IdentityFromRegistration(m)
	if !o.reg.Register(id, sender) {
		o.metrics.walletVerificationFailures.Add(1)
		o.log.Warn().Str("agent_id", m.AgentID).Str("claimed_address", m.AgentAddress).
			Str("sender", sender).Msg("registration rejected: sender mismatch")
		return nil
	}
	if m.Endpoint != "" {
		o.transport.RegisterPeer(m.AgentAddress, m.Endpoint)
	}
	o.log.Info().Str("agent_id", m.AgentID).Str("agent_type", m.AgentType).
		Str("address", m.AgentAddress).Int("registered", o.reg.Len()).
		Msg("agent registered")
	return nil
}

// handleDiscovery answers with the registrations matching the requested
// capabilities.
func (o *Orchestrator) handleDiscovery(sender string, m *message.AgentDiscovery) error {
	matched := o.reg.Discover(m.RequiredCapabilities)

	agents := make([]message.AgentRegistration, 0, len(matched))
	for _, id := range matched {
		agents = append(agents, message.AgentRegistration{
			Base:                     message.NewBase("register"),
			AgentID:                  id.AgentID,
			AgentAddress:             id.AgentAddress,
			Endpoint:                 id.Endpoint,
			AgentType:                id.AgentType,
			LLMBackend:               id.LLMBackend,
			Capabilities:             id.Capabilities,
			MaxConcurrentEvaluations: id.MaxConcurrentEvaluations,
		})
	}

	resp := &message.AgentList{
		Base:                message.NewBase("agent_list"),
		Agents:              agents,
		TotalAgents:         len(agents),
		OrchestratorAddress: o.transport.Address(),
		RequestMessageID:    m.MessageID,
	}
	if err := o.transport.Send(o.ctx, sender, resp); err != nil {
		o.log.Warn().Err(err).Str("sender", sender).Msg("failed to answer discovery")
		return err
	}
	return nil
}

// handleConsensusRequest runs a full consensus evaluation and replies with
// the result. It blocks for the whole session, so it must never run on the
// message pool; process spawns it on a dedicated goroutine.
func (o *Orchestrator) handleConsensusRequest(sender string, m *message.ConsensusRequest) error {
	result, err := o.Execute(o.ctx, m)

	resp := &message.ConsensusResponse{
		Base:                message.NewBase("consensus_resp"),
		ClaimID:             m.ClaimID,
		RequestMessageID:    m.MessageID,
		OrchestratorAddress: o.transport.Address(),
	}
	switch {
	case err == nil:
		resp.Success = true
		resp.Result = result
	case errors.Is(err, ErrSessionActive):
		resp.ErrorMessage = err.Error()
		resp.ErrorType = errorTypeSessionActive
	default:
		resp.ErrorMessage = err.Error()
		resp.ErrorType = "OrchestrationError"
	}

	if sendErr := o.transport.Send(o.ctx, sender, resp); sendErr != nil {
		o.log.Warn().Err(sendErr).Str("claim_id", m.ClaimID).Str("sender", sender).
			Msg("failed to deliver consensus response")
		return sendErr
	}
	return err
}

// Execute dispatches a claim to every registered agent, collects verdicts
// until quorum or timeout, and returns the combined result. A timeout is not
// an error: the result is computed from whatever verdicts arrived.
func (o *Orchestrator) Execute(ctx context.Context, req *message.ConsensusRequest) (*message.ConsensusResult, error) {
	o.metrics.totalEvaluations.Add(1)

	threshold := req.ConsensusThreshold
	if threshold <= 0 {
		threshold = o.cfg.ConsensusThreshold
	}
	timeout := time.Duration(req.AgentTimeout) * time.Second
	if req.AgentTimeout <= 0 {
		timeout = o.cfg.AgentTimeout
	}

	sess := newSession(req, threshold)
	o.mu.Lock()
	if _, exists := o.sessions[req.ClaimID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, req.ClaimID)
	}
	o.sessions[req.ClaimID] = sess
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.sessions, req.ClaimID)
		o.mu.Unlock()
	}()

	agents := o.reg.All()
	eval := &message.ClaimEvaluation{
		Base:             message.NewBase("eval"),
		ClaimID:          req.ClaimID,
		PolicyPath:       req.PolicyPath,
		InvoicePath:      req.InvoicePath,
		DecryptionKey:    req.DecryptionKey,
		RequesterAddress: o.transport.Address(),
		TimeoutSeconds:   int(timeout / time.Second),
	}

	// The collection window opens before the first dispatch so agents that
	// answer mid-dispatch are not turned away.
	sess.prepare(eval.MessageID, len(agents))

	var (
		wg     sync.WaitGroup
		sentMu sync.Mutex
		sent   int
	)
	for _, agent := range agents {
		wg.Add(1)
		go func(addr, agentID string) {
			defer wg.Done()
			if err := o.transport.Send(ctx, addr, eval); err != nil {
				o.log.Warn().Err(err).Str("claim_id", req.ClaimID).Str("agent_id", agentID).
					Msg("dispatch failed, agent excluded from quorum")
				return
			}
			sentMu.Lock()
			sent++
			sentMu.Unlock()
		}(agent.AgentAddress, agent.AgentID)
	}
	wg.Wait()

	if sess.adjustExpected(sent) {
		sess.comp.complete()
	}

	o.log.Info().Str("claim_id", req.ClaimID).Int("dispatched", sent).
		Float64("threshold", threshold).Dur("timeout", timeout).
		Msg("consensus session dispatched")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-sess.comp.done():
	case <-timer.C:
		timedOut = sess.timeout()
		sess.comp.complete()
	case <-ctx.Done():
		sess.timeout()
		sess.comp.complete()
		sess.close()
		return nil, ctx.Err()
	}

	if timedOut {
		o.metrics.agentTimeouts.Add(1)
		o.metrics.partialConsensusCount.Add(1)
		_, got, expected := sess.snapshot()
		o.log.Warn().Str("claim_id", req.ClaimID).Int("responses", got).
			Int("expected", expected).Msg("collection window expired, using partial results")
	}

	responses := sess.close()
	result := Analyze(req.ClaimID, responses, threshold, sess.startTime)

	achieved := result.FinalVerdict != nil
	if achieved {
		o.metrics.consensusAchieved.Add(1)
	} else {
		o.metrics.consensusFailed.Add(1)
	}

	duration := time.Since(sess.startTime)
	if o.cfg.Observer != nil {
		o.cfg.Observer.ConsensusCompleted(req.ClaimID, achieved, duration)
	}
	if o.cfg.OnResult != nil {
		o.cfg.OnResult(result)
	}

	o.log.Info().Str("claim_id", req.ClaimID).Bool("achieved", achieved).
		Float64("agreement_ratio", result.AgreementRatio).
		Int("verdicts", len(result.AgentVerdicts)).Dur("duration", duration).
		Msg("consensus session closed")
	return result, nil
}

// handleVerdictResponse verifies and records one agent verdict. Every reject
// path drops the message silently; only metrics and logs distinguish them.
func (o *Orchestrator) handleVerdictResponse(sender string, m *message.VerdictResponse) error {
	if !o.reg.Verified(sender) {
		o.metrics.walletVerificationFailures.Add(1)
		o.log.Warn().Str("claim_id", m.ClaimID).Str("sender", sender).
			Msg("verdict from unregistered sender dropped")
		return nil
	}

	o.mu.RLock()
	sess := o.sessions[m.ClaimID]
	o.mu.RUnlock()
	if sess == nil {
		o.log.Debug().Str("claim_id", m.ClaimID).Str("sender", sender).
			Msg("verdict for inactive claim dropped")
		return nil
	}

	// Error responses carry no verdict to verify; they count toward quorum
	// so a failing agent does not stall the session until timeout.
	if m.Success && m.Verdict != nil {
		ok, reason := wallet.VerifyVerdict(m.Verdict, sender, sess.binding())
		if !ok {
			o.metrics.invalidSignatures.Add(1)
			o.log.Warn().Str("claim_id", m.ClaimID).Str("agent_id", m.Verdict.AgentID).
				Str("reason", reason).Msg("verdict signature rejected")
			return nil
		}
	}

	outcome, quorum := sess.accept(sender, m)
	switch outcome {
	case acceptReplay:
		o.metrics.replayDetections.Add(1)
		o.log.Warn().Str("claim_id", m.ClaimID).Str("sender", sender).
			Msg("replayed verdict dropped")
	case acceptDuplicateSender:
		o.metrics.replayDetections.Add(1)
		o.log.Warn().Str("claim_id", m.ClaimID).Str("sender", sender).
			Msg("second response from sender dropped")
	case acceptMismatch:
		o.log.Debug().Str("claim_id", m.ClaimID).Str("request_message_id", m.RequestMessageID).
			Msg("verdict correlation mismatch dropped")
	case acceptClosed:
		o.log.Debug().Str("claim_id", m.ClaimID).Msg("verdict arrived after session closed")
	case acceptOK:
		o.log.Debug().Str("claim_id", m.ClaimID).Str("sender", sender).
			Bool("quorum", quorum).Msg("verdict accepted")
		if quorum {
			sess.comp.complete()
		}
	}
	return nil
}

// handleHealthCheck reports orchestrator status and aggregate counters.
func (o *Orchestrator) handleHealthCheck(sender string, m *message.HealthCheck) error {
	snap := o.metrics.Snapshot()
	resp := &message.HealthResponse{
		Base:             message.NewBase("health"),
		AgentID:          o.cfg.OrchestratorID,
		AgentAddress:     o.transport.Address(),
		RequestMessageID: m.MessageID,
		Status:           "healthy",
		TotalEvaluations: snap.TotalEvaluations,
		ErrorRate:        o.metrics.ErrorRate(),
	}
	return o.transport.Send(o.ctx, sender, resp)
}

// handlePing answers connectivity probes.
func (o *Orchestrator) handlePing(sender string, m *message.AgentPing) error {
	resp := &message.AgentPong{
		Base:             message.NewBase("pong"),
		ResponderAddress: o.transport.Address(),
		RequestMessageID: m.MessageID,
		PingTimestamp:    m.Timestamp,
	}
	return o.transport.Send(o.ctx, sender, resp)
}
