package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gordonkoehn/BioVault/message"
	"github.com/gordonkoehn/BioVault/wallet"
)

type sentMessage struct {
	to  string
	msg message.Message
}

type fakeTransport struct {
	addr string
	mu   sync.Mutex
	sent []sentMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{addr: "orchestrator-address"}
}

func (f *fakeTransport) Address() string { return f.addr }

func (f *fakeTransport) Send(_ context.Context, to string, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, msg: m})
	return nil
}

func (f *fakeTransport) RegisterPeer(string, string) {}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) evaluationFor(to string) (*message.ClaimEvaluation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if eval, ok := s.msg.(*message.ClaimEvaluation); ok && s.to == to {
			return eval, true
		}
	}
	return nil, false
}

func newTestOrchestrator(cfg Config) (*Orchestrator, *fakeTransport) {
	transport := newFakeTransport()
	o := NewOrchestrator(cfg, transport, zerolog.Nop())
	return o, transport
}

func mustEnvelope(t *testing.T, m message.Message) message.Envelope {
	t.Helper()
	env, err := message.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return env
}

func registerAgent(t *testing.T, o *Orchestrator, agentID string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.NewWallet()
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	reg := &message.AgentRegistration{
		Base:         message.NewBase("register"),
		AgentID:      agentID,
		AgentAddress: w.Address(),
		AgentType:    "claims_evaluator",
		Capabilities: []string{"claim_evaluation"},
	}
	if err := o.process(w.Address(), mustEnvelope(t, reg)); err != nil {
		t.Fatalf("register %s: %v", agentID, err)
	}
	if !o.Registry().Verified(w.Address()) {
		t.Fatalf("agent %s not registered", agentID)
	}
	return w
}

func signedVerdict(w *wallet.Wallet, agentID string, kind message.VerdictKind, amount *float64, binding string) *message.Verdict {
	v := &message.Verdict{
		AgentID:        agentID,
		AgentType:      "claims_evaluator",
		Verdict:        kind,
		CoverageAmount: amount,
		PrimaryReason:  "policy covers the procedure",
		Timestamp:      time.Now().UTC(),
	}
	sig := wallet.SignVerdict(w, v, binding)
	v.Signature = &sig
	return v
}

func verdictResponse(claimID, requestID, addr string, v *message.Verdict) *message.VerdictResponse {
	return &message.VerdictResponse{
		Base:             message.NewBase("verdict"),
		ClaimID:          claimID,
		RequestMessageID: requestID,
		Verdict:          v,
		Success:          true,
		AgentAddress:     addr,
	}
}

func consensusRequest(claimID string, timeoutSeconds int, threshold float64) *message.ConsensusRequest {
	return &message.ConsensusRequest{
		Base:               message.NewBase("consensus"),
		ClaimID:            claimID,
		PolicyPath:         "/vault/policy.pdf",
		InvoicePath:        "/vault/invoice.pdf",
		DecryptionKey:      "0123456789abcdef0123456789abcdef",
		RequesterAddress:   "client-address",
		ConsensusThreshold: threshold,
		AgentTimeout:       timeoutSeconds,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestExecuteNoAgents(t *testing.T) {
	o, _ := newTestOrchestrator(Config{AgentTimeout: time.Minute})
	defer o.Close()

	start := time.Now()
	result, err := o.Execute(context.Background(), consensusRequest("claim-empty", 60, 1.0))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("zero-agent session should complete immediately, not wait for timeout")
	}
	if result.FinalVerdict != nil {
		t.Errorf("expected no final verdict, got %v", *result.FinalVerdict)
	}
	snap := o.Metrics().Snapshot()
	if snap.TotalEvaluations != 1 || snap.ConsensusFailed != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
	if snap.AgentTimeouts != 0 {
		t.Errorf("zero-agent session should not count as a timeout: %+v", snap)
	}
}

func TestExecuteFullQuorum(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")
	w2 := registerAgent(t, o, "agent-2")

	done := make(chan *message.ConsensusResult, 1)
	go func() {
		result, err := o.Execute(context.Background(), consensusRequest("claim-1", 30, 0.6))
		if err != nil {
			t.Errorf("execute: %v", err)
		}
		done <- result
	}()

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch to agent-1", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	v1 := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(100), eval.MessageID)
	v2 := signedVerdict(w2, "agent-2", message.VerdictCovered, amt(300), eval.MessageID)
	if err := o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-1", eval.MessageID, w1.Address(), v1))); err != nil {
		t.Fatalf("verdict 1: %v", err)
	}
	if err := o.process(w2.Address(), mustEnvelope(t, verdictResponse("claim-1", eval.MessageID, w2.Address(), v2))); err != nil {
		t.Fatalf("verdict 2: %v", err)
	}

	var result *message.ConsensusResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete on quorum")
	}

	if result.FinalVerdict == nil || *result.FinalVerdict != message.VerdictCovered {
		t.Fatalf("expected COVERED, got %v", result.FinalVerdict)
	}
	if result.AgreementRatio != 1.0 {
		t.Errorf("expected agreement ratio 1.0, got %v", result.AgreementRatio)
	}
	if result.ConsensusCoverageAmount == nil || *result.ConsensusCoverageAmount != 200 {
		t.Errorf("expected mean coverage 200, got %v", result.ConsensusCoverageAmount)
	}

	snap := o.Metrics().Snapshot()
	if snap.ConsensusAchieved != 1 || snap.AgentTimeouts != 0 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
	if o.ActiveSessions() != 0 {
		t.Error("session table should be empty after completion")
	}
}

func TestExecuteTimeoutPartialResults(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")
	w2 := registerAgent(t, o, "agent-2")
	registerAgent(t, o, "agent-3") // never responds

	done := make(chan *message.ConsensusResult, 1)
	go func() {
		result, err := o.Execute(context.Background(), consensusRequest("claim-2", 1, 0.6))
		if err != nil {
			t.Errorf("execute: %v", err)
		}
		done <- result
	}()

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch to agent-1", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	v1 := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(200), eval.MessageID)
	v2 := signedVerdict(w2, "agent-2", message.VerdictCovered, amt(200), eval.MessageID)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-2", eval.MessageID, w1.Address(), v1)))
	o.process(w2.Address(), mustEnvelope(t, verdictResponse("claim-2", eval.MessageID, w2.Address(), v2)))

	var result *message.ConsensusResult
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("session never timed out")
	}

	// Two of three agents answered; agreement over the received verdicts
	// is unanimous, so partial consensus is still achieved.
	if result.FinalVerdict == nil || *result.FinalVerdict != message.VerdictCovered {
		t.Fatalf("expected COVERED from partial results, got %v", result.FinalVerdict)
	}
	if result.AgreementRatio != 1.0 {
		t.Errorf("expected agreement ratio 1.0 over received verdicts, got %v", result.AgreementRatio)
	}
	if result.ConsensusCoverageAmount == nil || *result.ConsensusCoverageAmount != 200 {
		t.Errorf("expected coverage 200, got %v", result.ConsensusCoverageAmount)
	}

	snap := o.Metrics().Snapshot()
	if snap.AgentTimeouts != 1 || snap.PartialConsensusCount != 1 {
		t.Errorf("expected one timeout and one partial consensus: %+v", snap)
	}
	if snap.ConsensusAchieved != 1 {
		t.Errorf("partial consensus should still count as achieved: %+v", snap)
	}
}

func TestExecuteRejectsActiveSession(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.Execute(context.Background(), consensusRequest("claim-3", 30, 1.0)); err != nil {
			t.Errorf("first execute: %v", err)
		}
	}()

	waitFor(t, 2*time.Second, "first session to open", func() bool {
		return o.ActiveSessions() == 1
	})

	if _, err := o.Execute(context.Background(), consensusRequest("claim-3", 30, 1.0)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	eval, ok := transport.evaluationFor(w1.Address())
	if !ok {
		t.Fatal("no dispatch recorded")
	}
	v := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(50), eval.MessageID)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-3", eval.MessageID, w1.Address(), v)))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first session blocked by rejected duplicate")
	}

	// The rejection counted an evaluation but not a failure verdict pair.
	snap := o.Metrics().Snapshot()
	if snap.TotalEvaluations != 2 {
		t.Errorf("expected 2 evaluation attempts, got %d", snap.TotalEvaluations)
	}
	if snap.ConsensusAchieved != 1 {
		t.Errorf("first session should have achieved consensus: %+v", snap)
	}
}

func TestHandleConsensusRequestActiveSessionResponse(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Execute(context.Background(), consensusRequest("claim-4", 30, 1.0))
	}()
	waitFor(t, 2*time.Second, "session to open", func() bool {
		return o.ActiveSessions() == 1
	})

	req := consensusRequest("claim-4", 30, 1.0)
	o.process("client-address", mustEnvelope(t, req))

	var resp *message.ConsensusResponse
	waitFor(t, 2*time.Second, "consensus response to requester", func() bool {
		for _, s := range transport.messages() {
			if r, ok := s.msg.(*message.ConsensusResponse); ok && s.to == "client-address" {
				resp = r
			}
		}
		return resp != nil
	})
	if resp.Success {
		t.Error("duplicate-session response should not be successful")
	}
	if resp.ErrorType != errorTypeSessionActive {
		t.Errorf("expected error type %q, got %q", errorTypeSessionActive, resp.ErrorType)
	}
	if resp.RequestMessageID != req.MessageID {
		t.Error("response not correlated to the rejected request")
	}

	eval, _ := transport.evaluationFor(w1.Address())
	v := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(50), eval.MessageID)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-4", eval.MessageID, w1.Address(), v)))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first session did not complete")
	}
}

func TestDuplicateNonceDropped(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	ping := &message.AgentPing{Base: message.NewBase("ping"), RequesterAddress: "peer"}
	env := mustEnvelope(t, ping)

	o.process("peer", env)
	o.process("peer", env)

	pongs := 0
	for _, s := range transport.messages() {
		if _, ok := s.msg.(*message.AgentPong); ok {
			pongs++
		}
	}
	if pongs != 1 {
		t.Errorf("expected exactly one pong, got %d", pongs)
	}
	if snap := o.Metrics().Snapshot(); snap.DuplicateMessages != 1 {
		t.Errorf("expected 1 duplicate counted, got %d", snap.DuplicateMessages)
	}
}

func TestVerdictFromUnregisteredSenderDropped(t *testing.T) {
	o, _ := newTestOrchestrator(Config{})
	defer o.Close()

	w, err := wallet.NewWallet()
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	v := signedVerdict(w, "intruder", message.VerdictCovered, amt(999), "eval_123")
	resp := verdictResponse("claim-x", "eval_123", w.Address(), v)

	if err := o.process(w.Address(), mustEnvelope(t, resp)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if snap := o.Metrics().Snapshot(); snap.WalletVerificationFailures != 1 {
		t.Errorf("expected 1 wallet verification failure, got %d", snap.WalletVerificationFailures)
	}
}

func TestReplayedVerdictDropped(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")
	w2 := registerAgent(t, o, "agent-2")

	done := make(chan *message.ConsensusResult, 1)
	go func() {
		result, _ := o.Execute(context.Background(), consensusRequest("claim-5", 30, 0.5))
		done <- result
	}()

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	v1 := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(100), eval.MessageID)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-5", eval.MessageID, w1.Address(), v1)))

	// Same signed verdict again under a fresh nonce: the nonce cache does
	// not catch it, the per-session signature set must.
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-5", eval.MessageID, w1.Address(), v1)))

	if snap := o.Metrics().Snapshot(); snap.ReplayDetections != 1 {
		t.Fatalf("expected 1 replay detection, got %d", snap.ReplayDetections)
	}

	v2 := signedVerdict(w2, "agent-2", message.VerdictCovered, amt(100), eval.MessageID)
	o.process(w2.Address(), mustEnvelope(t, verdictResponse("claim-5", eval.MessageID, w2.Address(), v2)))

	var result *message.ConsensusResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
	}
	if len(result.AgentVerdicts) != 2 {
		t.Errorf("expected 2 accepted verdicts, got %d", len(result.AgentVerdicts))
	}
}

func TestSessionDoesNotOccupyWorker(t *testing.T) {
	o, transport := newTestOrchestrator(Config{Workers: 1})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")

	// Request and verdict both travel through the single-worker pool. The
	// session must leave that worker free, or its own verdict can never be
	// processed and the session closes empty by timeout.
	req := consensusRequest("claim-starve", 30, 1.0)
	o.Handle("client-address", mustEnvelope(t, req))

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	v := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(100), eval.MessageID)
	o.Handle(w1.Address(), mustEnvelope(t, verdictResponse("claim-starve", eval.MessageID, w1.Address(), v)))

	var resp *message.ConsensusResponse
	waitFor(t, 5*time.Second, "consensus response", func() bool {
		for _, s := range transport.messages() {
			if r, ok := s.msg.(*message.ConsensusResponse); ok && s.to == "client-address" {
				resp = r
			}
		}
		return resp != nil
	})

	if !resp.Success || resp.Result == nil {
		t.Fatalf("expected successful consensus, got %+v", resp)
	}
	if len(resp.Result.AgentVerdicts) != 1 {
		t.Errorf("expected 1 accepted verdict, got %d", len(resp.Result.AgentVerdicts))
	}
	if snap := o.Metrics().Snapshot(); snap.AgentTimeouts != 0 {
		t.Errorf("session closed by timeout instead of quorum: %+v", snap)
	}
}

func TestSecondResponseFromSenderDropped(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")
	w2 := registerAgent(t, o, "agent-2")

	done := make(chan *message.ConsensusResult, 1)
	go func() {
		result, _ := o.Execute(context.Background(), consensusRequest("claim-pad", 30, 1.0))
		done <- result
	}()

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	v1 := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(100), eval.MessageID)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-pad", eval.MessageID, w1.Address(), v1)))

	// A fresh, validly signed verdict from the same agent: new nonce, new
	// signature, so neither the nonce cache nor the signature set catches
	// it. The per-sender check must, or one agent could pad the quorum.
	v1b := signedVerdict(w1, "agent-1", message.VerdictNotCovered, nil, eval.MessageID)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-pad", eval.MessageID, w1.Address(), v1b)))

	if snap := o.Metrics().Snapshot(); snap.ReplayDetections != 1 {
		t.Fatalf("expected 1 replay detection, got %d", snap.ReplayDetections)
	}
	if o.ActiveSessions() != 1 {
		t.Fatal("padded responses must not close the session early")
	}

	v2 := signedVerdict(w2, "agent-2", message.VerdictCovered, amt(100), eval.MessageID)
	o.process(w2.Address(), mustEnvelope(t, verdictResponse("claim-pad", eval.MessageID, w2.Address(), v2)))

	var result *message.ConsensusResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
	}
	if len(result.AgentVerdicts) != 2 {
		t.Errorf("expected 2 accepted verdicts, got %d", len(result.AgentVerdicts))
	}
	if result.FinalVerdict == nil || *result.FinalVerdict != message.VerdictCovered {
		t.Errorf("padded dissent leaked into the result: %v", result.FinalVerdict)
	}
	if result.AgreementRatio != 1.0 {
		t.Errorf("expected agreement ratio 1.0, got %v", result.AgreementRatio)
	}
}

func TestRepeatedErrorResponseDropped(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")
	w2 := registerAgent(t, o, "agent-2")

	done := make(chan *message.ConsensusResult, 1)
	go func() {
		result, _ := o.Execute(context.Background(), consensusRequest("claim-err", 30, 1.0))
		done <- result
	}()

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	// Error responses carry no signature, so only the per-sender check can
	// stop the same failing agent from counting toward quorum twice.
	for i := 0; i < 2; i++ {
		errResp := &message.VerdictResponse{
			Base:             message.NewBase("verdict"),
			ClaimID:          "claim-err",
			RequestMessageID: eval.MessageID,
			AgentAddress:     w1.Address(),
			ErrorMessage:     "document extraction failed",
			ErrorType:        "ExtractionError",
		}
		o.process(w1.Address(), mustEnvelope(t, errResp))
	}

	if snap := o.Metrics().Snapshot(); snap.ReplayDetections != 1 {
		t.Fatalf("expected 1 replay detection, got %d", snap.ReplayDetections)
	}
	if o.ActiveSessions() != 1 {
		t.Fatal("repeated error responses must not close the session early")
	}

	v2 := signedVerdict(w2, "agent-2", message.VerdictCovered, amt(100), eval.MessageID)
	o.process(w2.Address(), mustEnvelope(t, verdictResponse("claim-err", eval.MessageID, w2.Address(), v2)))

	var result *message.ConsensusResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
	}
	// One error response and one verdict; only the verdict enters analysis.
	if len(result.AgentVerdicts) != 1 {
		t.Errorf("expected 1 analyzed verdict, got %d", len(result.AgentVerdicts))
	}
}

func TestTamperedVerdictDropped(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	w1 := registerAgent(t, o, "agent-1")

	done := make(chan *message.ConsensusResult, 1)
	go func() {
		result, _ := o.Execute(context.Background(), consensusRequest("claim-6", 1, 1.0))
		done <- result
	}()

	var eval *message.ClaimEvaluation
	waitFor(t, 2*time.Second, "dispatch", func() bool {
		e, ok := transport.evaluationFor(w1.Address())
		eval = e
		return ok
	})

	v := signedVerdict(w1, "agent-1", message.VerdictCovered, amt(100), eval.MessageID)
	v.CoverageAmount = amt(100000)
	o.process(w1.Address(), mustEnvelope(t, verdictResponse("claim-6", eval.MessageID, w1.Address(), v)))

	if snap := o.Metrics().Snapshot(); snap.InvalidSignatures != 1 {
		t.Fatalf("expected 1 invalid signature, got %d", snap.InvalidSignatures)
	}

	var result *message.ConsensusResult
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("session never timed out")
	}
	if len(result.AgentVerdicts) != 0 {
		t.Errorf("tampered verdict must not enter the result, got %d verdicts", len(result.AgentVerdicts))
	}
}

func TestRegistrationSenderMismatchRejected(t *testing.T) {
	o, _ := newTestOrchestrator(Config{})
	defer o.Close()

	reg := &message.AgentRegistration{
		Base:         message.NewBase("register"),
		AgentID:      "agent-1",
		AgentAddress: "claimed-address",
		AgentType:    "claims_evaluator",
	}
	if err := o.process("actual-sender", mustEnvelope(t, reg)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if o.Registry().Len() != 0 {
		t.Error("mismatched registration must not be stored")
	}
	if snap := o.Metrics().Snapshot(); snap.WalletVerificationFailures != 1 {
		t.Errorf("expected 1 wallet verification failure, got %d", snap.WalletVerificationFailures)
	}
}

func TestDiscoveryAnswersWithMatchingAgents(t *testing.T) {
	o, transport := newTestOrchestrator(Config{})
	defer o.Close()

	registerAgent(t, o, "agent-1")
	registerAgent(t, o, "agent-2")

	disc := &message.AgentDiscovery{
		Base:                 message.NewBase("discover"),
		RequesterAddress:     "client",
		RequiredCapabilities: []string{"claim_evaluation"},
	}
	if err := o.process("client", mustEnvelope(t, disc)); err != nil {
		t.Fatalf("process: %v", err)
	}

	var list *message.AgentList
	for _, s := range transport.messages() {
		if l, ok := s.msg.(*message.AgentList); ok && s.to == "client" {
			list = l
		}
	}
	if list == nil {
		t.Fatal("no agent list sent")
	}
	if list.TotalAgents != 2 || len(list.Agents) != 2 {
		t.Errorf("expected 2 agents, got %d", list.TotalAgents)
	}
	if list.RequestMessageID != disc.MessageID {
		t.Error("list not correlated to the discovery request")
	}
	if list.OrchestratorAddress != transport.Address() {
		t.Error("list missing orchestrator address")
	}
}

func TestObserverAndResultHook(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []string
		results  []*message.ConsensusResult
	)
	cfg := Config{
		Observer: observerFunc(func(claimID string, achieved bool, _ time.Duration) {
			mu.Lock()
			observed = append(observed, claimID)
			mu.Unlock()
		}),
		OnResult: func(r *message.ConsensusResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	}
	o, _ := newTestOrchestrator(cfg)
	defer o.Close()

	if _, err := o.Execute(context.Background(), consensusRequest("claim-7", 30, 1.0)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || observed[0] != "claim-7" {
		t.Errorf("observer not notified: %v", observed)
	}
	if len(results) != 1 || results[0].ClaimID != "claim-7" {
		t.Errorf("result hook not invoked: %v", results)
	}
}

type observerFunc func(claimID string, achieved bool, duration time.Duration)

func (f observerFunc) ConsensusCompleted(claimID string, achieved bool, duration time.Duration) {
	f(claimID, achieved, duration)
}

func TestHealthCheckReportsMetrics(t *testing.T) {
	o, transport := newTestOrchestrator(Config{OrchestratorID: "orch-test"})
	defer o.Close()

	o.Execute(context.Background(), consensusRequest("claim-8", 30, 1.0))

	hc := &message.HealthCheck{Base: message.NewBase("health"), RequesterAddress: "client", CheckType: "basic"}
	if err := o.process("client", mustEnvelope(t, hc)); err != nil {
		t.Fatalf("process: %v", err)
	}

	var resp *message.HealthResponse
	for _, s := range transport.messages() {
		if r, ok := s.msg.(*message.HealthResponse); ok {
			resp = r
		}
	}
	if resp == nil {
		t.Fatal("no health response sent")
	}
	if resp.Status != "healthy" || resp.AgentID != "orch-test" {
		t.Errorf("unexpected health response: %+v", resp)
	}
	if resp.TotalEvaluations != 1 {
		t.Errorf("expected 1 evaluation reported, got %d", resp.TotalEvaluations)
	}
	if resp.RequestMessageID != hc.MessageID {
		t.Error("health response not correlated to the check")
	}
}
