package consensus

import (
	"sync"
	"time"

	"github.com/gordonkoehn/BioVault/message"
)

// sessionState tracks one session through its lifecycle:
// created -> collecting -> {quorumReached | timedOut} -> closed.
type sessionState int32

const (
	stateCreated sessionState = iota
	stateCollecting
	stateQuorumReached
	stateTimedOut
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateCollecting:
		return "collecting"
	case stateQuorumReached:
		return "quorum_reached"
	case stateTimedOut:
		return "timed_out"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// acceptOutcome classifies one verdict submission against a session.
type acceptOutcome int

const (
	acceptOK acceptOutcome = iota
	acceptReplay
	acceptDuplicateSender
	acceptMismatch
	acceptClosed
)

// session is the bounded-lifetime state for one claim evaluation. All
// mutation goes through its own mutex, so two verdicts for the same claim
// arriving near-simultaneously serialize per session rather than behind a
// global lock.
type session struct {
	claimID       string
	request       *message.ConsensusRequest
	startTime     time.Time
	evalMessageID string
	threshold     float64

	mu           sync.Mutex
	state        sessionState
	expected     int
	responses    []*message.VerdictResponse
	acceptedSigs map[string]struct{}
	acceptedFrom map[string]struct{}
	comp         *completion
}

func newSession(req *message.ConsensusRequest, threshold float64) *session {
	return &session{
		claimID:      req.ClaimID,
		request:      req,
		startTime:    time.Now(),
		threshold:    threshold,
		state:        stateCreated,
		acceptedSigs: make(map[string]struct{}),
		acceptedFrom: make(map[string]struct{}),
		comp:         newCompletion(),
	}
}

// prepare opens the collection window before the first dispatch goes out, so
// an agent answering faster than the dispatch loop finishes is not turned
// away. expected starts at the number of agents being dispatched to.
func (s *session) prepare(evalMessageID string, expected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalMessageID = evalMessageID
	s.expected = expected
	s.state = stateCollecting
}

// adjustExpected lowers the expected count to the number of agents the
// dispatch actually reached. Agents that failed to receive the dispatch are
// excluded, not waited upon. Returns true when the adjustment itself
// satisfies quorum (including the zero-agent case).
func (s *session) adjustExpected(sent int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = sent
	if s.state == stateCollecting && len(s.responses) >= s.expected {
		s.state = stateQuorumReached
		return true
	}
	return false
}

// binding returns the replay-binding identifier for this session: the
// message ID of the evaluation request it dispatched.
func (s *session) binding() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evalMessageID
}

// accept records a verified verdict response from the given sender address.
// Returns the outcome and, for an accepted response, whether it reached
// quorum. Each sender gets exactly one accepted response: a re-signed
// verdict or a repeated error response from the same agent cannot pad the
// quorum count. The (bindingID, signature) replay set additionally rejects
// a byte-identical signed verdict resubmitted under a fresh nonce.
func (s *session) accept(sender string, resp *message.VerdictResponse) (acceptOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateCollecting {
		return acceptClosed, false
	}
	if resp.RequestMessageID != s.evalMessageID {
		return acceptMismatch, false
	}

	if resp.Verdict != nil && resp.Verdict.Signature != nil {
		key := resp.Verdict.Signature.Value
		if _, seen := s.acceptedSigs[key]; seen {
			return acceptReplay, false
		}
	}
	if _, seen := s.acceptedFrom[sender]; seen {
		return acceptDuplicateSender, false
	}

	if resp.Verdict != nil && resp.Verdict.Signature != nil {
		s.acceptedSigs[resp.Verdict.Signature.Value] = struct{}{}
	}
	s.acceptedFrom[sender] = struct{}{}
	s.responses = append(s.responses, resp)

	if len(s.responses) >= s.expected {
		s.state = stateQuorumReached
		return acceptOK, true
	}
	return acceptOK, false
}

// timeout marks the session timed out unless quorum already completed it.
// Returns true when the timeout path won the race.
func (s *session) timeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateCollecting {
		return false
	}
	s.state = stateTimedOut
	return true
}

// close transitions to the terminal state and returns the accepted
// responses. After close the session performs no further work; results of
// any outstanding verification for this claim are discarded by accept.
func (s *session) close() []*message.VerdictResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
	responses := s.responses
	s.responses = nil
	s.acceptedSigs = nil
	s.acceptedFrom = nil
	return responses
}

// snapshot returns the current state and accepted-response count.
func (s *session) snapshot() (sessionState, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, len(s.responses), s.expected
}
