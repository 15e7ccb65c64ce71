package consensus

import (
	"time"

	"github.com/gordonkoehn/BioVault/message"
)

// Analyze combines the accepted verdict responses of a closed session into a
// consensus result. It never fails: an empty input yields a zero result with
// no final verdict rather than an error.
//
// The majority kind is the one with the highest count; ties break in favor
// of the kind seen first among the accepted verdicts. The tie-break is
// deliberately order-dependent so results are deterministic for a fixed
// input order.
func Analyze(claimID string, responses []*message.VerdictResponse, threshold float64, startTime time.Time) *message.ConsensusResult {
	result := &message.ConsensusResult{
		ClaimID:             claimID,
		AgentVerdicts:       []message.Verdict{},
		DissentingAgents:    []string{},
		ProcessingTimeMS:    time.Since(startTime).Milliseconds(),
		EvaluationTimestamp: time.Now().UTC(),
	}

	// Only successful responses carrying a verdict enter the analysis;
	// error responses count toward quorum but not toward agreement.
	verdicts := make([]*message.Verdict, 0, len(responses))
	for _, resp := range responses {
		if resp.Success && resp.Verdict != nil {
			verdicts = append(verdicts, resp.Verdict)
			result.AgentVerdicts = append(result.AgentVerdicts, *resp.Verdict)
		}
	}

	if len(verdicts) == 0 {
		return result
	}

	counts := make(map[message.VerdictKind]int, 4)
	order := make([]message.VerdictKind, 0, 4)
	for _, v := range verdicts {
		if counts[v.Verdict] == 0 {
			order = append(order, v.Verdict)
		}
		counts[v.Verdict]++
	}

	var majority message.VerdictKind
	best := 0
	for _, kind := range order {
		if counts[kind] > best {
			best = counts[kind]
			majority = kind
		}
	}

	result.AgreementRatio = float64(best) / float64(len(verdicts))
	achieved := result.AgreementRatio >= threshold

	for _, v := range verdicts {
		if v.Verdict != majority {
			result.DissentingAgents = append(result.DissentingAgents, v.AgentID)
		}
	}

	if achieved {
		kind := majority
		result.FinalVerdict = &kind

		if majority.Monetary() {
			// Mean over every non-null amount, minority verdicts included.
			sum, n := 0.0, 0
			for _, v := range verdicts {
				if v.CoverageAmount != nil {
					sum += *v.CoverageAmount
					n++
				}
			}
			if n > 0 {
				amount := sum / float64(n)
				result.ConsensusCoverageAmount = &amount
			}
		}
	}

	return result
}
