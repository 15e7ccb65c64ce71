package audit

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// ResultSchema returns the Arrow schema for one consensus outcome.
//
// Fields:
//   - claim_id: string - Claim identifier
//   - final_verdict: string (nullable) - Agreed verdict, null when consensus failed
//   - agreement_ratio: float64 - Share of verdicts agreeing with the majority
//   - consensus_coverage_amount: float64 (nullable) - Mean coverage amount
//   - accepted_verdicts: int64 - Number of verdicts entering the analysis.
//     Only the count is stored; per-verdict detail does not round-trip
//   - dissenting_agents: list<string> (nullable) - Agents outside the majority
//   - processing_time_ms: int64 - Session wall-clock duration
//   - evaluated_at: float64 - Unix timestamp of the evaluation
func ResultSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "claim_id", Type: arrow.BinaryTypes.String},
			{Name: "final_verdict", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "agreement_ratio", Type: arrow.PrimitiveTypes.Float64},
			{Name: "consensus_coverage_amount", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			{Name: "accepted_verdicts", Type: arrow.PrimitiveTypes.Int64},
			{
				Name:     "dissenting_agents",
				Type:     arrow.ListOf(arrow.BinaryTypes.String),
				Nullable: true,
			},
			{Name: "processing_time_ms", Type: arrow.PrimitiveTypes.Int64},
			{Name: "evaluated_at", Type: arrow.PrimitiveTypes.Float64},
		},
		nil,
	)
}
