package audit

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/gordonkoehn/BioVault/message"
)

// Converter builds Arrow record batches from consensus results.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
}

// NewConverter creates a Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
		schema:    ResultSchema(),
	}
}

// ResultsToRecord converts consensus results to an Arrow record batch. The
// caller owns the returned record and must Release it.
func (c *Converter) ResultsToRecord(results []*message.ConsensusResult) (arrow.Record, error) {
	if len(results) == 0 {
		return nil, errors.New("empty results slice")
	}

	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	claimBuilder := builder.Field(0).(*array.StringBuilder)
	verdictBuilder := builder.Field(1).(*array.StringBuilder)
	ratioBuilder := builder.Field(2).(*array.Float64Builder)
	coverageBuilder := builder.Field(3).(*array.Float64Builder)
	acceptedBuilder := builder.Field(4).(*array.Int64Builder)
	dissentBuilder := builder.Field(5).(*array.ListBuilder)
	processingBuilder := builder.Field(6).(*array.Int64Builder)
	evaluatedBuilder := builder.Field(7).(*array.Float64Builder)

	dissentValues := dissentBuilder.ValueBuilder().(*array.StringBuilder)

	for _, r := range results {
		claimBuilder.Append(r.ClaimID)

		if r.FinalVerdict != nil {
			verdictBuilder.Append(string(*r.FinalVerdict))
		} else {
			verdictBuilder.AppendNull()
		}

		ratioBuilder.Append(r.AgreementRatio)

		if r.ConsensusCoverageAmount != nil {
			coverageBuilder.Append(*r.ConsensusCoverageAmount)
		} else {
			coverageBuilder.AppendNull()
		}

		acceptedBuilder.Append(int64(len(r.AgentVerdicts)))

		if len(r.DissentingAgents) > 0 {
			dissentBuilder.Append(true)
			for _, agent := range r.DissentingAgents {
				dissentValues.Append(agent)
			}
		} else {
			dissentBuilder.AppendNull()
		}

		processingBuilder.Append(r.ProcessingTimeMS)
		evaluatedBuilder.Append(float64(r.EvaluationTimestamp.UnixNano()) / float64(time.Second))
	}

	return builder.NewRecord(), nil
}

// RecordToResults converts a record batch back to consensus results.
// Per-verdict detail is not stored in the audit schema; AgentVerdicts comes
// back as zero-valued placeholders so the accepted_verdicts count survives
// the round trip.
func (c *Converter) RecordToResults(record arrow.Record) ([]*message.ConsensusResult, error) {
	if record == nil || record.NumRows() == 0 {
		return nil, nil
	}
	if record.NumCols() < 8 {
		return nil, fmt.Errorf("invalid record: expected 8 columns, got %d", record.NumCols())
	}

	claimCol, ok := record.Column(0).(*array.String)
	if !ok {
		return nil, errors.New("column 0 (claim_id) is not a String array")
	}
	verdictCol, ok := record.Column(1).(*array.String)
	if !ok {
		return nil, errors.New("column 1 (final_verdict) is not a String array")
	}
	ratioCol, ok := record.Column(2).(*array.Float64)
	if !ok {
		return nil, errors.New("column 2 (agreement_ratio) is not a Float64 array")
	}
	coverageCol, ok := record.Column(3).(*array.Float64)
	if !ok {
		return nil, errors.New("column 3 (consensus_coverage_amount) is not a Float64 array")
	}
	acceptedCol, ok := record.Column(4).(*array.Int64)
	if !ok {
		return nil, errors.New("column 4 (accepted_verdicts) is not an Int64 array")
	}
	dissentCol, ok := record.Column(5).(*array.List)
	if !ok {
		return nil, errors.New("column 5 (dissenting_agents) is not a List array")
	}
	processingCol, ok := record.Column(6).(*array.Int64)
	if !ok {
		return nil, errors.New("column 6 (processing_time_ms) is not an Int64 array")
	}
	evaluatedCol, ok := record.Column(7).(*array.Float64)
	if !ok {
		return nil, errors.New("column 7 (evaluated_at) is not a Float64 array")
	}

	dissentValues, ok := dissentCol.ListValues().(*array.String)
	if !ok {
		return nil, errors.New("dissenting_agents values are not a String array")
	}

	results := make([]*message.ConsensusResult, record.NumRows())
	for i := 0; i < int(record.NumRows()); i++ {
		r := &message.ConsensusResult{
			ClaimID:          claimCol.Value(i),
			AgreementRatio:   ratioCol.Value(i),
			AgentVerdicts:    make([]message.Verdict, acceptedCol.Value(i)),
			DissentingAgents: []string{},
			ProcessingTimeMS: processingCol.Value(i),
		}

		if !verdictCol.IsNull(i) {
			kind := message.VerdictKind(verdictCol.Value(i))
			r.FinalVerdict = &kind
		}
		if !coverageCol.IsNull(i) {
			amount := coverageCol.Value(i)
			r.ConsensusCoverageAmount = &amount
		}
		if !dissentCol.IsNull(i) {
			start, end := dissentCol.ValueOffsets(i)
			for j := start; j < end; j++ {
				r.DissentingAgents = append(r.DissentingAgents, dissentValues.Value(int(j)))
			}
		}

		seconds := evaluatedCol.Value(i)
		r.EvaluationTimestamp = time.Unix(0, int64(seconds*float64(time.Second))).UTC()

		results[i] = r
	}
	return results, nil
}

// SerializeRecord serializes a record batch to Arrow IPC bytes.
func SerializeRecord(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeRecord reads the first record batch from Arrow IPC bytes. The
// caller owns the returned record and must Release it.
func DeserializeRecord(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, errors.New("no records in IPC data")
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}
