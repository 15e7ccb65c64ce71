package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordonkoehn/BioVault/message"
)

func f64(v float64) *float64 { return &v }

func sampleResults() []*message.ConsensusResult {
	covered := message.VerdictCovered
	return []*message.ConsensusResult{
		{
			ClaimID:                 "claim-1",
			FinalVerdict:            &covered,
			AgreementRatio:          1.0,
			AgentVerdicts:           []message.Verdict{{AgentID: "agent-1"}, {AgentID: "agent-2"}},
			DissentingAgents:        []string{},
			ConsensusCoverageAmount: f64(200),
			ProcessingTimeMS:        1500,
			EvaluationTimestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ClaimID:             "claim-2",
			AgreementRatio:      0.5,
			AgentVerdicts:       []message.Verdict{{AgentID: "agent-1"}},
			DissentingAgents:    []string{"agent-2", "agent-3"},
			ProcessingTimeMS:    900,
			EvaluationTimestamp: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		},
	}
}

func TestConverterRoundTrip(t *testing.T) {
	conv := NewConverter()

	record, err := conv.ResultsToRecord(sampleResults())
	if err != nil {
		t.Fatalf("to record: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", record.NumRows())
	}

	back, err := conv.RecordToResults(record)
	if err != nil {
		t.Fatalf("to results: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("expected 2 results, got %d", len(back))
	}

	first := back[0]
	if first.ClaimID != "claim-1" {
		t.Errorf("claim_id = %s", first.ClaimID)
	}
	if first.FinalVerdict == nil || *first.FinalVerdict != message.VerdictCovered {
		t.Errorf("final verdict = %v", first.FinalVerdict)
	}
	if first.ConsensusCoverageAmount == nil || *first.ConsensusCoverageAmount != 200 {
		t.Errorf("coverage = %v", first.ConsensusCoverageAmount)
	}
	if first.AgreementRatio != 1.0 || first.ProcessingTimeMS != 1500 {
		t.Errorf("analysis fields lost: %+v", first)
	}
	// Per-verdict detail is not stored; the accepted count must survive as
	// placeholder entries.
	if len(first.AgentVerdicts) != 2 {
		t.Errorf("accepted verdict count lost: got %d, want 2", len(first.AgentVerdicts))
	}

	second := back[1]
	if len(second.AgentVerdicts) != 1 {
		t.Errorf("accepted verdict count lost: got %d, want 1", len(second.AgentVerdicts))
	}
	if second.FinalVerdict != nil {
		t.Error("failed consensus must round-trip with a null verdict")
	}
	if second.ConsensusCoverageAmount != nil {
		t.Error("missing coverage must round-trip as nil")
	}
	if len(second.DissentingAgents) != 2 || second.DissentingAgents[0] != "agent-2" {
		t.Errorf("dissenting agents = %v", second.DissentingAgents)
	}
}

func TestConverterEmptyInput(t *testing.T) {
	conv := NewConverter()
	if _, err := conv.ResultsToRecord(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestSerializeDeserialize(t *testing.T) {
	conv := NewConverter()

	record, err := conv.ResultsToRecord(sampleResults())
	if err != nil {
		t.Fatalf("to record: %v", err)
	}
	defer record.Release()

	data, err := SerializeRecord(record)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty IPC payload")
	}

	restored, err := DeserializeRecord(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	defer restored.Release()

	if restored.NumRows() != record.NumRows() {
		t.Errorf("rows = %d, want %d", restored.NumRows(), record.NumRows())
	}
	back, err := conv.RecordToResults(restored)
	if err != nil {
		t.Fatalf("to results: %v", err)
	}
	if back[0].ClaimID != "claim-1" || back[1].ClaimID != "claim-2" {
		t.Error("claim ids lost in IPC round trip")
	}
}

func TestDeserializeGarbage(t *testing.T) {
	if _, err := DeserializeRecord([]byte("not arrow data")); err == nil {
		t.Error("expected error for malformed IPC bytes")
	}
}

func TestLogFlushing(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLog(dir, 2)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}

	results := sampleResults()
	if err := log.Append(results[0]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if log.Pending() != 1 {
		t.Errorf("pending = %d, want 1", log.Pending())
	}

	// Second append crosses the threshold and flushes.
	if err := log.Append(results[1]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if log.Pending() != 0 {
		t.Errorf("pending = %d after auto-flush, want 0", log.Pending())
	}

	if err := log.Append(results[0]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "consensus_*.arrow"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 audit files, got %d", len(files))
	}

	conv := NewConverter()
	rows := int64(0)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		record, err := DeserializeRecord(data)
		if err != nil {
			t.Fatalf("deserialize %s: %v", file, err)
		}
		rows += record.NumRows()
		if _, err := conv.RecordToResults(record); err != nil {
			t.Errorf("decode %s: %v", file, err)
		}
		record.Release()
	}
	if rows != 3 {
		t.Errorf("total rows = %d, want 3", rows)
	}
}
