package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/gordonkoehn/BioVault/message"
)

// Error taxonomy labels carried in verdict responses.
const (
	ErrorTypeValidation = "ValidationError"
	ErrorTypeExtraction = "ExtractionError"
	ErrorTypeEvaluation = "EvaluationError"
)

// PolicySummary is the structured content of an insurance policy document.
type PolicySummary struct {
	PolicyNumber      string            `json:"policy_number"`
	CoverageType      string            `json:"coverage_type"`
	AnnualLimit       float64           `json:"annual_limit"`
	Deductible        *float64          `json:"deductible,omitempty"`
	CopayPercentage   *float64          `json:"copay_percentage,omitempty"`
	Exclusions        []string          `json:"exclusions"`
	CoveredServices   []string          `json:"covered_services"`
	EffectiveDates    map[string]string `json:"effective_dates"`
	SpecialConditions []string          `json:"special_conditions,omitempty"`
}

// InvoiceSummary is the structured content of a claim invoice.
type InvoiceSummary struct {
	InvoiceNumber   string             `json:"invoice_number"`
	ServiceType     string             `json:"service_type"`
	Amount          float64            `json:"amount"`
	ServiceDate     string             `json:"service_date"`
	ProviderID      string             `json:"provider_id"`
	ProviderName    string             `json:"provider_name,omitempty"`
	DiagnosisCodes  []string           `json:"diagnosis_codes,omitempty"`
	ProcedureCodes  []string           `json:"procedure_codes,omitempty"`
	ItemizedCharges map[string]float64 `json:"itemized_charges,omitempty"`
}

// Judgment is one backend's coverage decision before it is wrapped and
// signed as a wire verdict.
type Judgment struct {
	Verdict             message.VerdictKind
	CoverageAmount      *float64
	PrimaryReason       string
	SupportingReasons   []string
	Confidence          float64
	RequiresHumanReview bool
}

// DocumentExtractor turns an encrypted vault document into text. The key is
// opaque to the agent runtime; the extractor decides what to do with it.
type DocumentExtractor interface {
	Extract(ctx context.Context, path, key string) (string, error)
}

// Backend produces structured summaries and a coverage judgment. LLM-backed
// and rule-based implementations are interchangeable.
type Backend interface {
	ExtractPolicy(ctx context.Context, text string) (*PolicySummary, error)
	ExtractInvoice(ctx context.Context, text string) (*InvoiceSummary, error)
	Evaluate(ctx context.Context, policy *PolicySummary, invoice *InvoiceSummary, claimID string) (*Judgment, error)
	ModelName() string
}

// FileExtractor reads vault documents straight from the filesystem. It fits
// deployments where the vault mount decrypts transparently; the key is
// validated upstream and unused here.
type FileExtractor struct{}

// Extract reads the document at path.
func (FileExtractor) Extract(_ context.Context, path, _ string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}
