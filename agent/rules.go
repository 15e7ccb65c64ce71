package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gordonkoehn/BioVault/message"
)

// RuleBackend evaluates claims with deterministic policy rules over JSON
// documents. It needs no external model and produces the same judgment for
// the same inputs, which makes multi-agent agreement tests reproducible.
type RuleBackend struct{}

// NewRuleBackend creates a rule-based backend.
func NewRuleBackend() *RuleBackend { return &RuleBackend{} }

// ModelName identifies the evaluation model in verdicts.
func (*RuleBackend) ModelName() string { return "biovault-rules-v1" }

// ExtractPolicy parses a policy document serialized as JSON.
func (*RuleBackend) ExtractPolicy(_ context.Context, text string) (*PolicySummary, error) {
	var p PolicySummary
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if p.PolicyNumber == "" {
		return nil, fmt.Errorf("policy document missing policy_number")
	}
	return &p, nil
}

// ExtractInvoice parses an invoice document serialized as JSON.
func (*RuleBackend) ExtractInvoice(_ context.Context, text string) (*InvoiceSummary, error) {
	var inv InvoiceSummary
	if err := json.Unmarshal([]byte(text), &inv); err != nil {
		return nil, fmt.Errorf("parse invoice document: %w", err)
	}
	if inv.InvoiceNumber == "" {
		return nil, fmt.Errorf("invoice document missing invoice_number")
	}
	if inv.Amount < 0 {
		return nil, fmt.Errorf("invoice amount is negative: %v", inv.Amount)
	}
	return &inv, nil
}

// Evaluate applies exclusions, coverage lists, deductible, copay, and the
// annual limit, in that order.
func (*RuleBackend) Evaluate(_ context.Context, policy *PolicySummary, invoice *InvoiceSummary, claimID string) (*Judgment, error) {
	if policy == nil || invoice == nil {
		return nil, fmt.Errorf("evaluate claim %s: missing summaries", claimID)
	}

	service := strings.ToLower(invoice.ServiceType)

	for _, excl := range policy.Exclusions {
		if strings.ToLower(excl) == service {
			return &Judgment{
				Verdict:       message.VerdictNotCovered,
				PrimaryReason: fmt.Sprintf("service type %q is excluded by the policy", invoice.ServiceType),
				Confidence:    0.95,
			}, nil
		}
	}

	if len(policy.CoveredServices) > 0 && !containsFold(policy.CoveredServices, service) {
		return &Judgment{
			Verdict:             message.VerdictRequiresReview,
			PrimaryReason:       fmt.Sprintf("service type %q is not listed among covered services", invoice.ServiceType),
			Confidence:          0.4,
			RequiresHumanReview: true,
		}, nil
	}

	payable := invoice.Amount
	reasons := []string{fmt.Sprintf("service type %q is covered", invoice.ServiceType)}

	if policy.Deductible != nil && *policy.Deductible > 0 {
		payable -= *policy.Deductible
		reasons = append(reasons, fmt.Sprintf("deductible of %.2f applied", *policy.Deductible))
	}
	if payable <= 0 {
		return &Judgment{
			Verdict:           message.VerdictNotCovered,
			PrimaryReason:     "claim amount does not exceed the deductible",
			SupportingReasons: reasons,
			Confidence:        0.9,
		}, nil
	}

	if policy.CopayPercentage != nil && *policy.CopayPercentage > 0 {
		payable *= 1 - *policy.CopayPercentage/100
		reasons = append(reasons, fmt.Sprintf("copay of %.0f%% applied", *policy.CopayPercentage))
	}
	if policy.AnnualLimit > 0 && payable > policy.AnnualLimit {
		payable = policy.AnnualLimit
		reasons = append(reasons, fmt.Sprintf("capped at annual limit %.2f", policy.AnnualLimit))
	}

	if payable < invoice.Amount {
		return &Judgment{
			Verdict:           message.VerdictPartialCoverage,
			CoverageAmount:    &payable,
			PrimaryReason:     "claim is covered after deductible, copay, and limit adjustments",
			SupportingReasons: reasons,
			Confidence:        0.9,
		}, nil
	}

	return &Judgment{
		Verdict:           message.VerdictCovered,
		CoverageAmount:    &payable,
		PrimaryReason:     "claim falls fully within the policy coverage",
		SupportingReasons: reasons,
		Confidence:        0.95,
	}, nil
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.ToLower(s) == want {
			return true
		}
	}
	return false
}
