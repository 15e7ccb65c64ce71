// Package agent implements a BioVault evaluator agent.
//
// This package implements:
//   - Agent: message-driven runtime that evaluates claims and returns
//     signed verdicts
//   - Backend: pluggable extraction and evaluation behind interfaces
//   - RuleBackend: deterministic policy-rule evaluation
//   - Input validation with vault-root path confinement
package agent
