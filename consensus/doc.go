// Package consensus implements the BioVault consensus orchestrator.
//
// This package implements:
//   - Per-claim consensus sessions: dispatch, collection, timeout,
//     partial-result fallback
//   - Verdict acceptance: deduplication, sender verification, signature
//     and replay-binding checks
//   - Majority-agreement consensus computation over accepted verdicts
//   - Process-wide evaluation metrics
package consensus
