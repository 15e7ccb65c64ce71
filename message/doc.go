// Package message defines the wire protocol for BioVault consensus messaging.
//
// This package implements:
//   - The closed catalog of message kinds exchanged between orchestrator and agents
//   - Envelope encoding/decoding with a strict schema-version gate
//   - Nonce-based message deduplication with bounded memory
package message
