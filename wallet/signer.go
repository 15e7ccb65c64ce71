package wallet

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/gordonkoehn/BioVault/message"
)

// Signature algorithm labels.
const (
	AlgorithmSecp256k1 = "secp256k1"
	// AlgorithmFallback tags the placeholder produced when the underlying
	// signing operation fails. A fallback signature never verifies.
	AlgorithmFallback = "secp256k1_fallback"

	fallbackPrefix = "SIGNING_ERROR_"
)

// canonicalTimeLayout renders timestamps with millisecond precision for the
// signing payload.
const canonicalTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// bindingField is the payload key carrying the replay-binding identifier.
const bindingField = "message_id"

// signedFields is the fixed, ordered field set covered by every verdict
// signature. bindingField is appended when a binding ID is provided.
var signedFields = []string{
	"agent_id", "agent_type", "timestamp", "verdict",
	"coverage_amount", "primary_reason",
}

// SignVerdict signs a verdict with the agent's wallet. bindingID is the
// originating request's message ID; when non-empty it enters the signed
// payload, so a signature over the same verdict under a different binding ID
// differs. Signing failures degrade to a tagged fallback signature rather
// than an error: callers must treat it as untrusted, and verification
// rejects it.
func SignVerdict(s Signer, v *message.Verdict, bindingID string) message.Signature {
	fields := append([]string(nil), signedFields...)
	if bindingID != "" {
		fields = append(fields, bindingField)
	}

	payload := canonicalPayload(v, fields, bindingID)
	digest := sha256.Sum256(payload)

	raw, err := s.SignDigest(digest[:])
	if err != nil {
		fallback := sha256.Sum256(payload)
		return message.Signature{
			Value:         fallbackPrefix + hex.EncodeToString(fallback[:])[:12],
			Algorithm:     AlgorithmFallback,
			SignedFields:  fields,
			SignerAddress: s.Address(),
		}
	}

	return message.Signature{
		Value:         hex.EncodeToString(raw),
		Algorithm:     AlgorithmSecp256k1,
		SignedFields:  fields,
		SignerAddress: s.Address(),
	}
}

// VerifyVerdict checks a verdict's signature against the claimed signer's
// wallet address. The canonical payload is rebuilt from the signature's own
// signed_fields list, so the verifier needs no prior knowledge of the
// signer's field set. A structurally valid signature whose signer_address
// does not literally equal the claimed address fails. The returned reason is
// for diagnostics only and must not be forwarded to unauthenticated peers.
func VerifyVerdict(v *message.Verdict, signerAddress, bindingID string) (bool, string) {
	if v == nil || v.Signature == nil {
		return false, "missing signature"
	}
	sig := v.Signature

	if sig.SignerAddress != signerAddress {
		return false, "signer address mismatch"
	}
	if sig.Algorithm != AlgorithmSecp256k1 {
		return false, "unsupported algorithm: " + sig.Algorithm
	}

	pub, err := parseAddress(signerAddress)
	if err != nil {
		return false, "invalid signer address"
	}

	raw, err := hex.DecodeString(sig.Value)
	if err != nil {
		return false, "invalid signature hex"
	}
	parsed, err := parseDERSignature(raw)
	if err != nil {
		return false, "malformed signature"
	}

	payload := canonicalPayload(v, sig.SignedFields, bindingID)
	digest := sha256.Sum256(payload)

	if !parsed.Verify(digest[:], pub) {
		return false, "signature mismatch"
	}
	return true, ""
}

// canonicalPayload serializes the selected verdict fields as compact JSON
// with lexicographically sorted keys. Timestamps are normalized to
// millisecond ISO-8601 text and enum values to their string labels, so both
// signer and verifier reach the same bytes from the same verdict.
func canonicalPayload(v *message.Verdict, fields []string, bindingID string) []byte {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		switch f {
		case "agent_id":
			m[f] = v.AgentID
		case "agent_type":
			m[f] = v.AgentType
		case "timestamp":
			m[f] = v.Timestamp.UTC().Format(canonicalTimeLayout)
		case "verdict":
			m[f] = string(v.Verdict)
		case "coverage_amount":
			if v.CoverageAmount != nil {
				m[f] = *v.CoverageAmount
			} else {
				m[f] = nil
			}
		case "primary_reason":
			m[f] = v.PrimaryReason
		case bindingField:
			m[f] = bindingID
		}
	}

	// Map keys marshal in sorted order; a verdict map can always marshal.
	payload, _ := json.Marshal(m)
	return payload
}
