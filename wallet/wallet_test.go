package wallet

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestNewWallet(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet failed: %v", err)
	}
	if w.Address() == "" {
		t.Error("Address should not be empty")
	}

	// Address is a hex-encoded 33-byte compressed public key.
	raw, err := hex.DecodeString(w.Address())
	if err != nil {
		t.Fatalf("Address is not hex: %v", err)
	}
	if len(raw) != 33 {
		t.Errorf("Expected 33-byte compressed key, got %d bytes", len(raw))
	}
}

func TestFromSeedDeterministic(t *testing.T) {
	a := FromSeed("orchestrator_seed_001")
	b := FromSeed("orchestrator_seed_001")
	c := FromSeed("orchestrator_seed_002")

	if a.Address() != b.Address() {
		t.Error("Same seed must yield the same address")
	}
	if a.Address() == c.Address() {
		t.Error("Different seeds must yield different addresses")
	}
}

func TestSignDigestDeterministic(t *testing.T) {
	w := FromSeed("agent_seed")
	digest := sha256.Sum256([]byte("payload"))

	s1, err := w.SignDigest(digest[:])
	if err != nil {
		t.Fatalf("SignDigest failed: %v", err)
	}
	s2, err := w.SignDigest(digest[:])
	if err != nil {
		t.Fatalf("SignDigest failed: %v", err)
	}

	if !bytes.Equal(s1, s2) {
		t.Error("Signing the same digest twice must be byte-identical")
	}
}

func TestSignDigestRejectsBadLength(t *testing.T) {
	w := FromSeed("agent_seed")
	if _, err := w.SignDigest([]byte("short")); err == nil {
		t.Error("Expected error for non-SHA256-sized digest")
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	w := FromSeed("agent_seed")
	pub, err := parseAddress(w.Address())
	if err != nil {
		t.Fatalf("parseAddress failed: %v", err)
	}
	if hex.EncodeToString(pub.SerializeCompressed()) != w.Address() {
		t.Error("Parsed key does not round-trip to the address")
	}
}

func TestParseAddressInvalid(t *testing.T) {
	if _, err := parseAddress("not-hex"); err == nil {
		t.Error("Expected error for non-hex address")
	}
	if _, err := parseAddress("abcd"); err == nil {
		t.Error("Expected error for truncated key")
	}
}
