// Package wallet provides secp256k1 agent wallets and verdict signing for
// BioVault.
//
// This package implements:
//   - Wallet: a secp256k1 keypair with a hex-encoded public address
//   - SignVerdict/VerifyVerdict: canonical-payload verdict authentication
//     with replay binding to an originating request
package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signer is the private credential used to sign verdict digests. A failing
// SignDigest never aborts signing; it degrades to a tagged fallback
// signature that can never verify.
type Signer interface {
	Address() string
	SignDigest(digest []byte) ([]byte, error)
}

// Wallet holds a secp256k1 private key. The wallet address is the
// hex-encoded 33-byte compressed public key, so any party holding the
// address can verify signatures without a separate key directory.
type Wallet struct {
	priv    *secp256k1.PrivateKey
	address string
}

// NewWallet generates a wallet with a fresh random key.
func NewWallet() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return fromKey(priv), nil
}

// FromSeed derives a wallet deterministically from a seed phrase. The same
// seed always yields the same address, which lets agents keep a stable
// identity across restarts without persisting key material.
func FromSeed(seed string) *Wallet {
	sum := sha256.Sum256([]byte(seed))
	priv := secp256k1.PrivKeyFromBytes(sum[:])
	return fromKey(priv)
}

func fromKey(priv *secp256k1.PrivateKey) *Wallet {
	return &Wallet{
		priv:    priv,
		address: hex.EncodeToString(priv.PubKey().SerializeCompressed()),
	}
}

// Address returns the wallet's public address.
func (w *Wallet) Address() string { return w.address }

// SignDigest signs a digest with deterministic ECDSA (RFC 6979) and returns
// the DER-encoded signature. Determinism matters: signing the same digest
// twice must produce byte-identical signatures for idempotent retries.
func (w *Wallet) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	return ecdsa.Sign(w.priv, digest).Serialize(), nil
}

// parseAddress recovers the public key embedded in a wallet address.
func parseAddress(address string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse address key: %w", err)
	}
	return pub, nil
}

// parseDERSignature decodes a DER-encoded ECDSA signature.
func parseDERSignature(raw []byte) (*ecdsa.Signature, error) {
	return ecdsa.ParseDERSignature(raw)
}
