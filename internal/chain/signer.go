package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Signer produces the sender signature over a transfer. Implementations own
// the key material; callers never see private keys.
type Signer interface {
	// Address returns the ledger address controlled by this signer.
	Address() string
	// Sign returns the signed form of the transfer.
	Sign(req TransferRequest) (SignedTransfer, error)
}

// LocalSigner signs transfers with an in-process ed25519 key. The address is
// the hex-encoded public key.
type LocalSigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewLocalSigner parses a hex-encoded ed25519 private key (seed or full key).
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("signer key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return &LocalSigner{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Address returns the hex-encoded public key.
func (s *LocalSigner) Address() string {
	return hex.EncodeToString(s.pub)
}

// Sign signs the canonical JSON encoding of req.
func (s *LocalSigner) Sign(req TransferRequest) (SignedTransfer, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return SignedTransfer{}, fmt.Errorf("encode transfer: %w", err)
	}
	sig := ed25519.Sign(s.priv, payload)
	return SignedTransfer{
		Transfer:  req,
		PublicKey: hex.EncodeToString(s.pub),
		Signature: hex.EncodeToString(sig),
	}, nil
}
