// Package attest signs audit and repair reports so that a report handed to
// finance can later be checked for tampering and traced to the operator key
// that produced it.
//
// Scheme:
//  1. payload = compact JSON of the report
//  2. digest = Keccak-256(payload)
//  3. signature = secp256k1 recoverable signature of digest (65 bytes, r||s||v)
//  4. the signer address is recovered from the signature on verification
package attest

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrBadSignature is returned when an envelope does not verify.
	ErrBadSignature = errors.New("attest: bad signature")
	// ErrUnexpectedSigner is returned when a valid envelope was signed by
	// another key than the one expected.
	ErrUnexpectedSigner = errors.New("attest: unexpected signer")
)

// Envelope carries a signed report.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Digest    string          `json:"digest"`
	Signature string          `json:"signature"`
	Signer    string          `json:"signer"`
}

// Signer holds an operator key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner creates a Signer from a hex-encoded private key (0x prefix optional).
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(hexKey) != 64 {
		return nil, fmt.Errorf("attest: key must be 32 bytes hex, got %d chars", len(hexKey))
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("attest: %w", err)
	}
	return &Signer{key: key}, nil
}

// Address is the checksummed address of the key.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Sign marshals v and signs it.
func (s *Signer) Sign(v any) (Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("attest: marshal: %w", err)
	}
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Envelope{}, fmt.Errorf("attest: sign: %w", err)
	}
	return Envelope{
		Payload:   payload,
		Digest:    hexutil.Encode(digest),
		Signature: hexutil.Encode(sig),
		Signer:    s.Address(),
	}, nil
}

// Verify checks env and returns the address that signed it. The payload is
// compacted first, so an envelope written with indentation still verifies.
func Verify(env Envelope) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, env.Payload); err != nil {
		return "", fmt.Errorf("attest: payload: %w", err)
	}
	digest := crypto.Keccak256(buf.Bytes())
	if env.Digest != "" && !strings.EqualFold(env.Digest, hexutil.Encode(digest)) {
		return "", fmt.Errorf("%w: digest mismatch", ErrBadSignature)
	}

	sig, err := hexutil.Decode(env.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), digest, sig[:64]) {
		return "", ErrBadSignature
	}
	addr := crypto.PubkeyToAddress(*pub).Hex()
	if env.Signer != "" && !strings.EqualFold(addr, env.Signer) {
		return "", fmt.Errorf("%w: signed by %s, envelope claims %s", ErrBadSignature, addr, env.Signer)
	}
	return addr, nil
}

// VerifyFrom is Verify plus a check that the envelope was signed by the
// expected address.
func VerifyFrom(env Envelope, expected string) (string, error) {
	expected = strings.TrimSpace(expected)
	if !common.IsHexAddress(expected) {
		return "", fmt.Errorf("attest: %q is not an address", expected)
	}
	addr, err := Verify(env)
	if err != nil {
		return "", err
	}
	if common.HexToAddress(expected).Hex() != addr {
		return "", fmt.Errorf("%w: signed by %s, expected %s", ErrUnexpectedSigner, addr, expected)
	}
	return addr, nil
}
