// Package signature provides helper functions for handling the ledger's
// identity, hashing and signature needs.
package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros. It is used as the previous block
// hash of the genesis block.
const ZeroHash string = "0000000000000000000000000000000000000000000000000000000000000000"

// =============================================================================

// Identity represents a keypair in its hex encoded form. The private key is
// only known to the node that generated the identity.
type Identity struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
}

// Generate constructs a new secp256k1 keypair.
func Generate() (Identity, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return Identity{}, err
	}

	return FromPrivateKey(privateKey), nil
}

// FromPrivateKey constructs an identity for the specified private key.
func FromPrivateKey(privateKey *ecdsa.PrivateKey) Identity {
	return Identity{
		PublicKey:  PublicKeyHex(privateKey.PublicKey),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
	}
}

// ECDSA decodes the private key of the identity.
func (id Identity) ECDSA() (*ecdsa.PrivateKey, error) {
	if id.PrivateKey == "" {
		return nil, errors.New("identity has no private key")
	}

	data, err := hexutil.Decode(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}

	return crypto.ToECDSA(data)
}

// PublicKeyHex returns the hex encoded uncompressed form of the public key.
func PublicKeyHex(pk ecdsa.PublicKey) string {
	return hexutil.Encode(crypto.FromECDSAPub(&pk))
}

// =============================================================================

// Canonical returns a deterministic byte form of the value. The value is
// encoded as JSON with object keys sorted by name, compact separators and
// no HTML escaping.
func Canonical(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	// Round trip through a generic value so struct fields are emitted in
	// name order the same way map keys are.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the SHA-256 hex hash of the canonical form of the value.
func Hash(value any) string {
	data, err := Canonical(value)
	if err != nil {
		return ZeroHash
	}

	return HashBytes(data)
}

// HashString returns the SHA-256 hex hash of the string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashBytes returns the SHA-256 hex hash of the data.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// =============================================================================

// Sign canonicalizes the value and signs its hash with the identity's
// private key. The signature is returned in its hex encoded [R|S|V] form.
func Sign(value any, id Identity) (string, error) {
	privateKey, err := id.ECDSA()
	if err != nil {
		return "", err
	}

	return SignWithKey(value, privateKey)
}

// SignWithKey canonicalizes the value and signs its hash with the private key.
func SignWithKey(value any, privateKey *ecdsa.PrivateKey) (string, error) {
	data, err := Canonical(value)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(data)

	sig, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return "", err
	}

	return hexutil.Encode(sig), nil
}

// Verify checks the signature was produced over the data by the owner of the
// public key. Any decoding problem is reported as a failed verification.
func Verify(data []byte, sig string, publicKey string) bool {
	sigBytes, err := hexutil.Decode(sig)
	if err != nil || len(sigBytes) != crypto.SignatureLength {
		return false
	}

	pubBytes, err := hexutil.Decode(publicKey)
	if err != nil {
		return false
	}

	if _, err := crypto.UnmarshalPubkey(pubBytes); err != nil {
		return false
	}

	digest := sha256.Sum256(data)

	// The recovery id is not part of the verification.
	return crypto.VerifySignature(pubBytes, digest[:], sigBytes[:crypto.RecoveryIDOffset])
}
