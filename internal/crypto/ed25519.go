package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey  = errors.New("invalid Ed25519 public key")
	ErrInvalidPrivateKey = errors.New("invalid Ed25519 private key")
	ErrInvalidSignature  = errors.New("invalid signature")
)

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// ParsePrivateKey accepts either a base64 seed (32 bytes) or a full
// base64 private key (64 bytes).
func ParsePrivateKey(privB64 string) (ed25519.PrivateKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPrivateKey)
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidPrivateKey, len(decoded))
	}
}

// VerifySignature verifies a signed message.
func VerifySignature(pubkey ed25519.PublicKey, signedData []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pubkey, signedData, signature) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign returns the base64 signature of the canonical payload for a request body.
func Sign(priv ed25519.PrivateKey, body []byte, nonce string, timestamp int64) string {
	payload := SignaturePayload(BodyHash(body), nonce, timestamp)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
}

// BodyHash is the hex SHA-256 of a request body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignaturePayload creates the canonical data to sign.
// Format: bodyhash|nonce|timestamp
func SignaturePayload(bodyHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", bodyHash, nonce, timestamp))
}
