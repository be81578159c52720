// Package crypto holds the HUB's Ed25519 signing key and the verification
// helpers for keyholder-submitted declarations.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Signer signs canonical byte payloads with the HUB key.
type Signer interface {
	Sign(data []byte) []byte
	PublicKey() ed25519.PublicKey
	PublicKeyMultibase() string
	KeyID() string
}

// Ed25519Signer is the in-process implementation backed by a private key
// held in memory. The key is read-only after startup.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer generates a fresh random keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub, keyID: keyID}, nil
}

// NewSignerFromSecret builds a signer from a multibase-encoded Ed25519
// secret key ("z..." with the 0x8026 multicodec prefix).
func NewSignerFromSecret(seckey, keyID string) (*Ed25519Signer, error) {
	raw, err := DecodeMultibase(seckey)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	seed, err := stripPrefix(raw, ed25519PrivPrefix, ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}, nil
}

// NewSignerFromPassphrase derives a deterministic signer from an
// arbitrary passphrase via HKDF-SHA256 with a fixed domain separator.
// Meant for development setups where no multibase key is provisioned.
func NewSignerFromPassphrase(passphrase, keyID string) (*Ed25519Signer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte("iscc-hub-key-v1"), nil)
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}, nil
}

func (s *Ed25519Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

// PublicKeyMultibase returns the public key in multikey form.
func (s *Ed25519Signer) PublicKeyMultibase() string {
	return EncodeMultibase(append(append([]byte{}, ed25519PubPrefix...), s.pub...))
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

// SecretMultibase renders the private key seed in multibase form, for key
// provisioning tooling.
func (s *Ed25519Signer) SecretMultibase() string {
	return EncodeMultibase(append(append([]byte{}, ed25519PrivPrefix...), s.priv.Seed()...))
}

// DecodePubkey parses a multikey-encoded Ed25519 public key.
func DecodePubkey(pubkey string) (ed25519.PublicKey, error) {
	raw, err := DecodeMultibase(pubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %w", err)
	}
	key, err := stripPrefix(raw, ed25519PubPrefix, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %w", err)
	}
	return ed25519.PublicKey(key), nil
}

// Verify checks an Ed25519 signature in multibase proof form against a
// multikey public key.
func Verify(pubkey, proof string, data []byte) (bool, error) {
	key, err := DecodePubkey(pubkey)
	if err != nil {
		return false, err
	}
	sig, err := DecodeMultibase(proof)
	if err != nil {
		return false, fmt.Errorf("invalid proof: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid proof: signature is %d bytes", len(sig))
	}
	return ed25519.Verify(key, data, sig), nil
}
