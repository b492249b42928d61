// Package identity manages the signing identity: one 32-byte seed from
// which both the ed25519 signing key and the X25519 encryption key are
// derived. The seed lives in the OS keyring, with a passphrase-encrypted
// file as fallback, and can be exported as an encrypted backup.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/driftnote/driftnote/internal/event"
)

var (
	ErrNoIdentity       = errors.New("no identity found")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEncryption       = errors.New("encryption failed")
	ErrDecryption       = errors.New("decryption failed")
	ErrBadSignature     = errors.New("invalid signature")
)

// Signer signs events and encrypts/decrypts peer payloads for one
// identity. Encrypt and Decrypt take the hex ed25519 public key of the
// other party.
type Signer interface {
	PublicKey() string
	Sign(payload []byte) (string, error)
	Encrypt(plain []byte, recipientPub string) (string, error)
	Decrypt(cipher string, senderPub string) ([]byte, error)
}

// LocalSigner holds the identity seed in memory.
type LocalSigner struct {
	seed   []byte
	priv   ed25519.PrivateKey
	pubHex string
}

// Generate creates a new identity from a random seed.
func Generate() (*LocalSigner, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate identity seed: %w", err)
	}
	return NewLocalSigner(seed)
}

// NewLocalSigner derives the signing keys from a 32-byte seed.
func NewLocalSigner(seed []byte) (*LocalSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &LocalSigner{
		seed:   append([]byte(nil), seed...),
		priv:   priv,
		pubHex: hex.EncodeToString(pub),
	}, nil
}

// PublicKey returns the hex-encoded ed25519 public key. This is the
// pubkey field of every event this identity publishes.
func (s *LocalSigner) PublicKey() string {
	return s.pubHex
}

// Sign returns the hex ed25519 signature over the payload.
func (s *LocalSigner) Sign(payload []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, payload)), nil
}

// encryptionScalar derives the X25519 private scalar from the ed25519
// seed, matching the clamping RFC 8032 applies during signing.
func (s *LocalSigner) encryptionScalar() *[32]byte {
	h := sha512.Sum512(s.seed)
	var scalar [32]byte
	copy(scalar[:], h[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return &scalar
}

// montgomeryPub converts a hex ed25519 public key to its X25519 form.
func montgomeryPub(pubHex string) (*[32]byte, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed public key %q", pubHex)
	}
	point, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("public key is not a valid curve point: %w", err)
	}
	var out [32]byte
	copy(out[:], point.BytesMontgomery())
	return &out, nil
}

// Encrypt seals the plaintext to the recipient with nacl/box. The output
// is base64(nonce || box).
func (s *LocalSigner) Encrypt(plain []byte, recipientPub string) (string, error) {
	peer, err := montgomeryPub(recipientPub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("%w: failed to generate nonce", ErrEncryption)
	}

	sealed := box.Seal(nonce[:], plain, &nonce, peer, s.encryptionScalar())
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload sealed to this identity by the sender.
func (s *LocalSigner) Decrypt(cipher string, senderPub string) ([]byte, error) {
	peer, err := montgomeryPub(senderPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	raw, err := base64.StdEncoding.DecodeString(cipher)
	if err != nil || len(raw) < 24+box.Overhead {
		return nil, fmt.Errorf("%w: malformed payload", ErrDecryption)
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := box.Open(nil, raw[24:], &nonce, peer, s.encryptionScalar())
	if !ok {
		return nil, ErrDecryption
	}
	return plain, nil
}

// SignEnvelope stamps the envelope with the signer's pubkey, computes the
// canonical id and signs it. CreatedAt must already be set.
func SignEnvelope(s Signer, env *event.Envelope) error {
	if s == nil {
		return ErrNotAuthenticated
	}
	env.PubKey = s.PublicKey()
	env.ID = event.ComputeID(env)
	sig, err := s.Sign([]byte(env.ID))
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	env.Sig = sig
	return nil
}

// VerifyEnvelope checks the envelope id and signature against its pubkey.
func VerifyEnvelope(env *event.Envelope) error {
	if event.ComputeID(env) != env.ID {
		return fmt.Errorf("%w: id mismatch", ErrBadSignature)
	}
	pub, err := hex.DecodeString(env.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed pubkey", ErrBadSignature)
	}
	sig, err := hex.DecodeString(env.Sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(env.ID), sig) {
		return ErrBadSignature
	}
	return nil
}
