// Package e2ee implements the end-to-end encryption primitives used on the
// relay path: X25519 key agreement scoped to a session, and payload sealing
// with ChaCha20-Poly1305.
package e2ee

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// SharedKeyBytes is the length of a derived relay shared key.
	SharedKeyBytes = 32

	hkdfInfo = "gann-relay-e2ee"
)

// KeyPair is an ephemeral X25519 keypair advertised in a QUIC offer.
type KeyPair struct {
	priv []byte
	pub  []byte
}

// GenerateKeyPair creates a fresh X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate e2ee key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive e2ee public key: %w", err)
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// PublicKeyB64 returns the public key as standard base64 for offer transport.
func (kp *KeyPair) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(kp.pub)
}

// DeriveRelaySharedKey computes the 32-byte session key shared with the peer:
// HKDF-SHA256 over the X25519 secret, salted with the session id.
//
// Both sides derive the same key from each other's advertised public keys.
func (kp *KeyPair) DeriveRelaySharedKey(peerPublicB64, sessionID string) ([]byte, error) {
	peerPub, err := base64.StdEncoding.DecodeString(peerPublicB64)
	if err != nil {
		return nil, fmt.Errorf("decode peer public key: %w", err)
	}
	if len(peerPub) != curve25519.PointSize {
		return nil, fmt.Errorf("invalid peer public key length %d", len(peerPub))
	}
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}

	secret, err := curve25519.X25519(kp.priv, peerPub)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}

	reader := hkdf.New(sha256.New, secret, []byte(sessionID), []byte(hkdfInfo))
	key := make([]byte, SharedKeyBytes)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive shared key: %w", err)
	}
	return key, nil
}

// envelope is the sealed relay payload wire shape.
type envelope struct {
	V          int    `json:"v"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptRelayPayload seals a plaintext JSON payload for the relay. The
// session id is bound as associated data so a frame replayed into another
// session fails to open.
func EncryptRelayPayload(sharedKey []byte, sessionID string, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(sharedKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, []byte(sessionID))
	return json.Marshal(envelope{
		V:          1,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

// DecryptRelayPayload opens a sealed relay payload.
func DecryptRelayPayload(sharedKey []byte, sessionID string, payload []byte) ([]byte, error) {
	aead, err := newAEAD(sharedKey)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse sealed payload: %w", err)
	}
	if env.V != 1 {
		return nil, fmt.Errorf("unsupported envelope version %d", env.V)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(sessionID))
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}

func newAEAD(sharedKey []byte) (cipher.AEAD, error) {
	if len(sharedKey) != SharedKeyBytes {
		return nil, fmt.Errorf("shared key must be %d bytes", SharedKeyBytes)
	}
	return chacha20poly1305.New(sharedKey)
}
