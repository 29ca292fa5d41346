package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"consentgate/internal/consent"
)

// SealedStore is the no-backend fallback: the record is AES-256-GCM encrypted
// into the token itself, so the cookie still reveals nothing while no storage
// round-trip is needed. Authenticated decryption failure reads as "no
// consent", never as an error.
type SealedStore struct {
	key []byte
}

// NewSealedStore derives the sealing key with HKDF-SHA256 from the operator
// secret. When no secret is configured the host identity seeds the key so a
// default deployment still gets a stable, non-guessable key.
func NewSealedStore(secret, host string) (*SealedStore, error) {
	if secret == "" {
		secret = "consentgate-sealed"
	}
	if host == "" {
		host = "localhost"
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(host), []byte("consent-seal-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return &SealedStore{key: key}, nil
}

func (s *SealedStore) Store(_ context.Context, record *consent.Record) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal consent record: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Retrieve decrypts the token. Truncated payloads, tag mismatches, and
// corrupt JSON all yield (nil, nil).
func (s *SealedStore) Retrieve(_ context.Context, token string) (*consent.Record, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, nil
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, nil
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	payload, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, nil
	}
	var record consent.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, nil
	}
	return &record, nil
}

func (s *SealedStore) Delete(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (s *SealedStore) Exists(ctx context.Context, token string) (bool, error) {
	record, err := s.Retrieve(ctx, token)
	return record != nil, err
}

// Update reports false so callers re-seal through Store.
func (s *SealedStore) Update(_ context.Context, _ string, _ *consent.Record) (bool, error) {
	return false, nil
}

func (s *SealedStore) GenerateToken() (string, error) {
	return MintToken(s.key, DefaultTokenLength)
}

func (s *SealedStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
