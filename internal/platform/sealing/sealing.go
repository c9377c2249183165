// Package sealing encrypts vendor payloads at rest with XChaCha20-Poly1305.
// Each tenant gets its own key derived from the master key with HKDF.
package sealing

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"kycflow/pkg/domain"
)

var (
	ErrKeyLength = errors.New("sealing key must be 32 bytes")
	// ErrDecrypt is returned for any payload that fails authentication.
	ErrDecrypt = errors.New("decrypt payload")
)

// Sealer seals and opens payloads bound to a tenant and caller-provided
// associated data (typically the verification request id).
type Sealer struct {
	master []byte
	mu     sync.RWMutex
	aeads  map[domain.TenantID]cipher.AEAD
}

func New(masterKey []byte) (*Sealer, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, ErrKeyLength
	}
	return &Sealer{
		master: append([]byte(nil), masterKey...),
		aeads:  make(map[domain.TenantID]cipher.AEAD),
	}, nil
}

// Seal returns nonce||ciphertext.
func (s *Sealer) Seal(tenant domain.TenantID, plaintext, aad []byte) ([]byte, error) {
	aead, err := s.aead(tenant)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func (s *Sealer) Open(tenant domain.TenantID, sealed, aad []byte) ([]byte, error) {
	aead, err := s.aead(tenant)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (s *Sealer) aead(tenant domain.TenantID) (cipher.AEAD, error) {
	s.mu.RLock()
	aead, ok := s.aeads[tenant]
	s.mu.RUnlock()
	if ok {
		return aead, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, []byte("kycflow-vendor-payload"), []byte(tenant.String())), key); err != nil {
		return nil, fmt.Errorf("derive tenant key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	s.mu.Lock()
	s.aeads[tenant] = aead
	s.mu.Unlock()
	return aead, nil
}
