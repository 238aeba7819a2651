// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

// Credential encryption at rest.
//
// Upstream API keys and webhook secrets are encrypted with AES-256-GCM
// before they reach SQLite. The key is derived from POLLER_ENCRYPTION_KEY
// using HKDF-SHA256, binding ciphertexts to this application. Callers of
// the store never see ciphertext; encryption is an internal adapter.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// fieldEncryptionSalt binds derived keys to the credential use case.
	fieldEncryptionSalt = "orderbridge-connection-credentials"

	// fieldEncryptionInfo is the HKDF info parameter for key derivation.
	fieldEncryptionInfo = "field-encryption-v1"

	aesKeySize   = 32
	gcmNonceSize = 12
)

var (
	// ErrEmptyKey is returned when an empty encryption key is provided.
	ErrEmptyKey = errors.New("encryption key cannot be empty")

	// ErrDecryptionFailed is returned when a ciphertext fails to decrypt,
	// typically because the key changed or the row was tampered with.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")

	// ErrCiphertextTooShort is returned for ciphertexts shorter than a nonce.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// FieldEncryptor provides AES-256-GCM encryption for credential fields.
type FieldEncryptor struct {
	aead cipher.AEAD
}

// NewFieldEncryptor derives a 256-bit AES key from the given secret with
// HKDF-SHA256 and returns an encryptor ready for use.
func NewFieldEncryptor(secret string) (*FieldEncryptor, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}

	key := make([]byte, aesKeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(fieldEncryptionSalt), []byte(fieldEncryptionInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &FieldEncryptor{aead: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext || tag) for the plaintext.
// Empty plaintext passes through as empty string so optional secrets
// round-trip without special casing.
func (e *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Empty input yields empty output.
func (e *FieldEncryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	if len(raw) < gcmNonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := raw[:gcmNonceSize], raw[gcmNonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
