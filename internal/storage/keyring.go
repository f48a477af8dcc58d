// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

const (
	// KeySize is the size of the master key in bytes.
	KeySize = 32

	// SaltSize is the size of the passphrase salt in bytes.
	SaltSize = 32

	// PBKDF2Iterations follows the OWASP 2023 figure for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000

	// Algorithm names the cipher recorded in each backup envelope.
	Algorithm = "xchacha20-poly1305"

	backupKeyInfo = "regis backup v1"
)

var (
	// ErrDecrypt means a backup failed authentication.
	ErrDecrypt = errors.New("backup decryption failed")

	// ErrInvalidKey means the key file does not hold KeySize bytes.
	ErrInvalidKey = errors.New("invalid backup key")
)

// Keyring seals and opens backup payloads.
type Keyring struct {
	aead cipher.AEAD
}

// LoadOrCreateKeyring reads the master key at path, generating a random one
// with 0600 permissions if the file does not exist.
func LoadOrCreateKeyring(path string) (*Keyring, error) {
	master, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		master = make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, master); err != nil {
			return nil, fmt.Errorf("failed to generate backup key: %w", err)
		}
		if err := util.WriteFileAtomic(path, master, 0600); err != nil {
			return nil, fmt.Errorf("failed to store backup key: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read backup key: %w", err)
	}
	defer zeroBytes(master)

	if len(master) != KeySize {
		return nil, fmt.Errorf("%w: %s holds %d bytes", ErrInvalidKey, path, len(master))
	}
	return newKeyring(master)
}

// NewPassphraseKeyring derives the master key from a passphrase. The salt is
// read from saltPath or created there on first use.
func NewPassphraseKeyring(passphrase, saltPath string) (*Keyring, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}
	salt, err := os.ReadFile(saltPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := util.WriteFileAtomic(saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	master := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
	defer zeroBytes(master)
	return newKeyring(master)
}

func newKeyring(master []byte) (*Keyring, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	defer zeroBytes(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(backupKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive backup key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Keyring{aead: aead}, nil
}

// Seal encrypts plaintext bound to ad and returns a fresh random nonce with
// the ciphertext.
func (k *Keyring) Seal(plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, k.aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open decrypts and authenticates ciphertext.
func (k *Keyring) Open(nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != k.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrDecrypt, len(nonce))
	}
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
