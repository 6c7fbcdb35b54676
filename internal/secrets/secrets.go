// Package secrets implements the encrypt/decrypt pair upstream
// credentials are stored with: AES-256-GCM keyed by conf.Settings.
// Service.EncryptionKey, authenticated against the owning user_id so a
// ciphertext copied onto a different user's row fails to decrypt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"

	"github.com/stokedbloke/gigglepipe/internal/errors"
)

// Encrypt seals plaintext under key (32 bytes), authenticated with aad
// (the owning user_id), and returns a hex-encoded nonce||ciphertext.
func Encrypt(key []byte, plaintext, aad string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.New(err).Component("secrets").Category(errors.CategoryGeneric).Build()
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(aad))
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt; aad must match the value passed at
// encryption time or authentication fails.
func Decrypt(key []byte, ciphertextHex, aad string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	sealed, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", errors.New(err).Component("secrets").Category(errors.CategoryValidation).Build()
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.Newf("encrypted secret too short").Component("secrets").
			Category(errors.CategoryValidation).Build()
	}
	nonce, rest := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, rest, []byte(aad))
	if err != nil {
		return "", errors.New(err).Component("secrets").Category(errors.CategoryCredential).Build()
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, errors.Newf("encryption key must be 32 bytes, got %d", len(key)).
			Component("secrets").Category(errors.CategoryConfiguration).Build()
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.New(err).Component("secrets").Category(errors.CategoryGeneric).Build()
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.New(err).Component("secrets").Category(errors.CategoryGeneric).Build()
	}
	return gcm, nil
}
