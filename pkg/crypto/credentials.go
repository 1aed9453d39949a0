package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
)

// credentialsAAD binds ciphertext to its purpose: a credentials row
// encrypted under this AAD cannot be swapped for ciphertext encrypted
// for any other purpose, even with the same key.
const credentialsAAD = "broker-credentials-v1"

// EncryptCredential encrypts plaintext under AES-256-GCM with a fresh
// 96-bit nonce and the broker-credentials AAD, returning ciphertext
// and nonce as separate byte slices for side-by-side storage in the
// ledger's singleton credentials row.
func EncryptCredential(plaintext string, key []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != 32 {
		return nil, nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), []byte(credentialsAAD))
	return ciphertext, nonce, nil
}

// DecryptCredential reverses EncryptCredential, failing closed if the
// ciphertext, nonce, or AAD do not all match (tampering or a key
// mismatch both surface as ErrDecryptionFailed).
func DecryptCredential(ciphertext, nonce, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(credentialsAAD))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
