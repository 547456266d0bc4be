package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// magicPrefix tags a session file as encrypted so a Store without a
// configured key can tell "wrong key" apart from "not encrypted at all"
// instead of trying to json.Unmarshal ciphertext and misreporting it as
// corruption.
var magicPrefix = []byte("lesca:enc:v1:")

// Encryptor wraps session payloads with ChaCha20-Poly1305, keyed by the
// SHA-256 of the operator-supplied passphrase (LESCA_ENCRYPTION_KEY). The
// same construction the config package documents for at-rest secrets.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a 256-bit key from passphrase via SHA-256.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key must not be empty")
	}
	key := sha256.Sum256([]byte(passphrase))
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("initialise cipher: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt returns magicPrefix + base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	encoded := make([]byte, len(magicPrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(encoded, magicPrefix)
	base64.StdEncoding.Encode(encoded[len(magicPrefix):], sealed)
	return encoded, nil
}

// Decrypt reverses Encrypt. Returns an error on a bad key, truncated
// data, or a tampered/corrupt payload (AEAD authentication failure).
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	if !looksEncrypted(data) {
		return nil, errors.New("payload does not carry the expected encryption marker")
	}
	raw := data[len(magicPrefix):]
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
	n, err := base64.StdEncoding.Decode(sealed, raw)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	sealed = sealed[:n]

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("payload too short to contain a nonce")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func looksEncrypted(data []byte) bool {
	if len(data) < len(magicPrefix) {
		return false
	}
	for i, b := range magicPrefix {
		if data[i] != b {
			return false
		}
	}
	return true
}
