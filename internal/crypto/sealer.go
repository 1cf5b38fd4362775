// Package crypto seals the secret fields of stored client configurations
// with AES-256-GCM so passwords never reach the database in clear text.
//
// Sealed values carry the "enc:v1:" prefix followed by base64(nonce||ciphertext).
// Values without the prefix are treated as plaintext on Open, which lets a store
// written before encryption was enabled keep working.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
)

// SealedPrefix marks an encrypted value.
const SealedPrefix = "enc:v1:"

const (
	kdfIterations = 10000
	kdfSalt       = "outbound-router-secrets"
)

// Sealer encrypts and decrypts secret strings. Safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte key from passphrase with PBKDF2-SHA256.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(kdfSalt), kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. Empty and already sealed values are returned as is.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Unsealed values are returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", errors.InternalError("failed to decode sealed value", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", errors.ValidationError("sealed value too short")
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

func secretFields(raw *clientconfig.Raw) map[string]*string {
	return map[string]*string{
		"proxy_password":       &raw.ProxyPassword,
		"password":             &raw.Password,
		"key_store_password":   &raw.KeyStorePassword,
		"trust_store_password": &raw.TrustStorePassword,
	}
}

// SealRaw returns a copy of raw with every password field sealed.
func (s *Sealer) SealRaw(raw clientconfig.Raw) (clientconfig.Raw, error) {
	return s.apply(raw, s.Seal)
}

// OpenRaw returns a copy of raw with every password field in clear text.
func (s *Sealer) OpenRaw(raw clientconfig.Raw) (clientconfig.Raw, error) {
	return s.apply(raw, s.Open)
}

func (s *Sealer) apply(raw clientconfig.Raw, fn func(string) (string, error)) (clientconfig.Raw, error) {
	for name, field := range secretFields(&raw) {
		v, err := fn(*field)
		if err != nil {
			return clientconfig.Raw{}, errors.InternalError("failed to process secret field", err).
				WithContext("field", name).
				WithContext("config_id", raw.ID)
		}
		*field = v
	}
	return raw, nil
}
