// Package cryptutil implements the passphrase crypto contract (spec §4.1):
// per-record salt, a slow password-based KDF, and authenticated symmetric
// encryption of opaque strings.
package cryptutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/eclosion-app/eclosion/internal/apperr"
)

const saltSize = 24 // 24 random bytes; also seeds the AEAD nonce derivation

// Params controls the KDF cost. Defaults match internal/config.Config.
type Params struct {
	N, R, P int
}

// DefaultParams are scrypt's conservative interactive-login cost parameters.
var DefaultParams = Params{N: 32768, R: 8, P: 1}

// Cipher encrypts/decrypts opaque strings under a passphrase, per record.
type Cipher struct {
	params Params
}

func New(params Params) *Cipher {
	return &Cipher{params: params}
}

// Encrypt returns base64 ciphertext and a base64 salt. Each call generates a
// fresh random salt, so encrypting the same plaintext twice yields different
// ciphertext.
func (c *Cipher) Encrypt(plaintext, passphrase string) (ciphertextB64, saltB64 string, err error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}

	key, err := c.deriveKey(passphrase, salt)
	if err != nil {
		return "", "", err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", "", fmt.Errorf("constructing AEAD: %w", err)
	}

	nonce := deriveNonce(salt, aead.NonceSize())
	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(salt), nil
}

// Decrypt reverses Encrypt. Any failure — wrong passphrase, tampered
// ciphertext, malformed base64 — is reported uniformly as apperr.Auth
// (spec §7: "decryption errors propagate as Auth").
func (c *Cipher) Decrypt(ciphertextB64, saltB64, passphrase string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", apperr.AuthErr("invalid ciphertext encoding")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", apperr.AuthErr("invalid salt encoding")
	}

	key, err := c.deriveKey(passphrase, salt)
	if err != nil {
		return "", apperr.AuthErr("key derivation failed")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", apperr.AuthErr("constructing AEAD failed")
	}

	nonce := deriveNonce(salt, aead.NonceSize())
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", apperr.AuthErr("invalid passphrase")
	}

	return string(pt), nil
}

func (c *Cipher) deriveKey(passphrase string, salt []byte) ([]byte, error) {
	p := c.params
	if p.N == 0 {
		p = DefaultParams
	}
	return scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
}

// deriveNonce derives a fixed nonce from the record's salt via SHA-256. The
// salt is unique per record (fresh random bytes each Encrypt call), so the
// (key, nonce) pair never repeats even though the nonce itself isn't random.
func deriveNonce(salt []byte, size int) []byte {
	sum := sha256.Sum256(salt)
	return sum[:size]
}
