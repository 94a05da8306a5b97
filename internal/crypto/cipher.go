// Package crypto implements the "Encryption invariant" from spec.md §3: a
// symmetric authenticated cipher, keyed by a process-wide secret loaded at
// startup, for every field tagged "encrypted" (Integration.delivery_url,
// Integration.config). Grounded on modules/auth's golang.org/x/crypto
// dependency; AEAD via chacha20poly1305 rather than auth's JWT signing,
// since Soonish has no session/JWT surface (spec.md §1 Non-goals).
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pypeaday/soonish/internal/modkit"
)

// Cipher encrypts/decrypts opaque byte strings with a single process-wide
// key. Decrypt failure on one record must never abort a batch operation
// (spec.md §4.3: "per-integration" crypto errors) — callers are expected to
// catch the KindCrypto error and skip just that record.
type Cipher struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

var ErrInvalidKeyLength = errors.New("encryption key must decode to 32 bytes")

// NewCipher builds a Cipher from a base64-encoded 256-bit key, per spec.md
// §6 ("symmetric encryption key (base64, 256-bit, fatal if absent in
// non-debug)").
func NewCipher(base64Key string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, modkit.Wrap(modkit.KindFatalConfig, "decode encryption key", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, modkit.Wrap(modkit.KindFatalConfig, "encryption key", ErrInvalidKeyLength)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, modkit.Wrap(modkit.KindFatalConfig, "build cipher", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns nonce||ciphertext||tag, safe to store as an opaque blob.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, modkit.Wrap(modkit.KindCrypto, "generate nonce", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Any failure (corruption, wrong key, truncation)
// is tagged KindCrypto so callers can apply the "skip this one, continue
// the batch" policy from spec.md §4.3/§7.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(blob) < ns {
		return nil, modkit.NewError(modkit.KindCrypto, "ciphertext too short")
	}
	nonce, ciphertext := blob[:ns], blob[ns:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, modkit.Wrap(modkit.KindCrypto, "decrypt", err)
	}
	return plaintext, nil
}

// EncryptString/DecryptString are the common case: the encrypted fields in
// spec.md (delivery_url, config) are both strings.
func (c *Cipher) EncryptString(s string) ([]byte, error) { return c.Encrypt([]byte(s)) }

func (c *Cipher) DecryptString(blob []byte) (string, error) {
	pt, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
