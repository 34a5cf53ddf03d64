// Package privacy masks candidate PII for display and encrypts contact
// originals for storage. Wire format and hashing are fixed: persisted
// ciphertexts must decrypt across deployments.
package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Encryption parameters. Changing any of these breaks decryption of
// existing records.
const (
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	pbkdf2Iter = 100000
)

// Cipher encrypts and decrypts field values with AES-256-GCM under a
// per-record PBKDF2-derived key.
type Cipher struct {
	masterKey []byte
}

// NewCipher validates the master key (32 bytes).
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(masterKey))
	}
	return &Cipher{masterKey: masterKey}, nil
}

// Encrypt produces base64(salt ‖ nonce ‖ ciphertext+tag) with a fresh
// random salt and nonce per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	payload := make([]byte, 0, saltSize+nonceSize+len(sealed))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt inverts Encrypt, rejecting payloads shorter than
// salt + nonce + GCM tag.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if len(payload) < saltSize+nonceSize+16 {
		return "", fmt.Errorf("payload too short: %d bytes", len(payload))
	}

	salt := payload[:saltSize]
	nonce := payload[saltSize : saltSize+nonceSize]
	sealed := payload[saltSize+nonceSize:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.masterKey, salt, pbkdf2Iter, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// DedupHash computes the deterministic dedup key for a value:
// hex(SHA256(normalise(value))[:16]) where normalise strips all
// whitespace and lower-cases.
func DedupHash(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(Normalize(value)))
	return hex.EncodeToString(sum[:16])
}

// Normalize strips whitespace and lower-cases for hashing.
func Normalize(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), ""))
}
