package helper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// keyCheckValue is sealed into the store metadata at initialization and
// decrypted on every open to verify the passphrase before any record is read.
const keyCheckValue = "pseudonymizer-key-check-v1"

// ErrWrongPassphrase is returned when the derived key fails verification
// against the stored key check value.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// KDFParams holds the argon2id parameters persisted in the store metadata.
// Changing the defaults only affects newly initialized stores, existing
// stores keep the parameters they were created with.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams returns the argon2id parameters used for new stores.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 4,
	}
}

// NewSalt generates a random 16 byte salt for key derivation.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, NewError("generate salt", err)
	}
	return salt, nil
}

// Cipher encrypts and decrypts individual column values and computes the
// keyed blind indexes used for lookups over encrypted columns. The derived
// key material never leaves process memory.
type Cipher struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewCipher derives the column encryption key and the blind index key from
// the passphrase with argon2id and wraps them in a Cipher.
func NewCipher(passphrase string, salt []byte, params KDFParams) (*Cipher, error) {
	if len(passphrase) == 0 {
		return nil, NewError("derive key", fmt.Errorf("empty passphrase"))
	}
	if len(salt) == 0 {
		return nil, NewError("derive key", fmt.Errorf("empty salt"))
	}

	// 64 bytes of key material, first half for AES-256-GCM, second half
	// for the HMAC blind indexes.
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.Memory, params.Threads, 64)

	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, NewError("create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewError("create gcm", err)
	}

	return &Cipher{
		aead:   aead,
		macKey: key[32:],
	}, nil
}

// Seal encrypts a plaintext string. The returned bytes are nonce||ciphertext.
func (c *Cipher) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, NewError("generate nonce", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal. Authentication failure returns
// an error, never a partially decrypted value.
func (c *Cipher) Open(sealed []byte) (string, error) {
	if len(sealed) < c.aead.NonceSize() {
		return "", NewError("open value", fmt.Errorf("ciphertext too short"))
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", NewError("open value", err)
	}
	return string(plaintext), nil
}

// BlindIndex computes the deterministic keyed hash of a normalized value.
// It allows equality lookups on encrypted columns without decryption.
func (c *Cipher) BlindIndex(normalized string) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(normalized))
	return mac.Sum(nil)
}

// KeyCheck seals the key check constant for storage in the store metadata.
func (c *Cipher) KeyCheck() ([]byte, error) {
	return c.Seal(keyCheckValue)
}

// VerifyKeyCheck decrypts a stored key check value and compares it against
// the expected constant. A mismatch or decryption failure means the
// passphrase is wrong.
func (c *Cipher) VerifyKeyCheck(sealed []byte) error {
	plaintext, err := c.Open(sealed)
	if err != nil {
		return ErrWrongPassphrase
	}
	if subtle.ConstantTimeCompare([]byte(plaintext), []byte(keyCheckValue)) != 1 {
		return ErrWrongPassphrase
	}
	return nil
}
