// Package keyvault encrypts wallet signing material at rest.
package keyvault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. N=2^15 keeps derivation well under 100ms; the key is
// derived once per process.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32 // AES-256
	DefaultSalt  = "solana-action-relay/keyvault/v1"
	minPassLen   = 12
	fingerprintN = 8
)

var (
	// ErrDecryption is returned when stored ciphertext cannot be decrypted:
	// malformed encoding, bad IV, bad padding or a changed master passphrase.
	ErrDecryption = errors.New("keyvault: decryption failed")

	// ErrEmptyPlaintext is returned when asked to encrypt an empty secret.
	ErrEmptyPlaintext = errors.New("keyvault: empty plaintext")

	// ErrWeakPassphrase is returned when the master passphrase is too short.
	ErrWeakPassphrase = errors.New("keyvault: master passphrase too short")
)

// Vault performs AES-256-CBC encryption with a key derived from the master
// passphrase. Safe for concurrent use.
type Vault struct {
	block       cipher.Block
	fingerprint string
	random      io.Reader
}

// Option configures Vault.
type Option func(*Vault)

// WithRandom overrides the IV source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(v *Vault) {
		v.random = r
	}
}

// New derives the vault key from passphrase and salt.
// An empty salt selects DefaultSalt.
func New(passphrase, salt string, opts ...Option) (*Vault, error) {
	if len(passphrase) < minPassLen {
		return nil, ErrWeakPassphrase
	}
	if salt == "" {
		salt = DefaultSalt
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	sum := sha256.Sum256(key)
	v := &Vault{
		block:       block,
		fingerprint: hex.EncodeToString(sum[:fingerprintN]),
		random:      rand.Reader,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Fingerprint identifies the derived key without revealing it.
func (v *Vault) Fingerprint() string {
	return v.fingerprint
}

// Encrypt returns base64(IV || ciphertext). A fresh IV is drawn on every call.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(v.random, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(v.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Every failure is reported as ErrDecryption.
func (v *Vault) Decrypt(stored string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrDecryption, err)
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: invalid length %d", ErrDecryption, len(data))
	}

	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(v.block, iv).CryptBlocks(plain, body)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
