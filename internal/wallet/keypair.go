package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is decrypted signing material. It lives only for the duration of
// one signing operation; call Zero when done.
type Keypair struct {
	priv ed25519.PrivateKey
}

// Address returns the base58 public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.priv.Public().(ed25519.PublicKey))
}

// PrivateKey exposes the key to the signer.
func (k *Keypair) PrivateKey() ed25519.PrivateKey {
	return k.priv
}

// Zero overwrites the secret bytes.
func (k *Keypair) Zero() {
	for i := range k.priv {
		k.priv[i] = 0
	}
}

// encodeSecret returns the stored form of priv: base58 of the 64-byte
// secret key, as produced by Solana wallets.
func encodeSecret(priv ed25519.PrivateKey) string {
	return base58.Encode(priv)
}

// parseSecret accepts a base58 64-byte secret key, a base58 32-byte seed or
// a Solana CLI keypair file (JSON array of 64 byte values).
func parseSecret(material string) (ed25519.PrivateKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidKeyFormat)
	}

	var raw []byte
	if strings.HasPrefix(material, "[") {
		buf := []byte(material)
		defer zero(buf)
		var ints []int
		err := json.Unmarshal(buf, &ints)
		defer func() {
			for i := range ints {
				ints[i] = 0
			}
		}()
		if err != nil {
			return nil, fmt.Errorf("%w: byte array: %v", ErrInvalidKeyFormat, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				zero(raw)
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeyFormat, i)
			}
			raw[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(material)
		if err != nil {
			return nil, fmt.Errorf("%w: base58: %v", ErrInvalidKeyFormat, err)
		}
		raw = decoded
	}
	return keyFromRaw(raw)
}

// keyFromRaw builds a private key from a 32-byte seed or a 64-byte secret
// key. raw is wiped before returning on every path.
func keyFromRaw(raw []byte) (ed25519.PrivateKey, error) {
	defer zero(raw)

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return checkKeypair(raw)
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKeyFormat, len(raw))
	}
}

// checkKeypair verifies that the public half of a 64-byte secret key is a
// valid curve point and matches the key derived from the seed.
func checkKeypair(raw []byte) (ed25519.PrivateKey, error) {
	pub := raw[ed25519.SeedSize:]
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return nil, fmt.Errorf("%w: public key is not on the curve", ErrInvalidKeyFormat)
	}

	priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(priv[ed25519.SeedSize:], pub) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrInvalidKeyFormat)
	}
	return priv, nil
}
