package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Wire format sizes.
const (
	SignatureSize = 64
	PublicKeySize = 32

	versionPrefix = 0x80
)

// Codec errors.
var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrNotASigner           = errors.New("key is not a required signer")
)

// WireTransaction is a decoded Solana wire transaction. Only the parts needed
// to place signatures are decoded; the message is kept verbatim.
type WireTransaction struct {
	Signatures [][SignatureSize]byte
	// Message is the exact signed byte range.
	Message []byte
	// Version is -1 for legacy messages.
	Version               int
	NumRequiredSignatures int
	AccountKeys           [][PublicKeySize]byte
}

// DecodeTransaction parses a serialized transaction.
func DecodeTransaction(raw []byte) (*WireTransaction, error) {
	r := &reader{buf: raw}

	n, err := r.compactU16()
	if err != nil {
		return nil, fmt.Errorf("%w: signature count: %v", ErrMalformedTransaction, err)
	}
	tx := &WireTransaction{Signatures: make([][SignatureSize]byte, n), Version: -1}
	for i := range tx.Signatures {
		b, err := r.take(SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrMalformedTransaction, i, err)
		}
		copy(tx.Signatures[i][:], b)
	}

	tx.Message = raw[r.pos:]

	first, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedTransaction)
	}
	if first&versionPrefix != 0 {
		tx.Version = int(first &^ versionPrefix)
		if first, err = r.byte(); err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrMalformedTransaction, err)
		}
	}
	tx.NumRequiredSignatures = int(first)
	// Read-only signed and unsigned counts.
	if _, err := r.take(2); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedTransaction, err)
	}

	keys, err := r.compactU16()
	if err != nil {
		return nil, fmt.Errorf("%w: account count: %v", ErrMalformedTransaction, err)
	}
	tx.AccountKeys = make([][PublicKeySize]byte, keys)
	for i := range tx.AccountKeys {
		b, err := r.take(PublicKeySize)
		if err != nil {
			return nil, fmt.Errorf("%w: account key %d: %v", ErrMalformedTransaction, i, err)
		}
		copy(tx.AccountKeys[i][:], b)
	}

	if tx.NumRequiredSignatures != len(tx.Signatures) {
		return nil, fmt.Errorf("%w: header requires %d signatures, found %d slots",
			ErrMalformedTransaction, tx.NumRequiredSignatures, len(tx.Signatures))
	}
	if tx.NumRequiredSignatures > len(tx.AccountKeys) {
		return nil, fmt.Errorf("%w: more signers than accounts", ErrMalformedTransaction)
	}
	return tx, nil
}

// Encode serializes the transaction.
func (t *WireTransaction) Encode() []byte {
	out := make([]byte, 0, 3+len(t.Signatures)*SignatureSize+len(t.Message))
	out = appendCompactU16(out, len(t.Signatures))
	for _, s := range t.Signatures {
		out = append(out, s[:]...)
	}
	return append(out, t.Message...)
}

// SignerIndex returns the signature slot of pub.
func (t *WireTransaction) SignerIndex(pub ed25519.PublicKey) (int, bool) {
	if len(pub) != PublicKeySize {
		return 0, false
	}
	for i := 0; i < t.NumRequiredSignatures; i++ {
		if string(t.AccountKeys[i][:]) == string(pub) {
			return i, true
		}
	}
	return 0, false
}

// Sign places priv's signature over the message at its signer slot.
func (t *WireTransaction) Sign(priv ed25519.PrivateKey) error {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("unexpected public key type")
	}
	idx, ok := t.SignerIndex(pub)
	if !ok {
		return ErrNotASigner
	}
	copy(t.Signatures[idx][:], ed25519.Sign(priv, t.Message))
	return nil
}

// FeePayer returns the base58 address of the first account key.
func (t *WireTransaction) FeePayer() string {
	if len(t.AccountKeys) == 0 {
		return ""
	}
	return base58.Encode(t.AccountKeys[0][:])
}

// Signature returns the base58 transaction ID (the fee payer's signature).
// It is empty while the first slot is unsigned.
func (t *WireTransaction) Signature() string {
	if len(t.Signatures) == 0 || t.Signatures[0] == ([SignatureSize]byte{}) {
		return ""
	}
	return base58.Encode(t.Signatures[0][:])
}

// FullySigned reports whether every signature slot is filled.
func (t *WireTransaction) FullySigned() bool {
	for _, s := range t.Signatures {
		if s == ([SignatureSize]byte{}) {
			return false
		}
	}
	return true
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("unexpected end of data")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf)-r.pos < n {
		return nil, errors.New("unexpected end of data")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// compactU16 decodes the shortvec length prefix (1 to 3 bytes).
func (r *reader) compactU16() (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > 0xffff {
				return 0, errors.New("compact-u16 overflow")
			}
			return v, nil
		}
	}
	return 0, errors.New("compact-u16 too long")
}

func appendCompactU16(out []byte, v int) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
