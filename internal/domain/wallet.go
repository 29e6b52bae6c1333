package domain

// WalletOrigin describes how the signing material entered custody.
type WalletOrigin string

// Wallet origin constants
const (
	WalletOriginGenerated WalletOrigin = "generated"
	WalletOriginImported  WalletOrigin = "imported"
)

// Wallet is a custodied Solana keypair record.
// Corresponds to wallets table in PostgreSQL.
type Wallet struct {
	ID              string       // uuid primary key
	OwnerID         string       // reference to the owning user
	PublicAddress   string       // base58 ed25519 public key, immutable
	EncryptedSecret string       // base64(IV || AES-256-CBC ciphertext)
	KeyFingerprint  string       // fingerprint of the vault key used to encrypt
	Origin          WalletOrigin // generated | imported
	IsDefault       bool         // owner's default wallet
	CreatedAt       int64        // record creation timestamp (ms)
}

// Public returns a copy safe to hand to callers outside the registry.
func (w Wallet) Public() Wallet {
	w.EncryptedSecret = ""
	return w
}
