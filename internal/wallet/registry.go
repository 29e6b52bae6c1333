// Package wallet owns custodied wallet records and their encrypted secrets.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/events"
	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/solana"
	"solana-action-relay/internal/storage"
)

// Cipher encrypts secrets at rest. Implemented by keyvault.Vault.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(stored string) (string, error)
	Fingerprint() string
}

// Portfolio change values.
const (
	ChangeCreated  = "created"
	ChangeImported = "imported"
)

// Registry is the sole holder of encrypted wallet secrets.
type Registry struct {
	store     storage.WalletStore
	vault     Cipher
	publisher events.Publisher
	logger    *zap.Logger
	random    io.Reader
	now       func() time.Time
}

// Options for creating Registry.
type Options struct {
	// Required
	Store storage.WalletStore
	Vault Cipher

	// Optional
	Publisher events.Publisher
	Logger    *zap.Logger
	Random    io.Reader        // key generation entropy, crypto/rand by default
	Now       func() time.Time // clock, time.Now by default
}

// New creates a new Registry.
func New(opts Options) *Registry {
	r := &Registry{
		store:     opts.Store,
		vault:     opts.Vault,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		random:    opts.Random,
		now:       opts.Now,
	}
	if r.publisher == nil {
		r.publisher = events.Discard
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("wallet")
	if r.random == nil {
		r.random = rand.Reader
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Generate creates a fresh keypair for ownerID and takes it into custody.
func (r *Registry) Generate(ctx context.Context, ownerID string) (domain.Wallet, error) {
	_, priv, err := ed25519.GenerateKey(r.random)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("generate key: %w", err)
	}
	defer zero(priv)

	return r.custody(ctx, ownerID, priv, domain.WalletOriginGenerated)
}

// Import takes existing secret material into custody. See parseSecret for
// the accepted formats.
func (r *Registry) Import(ctx context.Context, ownerID, secretMaterial string) (domain.Wallet, error) {
	priv, err := parseSecret(secretMaterial)
	if err != nil {
		return domain.Wallet{}, err
	}
	defer zero(priv)

	address := base58.Encode(priv.Public().(ed25519.PublicKey))
	if _, err := r.store.GetByAddress(ctx, address); err == nil {
		return domain.Wallet{}, ErrWalletExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("lookup address: %w", err)
	}

	return r.custody(ctx, ownerID, priv, domain.WalletOriginImported)
}

// custody encrypts priv, persists the record and announces it.
func (r *Registry) custody(ctx context.Context, ownerID string, priv ed25519.PrivateKey, origin domain.WalletOrigin) (domain.Wallet, error) {
	if ownerID == "" {
		return domain.Wallet{}, fmt.Errorf("owner id: %w", storage.ErrInvalidInput)
	}

	secret, err := r.vault.Encrypt(encodeSecret(priv))
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("encrypt secret: %w", err)
	}

	w := &domain.Wallet{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		PublicAddress:   base58.Encode(priv.Public().(ed25519.PublicKey)),
		EncryptedSecret: secret,
		KeyFingerprint:  r.vault.Fingerprint(),
		Origin:          origin,
		CreatedAt:       r.now().UnixMilli(),
	}

	if err := r.store.Insert(ctx, w); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return domain.Wallet{}, ErrWalletExists
		}
		return domain.Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}

	// The owner's first wallet becomes the default.
	if err := r.ensureDefault(ctx, w); err != nil {
		r.logger.Warn("set default wallet", zap.String("wallet_id", w.ID), zap.Error(err))
	}

	change := ChangeCreated
	if origin == domain.WalletOriginImported {
		change = ChangeImported
	}
	r.logger.Info("wallet in custody",
		zap.String("wallet_id", w.ID),
		zap.String("owner_id", ownerID),
		zap.String("address", w.PublicAddress),
		zap.String("origin", string(origin)))
	observability.RecordWalletCreated(string(origin))
	r.publisher.Publish(events.Portfolio(w.PublicAddress, events.PortfolioData{
		OwnerID:  ownerID,
		WalletID: w.ID,
		Change:   change,
	}))

	return w.Public(), nil
}

func (r *Registry) ensureDefault(ctx context.Context, w *domain.Wallet) error {
	wallets, err := r.store.GetByOwner(ctx, w.OwnerID)
	if err != nil {
		return err
	}
	for _, other := range wallets {
		if other.IsDefault {
			return nil
		}
	}
	if err := r.store.SetDefault(ctx, w.OwnerID, w.ID); err != nil {
		return err
	}
	w.IsDefault = true
	return nil
}

// Get returns the wallet without its secret.
func (r *Registry) Get(ctx context.Context, walletID string) (domain.Wallet, error) {
	w, err := r.load(ctx, walletID)
	if err != nil {
		return domain.Wallet{}, err
	}
	return w.Public(), nil
}

// GetByAddress returns the wallet with the given public address.
func (r *Registry) GetByAddress(ctx context.Context, address string) (domain.Wallet, error) {
	w, err := r.store.GetByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Wallet{}, ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("get wallet by address: %w", err)
	}
	return w.Public(), nil
}

// FindByOwner returns the owner's wallets, oldest first.
func (r *Registry) FindByOwner(ctx context.Context, ownerID string) ([]domain.Wallet, error) {
	wallets, err := r.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get wallets by owner: %w", err)
	}
	out := make([]domain.Wallet, len(wallets))
	for i, w := range wallets {
		out[i] = w.Public()
	}
	return out, nil
}

// SetDefault makes walletID its owner's default wallet.
func (r *Registry) SetDefault(ctx context.Context, walletID string) error {
	w, err := r.load(ctx, walletID)
	if err != nil {
		return err
	}
	if err := r.store.SetDefault(ctx, w.OwnerID, w.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set default: %w", err)
	}
	return nil
}

// SignTransaction signs a serialized transaction with the wallet's key and
// returns the re-serialized transaction. The wallet must be one of the
// transaction's required signers.
func (r *Registry) SignTransaction(ctx context.Context, walletID string, unsigned []byte) ([]byte, error) {
	tx, err := solana.DecodeTransaction(unsigned)
	if err != nil {
		return nil, err
	}

	kp, err := r.signingKeypair(ctx, walletID)
	if err != nil {
		return nil, err
	}
	defer kp.Zero()

	if err := tx.Sign(kp.PrivateKey()); err != nil {
		return nil, fmt.Errorf("sign with %s: %w", kp.Address(), err)
	}
	return tx.Encode(), nil
}

// signingKeypair decrypts the wallet's secret and checks it against the
// stored address.
func (r *Registry) signingKeypair(ctx context.Context, walletID string) (*Keypair, error) {
	w, err := r.load(ctx, walletID)
	if err != nil {
		return nil, err
	}

	if w.KeyFingerprint != "" && w.KeyFingerprint != r.vault.Fingerprint() {
		observability.RecordVaultFailure()
		r.logger.Error("vault key changed since wallet was stored", zap.String("wallet_id", w.ID))
		return nil, ErrVaultUnavailable
	}

	plain, err := r.vault.Decrypt(w.EncryptedSecret)
	if err != nil {
		observability.RecordVaultFailure()
		r.logger.Error("decrypt wallet secret", zap.String("wallet_id", w.ID))
		return nil, ErrVaultUnavailable
	}

	raw, err := base58.Decode(plain)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, ErrKeyMismatch
	}
	kp := &Keypair{priv: ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])}
	zero(raw)

	if kp.Address() != w.PublicAddress {
		kp.Zero()
		return nil, ErrKeyMismatch
	}
	return kp, nil
}

func (r *Registry) load(ctx context.Context, walletID string) (*domain.Wallet, error) {
	w, err := r.store.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
