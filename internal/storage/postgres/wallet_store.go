package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// WalletStore implements storage.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

const walletColumns = `
	id, owner_id, public_address, encrypted_secret, key_fingerprint,
	origin, is_default, created_at
`

// Insert adds a new wallet. Returns ErrDuplicateKey if id or public address exists.
func (s *WalletStore) Insert(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		w.ID,
		w.OwnerID,
		w.PublicAddress,
		w.EncryptedSecret,
		w.KeyFingerprint,
		string(w.Origin),
		w.IsDefault,
		w.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID retrieves a wallet by ID. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByID(ctx context.Context, walletID string) (*domain.Wallet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	w, err := scanWallet(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// GetByAddress retrieves a wallet by public address. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE public_address = $1`, address)
	w, err := scanWallet(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by address: %w", err)
	}
	return w, nil
}

// GetByOwner retrieves all wallets of an owner ordered by created_at ASC.
func (s *WalletStore) GetByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query wallets by owner: %w", err)
	}
	defer rows.Close()

	var result []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}
	return result, nil
}

// SetDefault marks walletID as the owner's default in one transaction.
func (s *WalletStore) SetDefault(ctx context.Context, ownerID, walletID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set default: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET is_default = FALSE WHERE owner_id = $1 AND is_default`, ownerID,
	); err != nil {
		return fmt.Errorf("clear default wallet: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET is_default = TRUE WHERE owner_id = $1 AND id = $2`, ownerID, walletID,
	)
	if err != nil {
		return fmt.Errorf("set default wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set default: %w", err)
	}
	return nil
}

// scanWallet scans a single row into Wallet.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w      domain.Wallet
		origin string
	)

	err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.PublicAddress,
		&w.EncryptedSecret,
		&w.KeyFingerprint,
		&origin,
		&w.IsDefault,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Origin = domain.WalletOrigin(origin)
	return &w, nil
}
