package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/storage"
)

// RelayAttemptStore implements storage.RelayAttemptStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Insert checks attempt_id first.
type RelayAttemptStore struct {
	conn *Conn
}

// NewRelayAttemptStore creates a new RelayAttemptStore.
func NewRelayAttemptStore(conn *Conn) *RelayAttemptStore {
	return &RelayAttemptStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RelayAttemptStore = (*RelayAttemptStore)(nil)

const relayAttemptColumns = `
	attempt_id, payload_hash, wallet_address, attempt_number, submitted_at,
	outcome, signature, raw_error, diagnostic
`

// Insert records an attempt. Returns ErrDuplicateKey if attempt_id exists.
func (s *RelayAttemptStore) Insert(ctx context.Context, a *domain.RelayAttempt) (err error) {
	if a == nil || a.AttemptID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert", time.Since(start).Seconds(), err)
	}()

	var count uint64
	if err := s.conn.QueryRow(ctx,
		`SELECT count() FROM relay_attempts WHERE attempt_id = ?`, a.AttemptID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check relay attempt exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx,
		`INSERT INTO relay_attempts (`+relayAttemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AttemptID,
		a.PayloadHash,
		a.WalletAddress,
		uint16(a.AttemptNumber),
		a.SubmittedAt,
		string(a.Outcome),
		a.Signature,
		a.RawError,
		a.Diagnostic,
	)
	if err != nil {
		return fmt.Errorf("insert relay attempt: %w", err)
	}
	return nil
}

// GetByWallet returns attempts for a wallet ordered by submitted_at ASC.
func (s *RelayAttemptStore) GetByWallet(ctx context.Context, wallet string) ([]*domain.RelayAttempt, error) {
	return s.query(ctx, `
		SELECT `+relayAttemptColumns+`
		FROM relay_attempts
		WHERE wallet_address = ?
		ORDER BY submitted_at ASC, attempt_number ASC
	`, wallet)
}

// GetByPayloadHash returns every attempt made for the same signed payload.
func (s *RelayAttemptStore) GetByPayloadHash(ctx context.Context, hash string) ([]*domain.RelayAttempt, error) {
	return s.query(ctx, `
		SELECT `+relayAttemptColumns+`
		FROM relay_attempts
		WHERE payload_hash = ?
		ORDER BY submitted_at ASC, attempt_number ASC
	`, hash)
}

func (s *RelayAttemptStore) query(ctx context.Context, query string, arg string) ([]*domain.RelayAttempt, error) {
	rows, err := s.conn.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query relay attempts: %w", err)
	}
	defer rows.Close()

	var result []*domain.RelayAttempt
	for rows.Next() {
		var (
			a       domain.RelayAttempt
			number  uint16
			outcome string
		)
		if err := rows.Scan(
			&a.AttemptID,
			&a.PayloadHash,
			&a.WalletAddress,
			&number,
			&a.SubmittedAt,
			&outcome,
			&a.Signature,
			&a.RawError,
			&a.Diagnostic,
		); err != nil {
			return nil, fmt.Errorf("scan relay attempt: %w", err)
		}
		a.AttemptNumber = int(number)
		a.Outcome = domain.RelayOutcome(outcome)
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relay attempts: %w", err)
	}
	return result, nil
}
