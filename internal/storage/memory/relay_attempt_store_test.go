package memory

import (
	"context"
	"errors"
	"testing"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

func TestRelayAttemptStore_AppendOnly(t *testing.T) {
	store := NewRelayAttemptStore()
	ctx := context.Background()

	a := &domain.RelayAttempt{
		AttemptID:     "a1",
		PayloadHash:   "hash1",
		WalletAddress: "wallet1",
		AttemptNumber: 1,
		SubmittedAt:   1000,
		Outcome:       domain.RelayRejected,
		RawError:      "blockhash not found",
	}
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, a); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	// Mutating the caller's struct after insert must not change the record.
	a.Outcome = domain.RelayAccepted

	got, err := store.GetByPayloadHash(ctx, "hash1")
	if err != nil {
		t.Fatalf("GetByPayloadHash failed: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != domain.RelayRejected {
		t.Errorf("record was mutated: %+v", got)
	}
}

func TestRelayAttemptStore_GetByWalletOrdered(t *testing.T) {
	store := NewRelayAttemptStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.RelayAttempt{AttemptID: "a2", WalletAddress: "w", SubmittedAt: 2000, AttemptNumber: 1})
	_ = store.Insert(ctx, &domain.RelayAttempt{AttemptID: "a1", WalletAddress: "w", SubmittedAt: 1000, AttemptNumber: 1})
	_ = store.Insert(ctx, &domain.RelayAttempt{AttemptID: "a3", WalletAddress: "other", SubmittedAt: 500, AttemptNumber: 1})

	got, err := store.GetByWallet(ctx, "w")
	if err != nil {
		t.Fatalf("GetByWallet failed: %v", err)
	}
	if len(got) != 2 || got[0].AttemptID != "a1" || got[1].AttemptID != "a2" {
		t.Errorf("unexpected result: %+v", got)
	}
}
