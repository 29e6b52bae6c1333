package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/events"
	"solana-action-relay/internal/solana"
	"solana-action-relay/internal/solana/stub"
	"solana-action-relay/internal/storage/memory"
)

var errTransport = errors.New("dial tcp: connection refused")

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func signedPayload(t *testing.T) ([]byte, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tx, err := solana.DecodeTransaction(stub.UnsignedTransaction(pub))
	require.NoError(t, err)
	require.NoError(t, tx.Sign(priv))
	return tx.Encode(), base58.Encode(pub)
}

type fixture struct {
	relay    *Relay
	ledger   *stub.RPCClient
	attempts *memory.RelayAttemptStore
	events   *recorder
	sleeps   []time.Duration
}

func newFixture(t *testing.T, policy RetryPolicy) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   stub.NewRPCClient(),
		attempts: memory.NewRelayAttemptStore(),
		events:   &recorder{},
	}
	var tick int64
	f.relay = New(Options{
		Ledger:    f.ledger,
		Attempts:  f.attempts,
		Publisher: f.events,
		Policy:    policy,
		Now: func() time.Time {
			tick++
			return time.UnixMilli(1_700_000_000_000 + tick)
		},
	})
	f.relay.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	return f
}

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, payer := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Signature: "sig1"}}

	sig, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "sig1", sig)
	assert.Len(t, f.ledger.Sent(), 1)
	assert.Empty(t, f.ledger.Simulated())

	attempts, err := f.attempts.GetByWallet(context.Background(), payer)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.RelayAccepted, attempts[0].Outcome)
	assert.Equal(t, "sig1", attempts[0].Signature)
	assert.Equal(t, 1, attempts[0].AttemptNumber)

	evs := f.events.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindTransaction, evs[0].Kind)
	assert.Equal(t, payer, evs[0].WalletAddress)
	assert.Equal(t, events.TransactionData{Outcome: "accepted", Signature: "sig1"}, evs[0].Data)
}

func TestSubmit_RetriesTransientThenSucceeds(t *testing.T) {
	f := newFixture(t, RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 2})
	payload, payer := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: errTransport}, {Err: errTransport}, {Signature: "sig3"}}

	sig, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload, WalletAddress: payer})
	require.NoError(t, err)
	assert.Equal(t, "sig3", sig)
	assert.Len(t, f.ledger.Sent(), 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.sleeps)

	attempts, err := f.attempts.GetByWallet(context.Background(), payer)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.Equal(t, attempts[0].PayloadHash, a.PayloadHash)
	}
	assert.Equal(t, domain.RelayRejected, attempts[0].Outcome)
	assert.Equal(t, domain.RelayAccepted, attempts[2].Outcome)
}

func TestSubmit_RetryBoundThenDiagnostic(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, payer := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: errTransport}}
	f.ledger.SimulateErr = errTransport

	_, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	sf, ok := AsSubmissionFailed(err)
	require.True(t, ok, "expected *SubmissionFailedError, got %T", err)
	assert.Equal(t, DefaultMaxAttempts, sf.Attempts)
	assert.Len(t, f.ledger.Sent(), DefaultMaxAttempts)
	assert.ErrorIs(t, err, errTransport)
	assert.NotEmpty(t, sf.Diagnostic.Message)
	assert.Contains(t, sf.Diagnostic.Message, "simulation unavailable")

	attempts, err := f.attempts.GetByWallet(context.Background(), payer)
	require.NoError(t, err)
	assert.Len(t, attempts, DefaultMaxAttempts)
	assert.NotEmpty(t, attempts[len(attempts)-1].Diagnostic)
}

func TestSubmit_ValidationFailureNotRetried(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, payer := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: &solana.RPCError{Code: -32003, Message: "Transaction signature verification failure"}}}
	custom := uint32(1)
	f.ledger.Simulation = &solana.SimulationResult{
		Err:  &solana.TransactionError{InstructionIndex: 2, Code: "Custom", Custom: &custom},
		Logs: []string{"Program X invoke [1]", "Program log: Error: insufficient funds", "Program X failed: custom program error: 0x1"},
	}

	_, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	sf, ok := AsSubmissionFailed(err)
	require.True(t, ok)
	assert.Equal(t, 1, sf.Attempts)
	assert.Empty(t, f.sleeps)
	assert.Len(t, f.ledger.Simulated(), 1)

	assert.Equal(t, 2, sf.Diagnostic.InstructionIndex)
	assert.Equal(t, "Custom:1", sf.Diagnostic.ErrorCode)
	assert.Contains(t, sf.Diagnostic.Message, "custom program error: 0x1")
	assert.Len(t, sf.Diagnostic.Logs, 3)
	assert.Contains(t, sf.RawError, "-32003")

	evs := f.events.all()
	require.Len(t, evs, 1)
	data := evs[0].Data.(events.TransactionData)
	assert.Equal(t, "rejected", data.Outcome)
	assert.Equal(t, payer, evs[0].WalletAddress)
	assert.Contains(t, data.Diagnostic, "instruction 2")
}

func TestSubmit_UsesPreflightSimulation(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, _ := signedPayload(t)
	data, err := json.Marshal(map[string]interface{}{
		"err":  map[string]interface{}{"InstructionError": []interface{}{1, map[string]interface{}{"Custom": 6001}}},
		"logs": []string{"Program log: slippage exceeded"},
	})
	require.NoError(t, err)
	f.ledger.SendResults = []stub.SendResult{{Err: &solana.RPCError{
		Code:    solana.CodeSendTransactionPreflightFailure,
		Message: "Transaction simulation failed",
		Data:    data,
	}}}

	_, err = f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	sf, ok := AsSubmissionFailed(err)
	require.True(t, ok)
	assert.Empty(t, f.ledger.Simulated())
	assert.Equal(t, 1, sf.Diagnostic.InstructionIndex)
	assert.Equal(t, "Custom:6001", sf.Diagnostic.ErrorCode)
}

func TestSubmit_SimulationPassesFallsBackToRawError(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, _ := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: &solana.RPCError{Code: solana.CodeBlockhashNotFound, Message: "Blockhash not found"}}}

	_, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	sf, ok := AsSubmissionFailed(err)
	require.True(t, ok)
	assert.Equal(t, -1, sf.Diagnostic.InstructionIndex)
	assert.Equal(t, "-32008", sf.Diagnostic.ErrorCode)
	assert.Contains(t, sf.Diagnostic.Message, "Blockhash not found")
}

func TestSubmit_InvalidPayloads(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrEmptyPayload},
		{"garbage", []byte{1, 2, 3}, solana.ErrMalformedTransaction},
		{"unsigned", stub.UnsignedTransaction(pub), ErrNotFullySigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, RetryPolicy{})
			_, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: tt.payload, WalletAddress: "W"})
			assert.ErrorIs(t, err, tt.want)
			sf, ok := AsSubmissionFailed(err)
			require.True(t, ok)
			assert.NotEmpty(t, sf.Diagnostic.Message)
			assert.Empty(t, f.ledger.Sent())
			assert.Len(t, f.events.all(), 1)
		})
	}
}

func TestSubmit_ContextCancelledStopsRetries(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, _ := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: errTransport}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.relay.Submit(ctx, SubmitRequest{Payload: payload})
	sf, ok := AsSubmissionFailed(err)
	require.True(t, ok)
	assert.Equal(t, 1, sf.Attempts)
	assert.Len(t, f.ledger.Simulated(), 1)
}

func TestSubmitBase64(t *testing.T) {
	f := newFixture(t, RetryPolicy{})
	payload, _ := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Signature: "sig"}}

	sig, err := f.relay.SubmitBase64(context.Background(), base64.StdEncoding.EncodeToString(payload), "")
	require.NoError(t, err)
	assert.Equal(t, "sig", sig)

	_, err = f.relay.SubmitBase64(context.Background(), "!!not base64", "")
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

type fakeSigner struct {
	priv ed25519.PrivateKey
	err  error
}

func (s *fakeSigner) SignTransaction(_ context.Context, _ string, unsigned []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	tx, err := solana.DecodeTransaction(unsigned)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(s.priv); err != nil {
		return nil, err
	}
	return tx.Encode(), nil
}

func TestSubmitCustodial(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	f := newFixture(t, RetryPolicy{})
	f.relay.signer = &fakeSigner{priv: priv}
	f.ledger.SendResults = []stub.SendResult{{Signature: "sig"}}

	sig, err := f.relay.SubmitCustodial(context.Background(), "wallet-1", base58.Encode(pub), stub.UnsignedTransaction(pub))
	require.NoError(t, err)
	assert.Equal(t, "sig", sig)

	sent := f.ledger.Sent()
	require.Len(t, sent, 1)
	tx, err := solana.DecodeTransaction(sent[0])
	require.NoError(t, err)
	assert.True(t, tx.FullySigned())

	f.relay.signer = &fakeSigner{err: errors.New("vault unavailable")}
	_, err = f.relay.SubmitCustodial(context.Background(), "wallet-1", "", stub.UnsignedTransaction(pub))
	assert.Error(t, err)
	_, ok := AsSubmissionFailed(err)
	assert.False(t, ok)
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	f := newFixture(t, RetryPolicy{MaxAttempts: 1})
	f.relay.ledger = newGuardedLedger(f.ledger, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, f.relay.logger)
	payload, _ := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: errTransport}}
	f.ledger.SimulateErr = errTransport

	_, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	require.Error(t, err)

	// send and simulate each failed once; the breaker is now open
	_, err = f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
	sf, ok := AsSubmissionFailed(err)
	require.True(t, ok)
	assert.Contains(t, sf.RawError, "circuit breaker is open")
	assert.Len(t, f.ledger.Sent(), 1)
}

func TestBreakerIgnoresNodeRejections(t *testing.T) {
	f := newFixture(t, RetryPolicy{MaxAttempts: 1})
	f.relay.ledger = newGuardedLedger(f.ledger, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Minute}, f.relay.logger)
	payload, _ := signedPayload(t)
	f.ledger.SendResults = []stub.SendResult{{Err: &solana.RPCError{Code: -32003, Message: "bad sig"}}}

	for i := 0; i < 3; i++ {
		_, err := f.relay.Submit(context.Background(), SubmitRequest{Payload: payload})
		require.Error(t, err)
	}
	assert.Len(t, f.ledger.Sent(), 3)
}
