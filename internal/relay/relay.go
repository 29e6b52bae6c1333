// Package relay submits signed transactions to the ledger with bounded
// retries and explains failures through simulation.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/events"
	"solana-action-relay/internal/idhash"
	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/solana"
	"solana-action-relay/internal/storage"
)

var (
	// ErrEmptyPayload is returned when no payload is given.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrInvalidEncoding is returned by SubmitBase64 for undecodable input.
	ErrInvalidEncoding = errors.New("payload is not valid base64")

	// ErrNotFullySigned is returned when a required signature is missing.
	ErrNotFullySigned = errors.New("transaction is missing required signatures")
)

// Ledger is the network boundary used by the relay.
type Ledger interface {
	SendTransaction(ctx context.Context, raw []byte) (string, error)
	SimulateTransaction(ctx context.Context, raw []byte) (*solana.SimulationResult, error)
}

// Signer signs unsigned payloads with a custodied wallet key.
type Signer interface {
	SignTransaction(ctx context.Context, walletID string, unsigned []byte) ([]byte, error)
}

// SubmitRequest is a signed payload to relay.
type SubmitRequest struct {
	Payload []byte
	// WalletAddress is the affected wallet. Defaults to the fee payer.
	WalletAddress string
}

// Relay submits signed transactions.
type Relay struct {
	ledger    *guardedLedger
	attempts  storage.RelayAttemptStore
	publisher events.Publisher
	signer    Signer
	policy    RetryPolicy
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// Options for creating Relay.
type Options struct {
	// Required
	Ledger Ledger

	// Optional
	Attempts  storage.RelayAttemptStore
	Publisher events.Publisher
	Signer    Signer
	Policy    RetryPolicy
	Breaker   BreakerSettings
	Logger    *zap.Logger
	Now       func() time.Time
}

// New creates a new Relay.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("relay")

	r := &Relay{
		ledger:    newGuardedLedger(opts.Ledger, opts.Breaker, logger),
		attempts:  opts.Attempts,
		publisher: opts.Publisher,
		signer:    opts.Signer,
		policy:    opts.Policy.withDefaults(),
		logger:    logger,
		now:       opts.Now,
		sleep:     sleepContext,
	}
	if r.publisher == nil {
		r.publisher = events.Discard
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Submit relays req.Payload. It returns the transaction signature once the
// ledger accepts it, or a *SubmissionFailedError.
func (r *Relay) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	start := time.Now()
	wallet := req.WalletAddress

	tx, err := r.precheck(req.Payload)
	if err != nil {
		fail := &SubmissionFailedError{
			RawError:   err.Error(),
			Diagnostic: Diagnostic{InstructionIndex: -1, Message: err.Error()},
			err:        err,
		}
		r.finish(wallet, "", fail, start)
		return "", fail
	}
	if wallet == "" {
		wallet = tx.FeePayer()
	}
	payloadHash := idhash.ComputePayloadHash(req.Payload)

	var (
		sendErr     error
		submittedAt int64
	)
	attempt := 0
	for {
		attempt++
		submittedAt = r.now().UnixMilli()
		sig, err := r.ledger.send(ctx, req.Payload)
		if err == nil {
			observability.RecordRelayAttempt(string(domain.RelayAccepted))
			r.record(ctx, &domain.RelayAttempt{
				PayloadHash:   payloadHash,
				WalletAddress: wallet,
				AttemptNumber: attempt,
				SubmittedAt:   submittedAt,
				Outcome:       domain.RelayAccepted,
				Signature:     sig,
			})
			r.logger.Info("transaction relayed",
				zap.String("signature", sig), zap.String("wallet", wallet), zap.Int("attempt", attempt))
			r.finish(wallet, sig, nil, start)
			return sig, nil
		}
		sendErr = err

		if !r.policy.ShouldRetry(attempt, err) {
			break
		}
		delay := r.policy.Delay(attempt)
		r.logger.Warn("submission failed, retrying",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		if serr := r.sleep(ctx, delay); serr != nil {
			break
		}
		// The final attempt is recorded after diagnosis.
		observability.RecordRelayAttempt("retry")
		r.record(ctx, &domain.RelayAttempt{
			PayloadHash:   payloadHash,
			WalletAddress: wallet,
			AttemptNumber: attempt,
			SubmittedAt:   submittedAt,
			Outcome:       domain.RelayRejected,
			RawError:      err.Error(),
		})
	}

	diag := r.diagnose(ctx, req.Payload, sendErr)
	fail := &SubmissionFailedError{
		RawError:   sendErr.Error(),
		Diagnostic: diag,
		Attempts:   attempt,
		err:        sendErr,
	}
	observability.RecordRelayAttempt(string(domain.RelayRejected))
	r.record(ctx, &domain.RelayAttempt{
		PayloadHash:   payloadHash,
		WalletAddress: wallet,
		AttemptNumber: attempt,
		SubmittedAt:   submittedAt,
		Outcome:       domain.RelayRejected,
		RawError:      fail.RawError,
		Diagnostic:    diag.String(),
	})
	r.logger.Warn("submission failed",
		zap.String("wallet", wallet), zap.Int("attempts", attempt),
		zap.String("raw_error", fail.RawError), zap.String("diagnostic", diag.String()))
	r.finish(wallet, "", fail, start)
	return "", fail
}

// SubmitBase64 decodes a base64 payload and submits it.
func (r *Relay) SubmitBase64(ctx context.Context, payload, walletAddress string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return r.Submit(ctx, SubmitRequest{Payload: raw, WalletAddress: walletAddress})
}

// SubmitCustodial signs unsigned with the custodied key of walletID and
// submits the result. walletAddress is the wallet's public address.
func (r *Relay) SubmitCustodial(ctx context.Context, walletID, walletAddress string, unsigned []byte) (string, error) {
	if r.signer == nil {
		return "", errors.New("custodial signing is not configured")
	}
	signed, err := r.signer.SignTransaction(ctx, walletID, unsigned)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	return r.Submit(ctx, SubmitRequest{Payload: signed, WalletAddress: walletAddress})
}

func (r *Relay) precheck(payload []byte) (*solana.WireTransaction, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	tx, err := solana.DecodeTransaction(payload)
	if err != nil {
		return nil, err
	}
	if !tx.FullySigned() {
		return nil, ErrNotFullySigned
	}
	return tx, nil
}

// diagnose prefers the simulation carried by a preflight failure and only
// runs a new one when none is available.
func (r *Relay) diagnose(ctx context.Context, payload []byte, sendErr error) Diagnostic {
	var rpcErr *solana.RPCError
	if errors.As(sendErr, &rpcErr) {
		if sim, ok := rpcErr.Preflight(); ok && sim.Err != nil {
			return diagnose(sendErr, sim, nil)
		}
	}

	// Simulation is read-only; it must still run when the caller gave up.
	simCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	observability.RecordSimulation()
	sim, err := r.ledger.simulate(simCtx, payload)
	if err != nil {
		r.logger.Warn("simulation failed", zap.Error(err))
	}
	return diagnose(sendErr, sim, err)
}

func (r *Relay) record(ctx context.Context, a *domain.RelayAttempt) {
	if r.attempts == nil {
		return
	}
	a.AttemptID = idhash.ComputeAttemptID(a.PayloadHash, a.WalletAddress, a.AttemptNumber, a.SubmittedAt)
	if err := r.attempts.Insert(context.WithoutCancel(ctx), a); err != nil {
		r.logger.Error("record relay attempt",
			zap.Error(err), zap.String("attempt_id", a.AttemptID), zap.Int("attempt", a.AttemptNumber))
	}
}

func (r *Relay) finish(wallet, sig string, fail *SubmissionFailedError, start time.Time) {
	outcome := domain.RelayAccepted
	data := events.TransactionData{Outcome: string(outcome), Signature: sig}
	if fail != nil {
		outcome = domain.RelayRejected
		data = events.TransactionData{
			Outcome:    string(outcome),
			Error:      fail.RawError,
			Diagnostic: fail.Diagnostic.String(),
		}
	}
	observability.RecordRelaySubmission(string(outcome), time.Since(start).Seconds())
	if wallet != "" {
		r.publisher.Publish(events.Transaction(wallet, data))
	}
}
