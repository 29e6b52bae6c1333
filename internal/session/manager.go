// Package session drives the multi-turn collection of swap and launch
// parameters and hands completed requests to the transaction builder.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-action-relay/internal/builder"
	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/storage"
)

// DefaultIdleTimeout is how long an untouched session stays resumable.
const DefaultIdleTimeout = 10 * time.Minute

var (
	// ErrNoSession is returned when input arrives without an active session
	// and without an action kind to start one.
	ErrNoSession = errors.New("no active session")

	// ErrUnknownKind is returned for action kinds without a flow.
	ErrUnknownKind = errors.New("unknown action kind")

	// ErrNoWallet is returned when a session is confirmed before a wallet
	// was bound. The session stays at confirmation.
	ErrNoWallet = errors.New("no wallet bound to session")
)

// Builder turns a completed session into an unsigned transaction.
type Builder interface {
	Build(ctx context.Context, req builder.Request) (*builder.Result, error)
}

// Locker serializes turns for a key across processes that share a store.
// Implemented by redis.KeyLock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Reply is the outcome of one turn.
type Reply struct {
	Kind   domain.ActionKind `json:"kind,omitempty"`
	Stage  domain.Stage      `json:"stage,omitempty"`
	Prompt string            `json:"prompt"`
	// Ready is set when the session was confirmed and built.
	Ready *builder.Result `json:"ready,omitempty"`
	// WalletAddress is the wallet Ready was built for.
	WalletAddress string `json:"-"`
}

// AdvanceOption adjusts a single Advance call.
type AdvanceOption func(*advanceOptions)

type advanceOptions struct {
	walletAddress string
}

// WithWallet binds the acting wallet to the session.
func WithWallet(address string) AdvanceOption {
	return func(o *advanceOptions) {
		o.walletAddress = address
	}
}

// Manager owns ActionSessions. Turns for one session key are linearized;
// different keys proceed independently.
type Manager struct {
	store       storage.SessionStore
	builder     Builder
	idleTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
	locks       *keyedMutex
	shared      Locker
}

// Options for creating Manager.
type Options struct {
	// Required
	Store   storage.SessionStore
	Builder Builder

	// Optional
	IdleTimeout time.Duration
	// Locker is required when several processes share Store.
	Locker Locker
	Logger *zap.Logger
	Now    func() time.Time
}

// NewManager creates a new Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:       opts.Store,
		builder:     opts.Builder,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		now:         opts.Now,
		locks:       newKeyedMutex(),
		shared:      opts.Locker,
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = DefaultIdleTimeout
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("session")
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Advance applies one user turn to the session under key.
//
// Without an active session, a non-empty kind starts one and the input is
// treated as the triggering utterance. A kind different from the active
// session's kind replaces it. An empty kind continues the active session.
func (m *Manager) Advance(ctx context.Context, key string, kind domain.ActionKind, input string, opts ...AdvanceOption) (Reply, error) {
	if key == "" {
		return Reply{}, fmt.Errorf("session key: %w", storage.ErrInvalidInput)
	}
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock, err := m.lock(ctx, key)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	sess, err := m.load(ctx, key)
	if err != nil {
		return Reply{}, err
	}

	if sess == nil || (kind != "" && kind != sess.Kind) {
		if kind == "" {
			if cancelWords[strings.ToLower(strings.TrimSpace(input))] {
				return Reply{Prompt: "There is nothing to cancel."}, nil
			}
			return Reply{}, ErrNoSession
		}
		return m.begin(ctx, key, kind, o.walletAddress, sess)
	}

	if o.walletAddress != "" {
		sess.WalletAddress = o.walletAddress
	}

	now := m.now().UnixMilli()
	prev := sess.Stage
	work := sess.Clone()
	out, prompt := advance(work, input)
	work.LastTouchedAt = now

	switch out {
	case outcomeRejected:
		observability.RecordSessionRejection(string(sess.Kind), string(prev))
		sess.LastTouchedAt = now
		if err := m.store.Put(ctx, sess); err != nil {
			return Reply{}, fmt.Errorf("touch session: %w", err)
		}
		return Reply{Kind: sess.Kind, Stage: prev, Prompt: prompt}, nil

	case outcomeAdvanced:
		if err := m.store.Put(ctx, work); err != nil {
			return Reply{}, fmt.Errorf("save session: %w", err)
		}
		observability.RecordSessionTransition(string(work.Kind), string(work.Stage))
		return Reply{Kind: work.Kind, Stage: work.Stage, Prompt: prompt}, nil

	case outcomeCancelled:
		if err := m.store.Delete(ctx, key); err != nil {
			return Reply{}, fmt.Errorf("clear session: %w", err)
		}
		observability.RecordSessionFinished(string(work.Kind), string(domain.StageCancelled))
		m.logger.Debug("session cancelled", zap.String("key", key), zap.String("stage", string(prev)))
		return Reply{Kind: work.Kind, Stage: domain.StageCancelled, Prompt: prompt}, nil

	default:
		if work.WalletAddress == "" {
			sess.LastTouchedAt = now
			if err := m.store.Put(ctx, sess); err != nil {
				return Reply{}, fmt.Errorf("touch session: %w", err)
			}
			return Reply{
				Kind:   sess.Kind,
				Stage:  sess.Stage,
				Prompt: "Which wallet should I use? Choose a wallet, then reply proceed.",
			}, ErrNoWallet
		}
		return m.execute(ctx, sess, work)
	}
}

// begin starts a fresh session, replacing old if set.
func (m *Manager) begin(ctx context.Context, key string, kind domain.ActionKind, wallet string, old *domain.ActionSession) (Reply, error) {
	if !validKind(kind) {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if old != nil {
		observability.RecordSessionFinished(string(old.Kind), string(domain.StageCancelled))
		m.logger.Debug("session replaced",
			zap.String("key", key), zap.String("old_kind", string(old.Kind)), zap.String("kind", string(kind)))
	}

	sess, prompt := start(key, kind, m.now().UnixMilli())
	sess.WalletAddress = wallet
	if err := m.store.Put(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}
	observability.RecordSessionTransition(string(kind), string(sess.Stage))
	return Reply{Kind: kind, Stage: sess.Stage, Prompt: prompt}, nil
}

// execute hands the confirmed session to the builder. On success the session
// is cleared. When the quote is unavailable the session stays at confirmation
// so the user can retry; any other build failure clears it.
func (m *Manager) execute(ctx context.Context, confirmed, work *domain.ActionSession) (Reply, error) {
	res, err := m.builder.Build(ctx, requestFor(work))
	if err != nil {
		if errors.Is(err, builder.ErrQuoteUnavailable) {
			confirmed.LastTouchedAt = work.LastTouchedAt
			if perr := m.store.Put(ctx, confirmed); perr != nil {
				return Reply{}, fmt.Errorf("save session: %w", perr)
			}
			return Reply{
				Kind:   confirmed.Kind,
				Stage:  confirmed.Stage,
				Prompt: "I couldn't get a quote right now. Reply proceed to try again or cancel to abort.",
			}, err
		}
		if derr := m.store.Delete(ctx, work.Key); derr != nil {
			return Reply{}, fmt.Errorf("clear session: %w", derr)
		}
		observability.RecordSessionFinished(string(work.Kind), string(domain.StageCancelled))
		return Reply{
			Kind:   work.Kind,
			Stage:  domain.StageCancelled,
			Prompt: fmt.Sprintf("I couldn't prepare this %s: %v", work.Kind, err),
		}, err
	}

	if err := m.store.Delete(ctx, work.Key); err != nil {
		return Reply{}, fmt.Errorf("clear session: %w", err)
	}
	observability.RecordSessionFinished(string(work.Kind), string(domain.StageExecuting))
	m.logger.Info("session executed",
		zap.String("key", work.Key), zap.String("kind", string(work.Kind)), zap.String("wallet", work.WalletAddress))
	return Reply{
		Kind:          work.Kind,
		Stage:         domain.StageExecuting,
		Prompt:        res.PreviewText,
		Ready:         res,
		WalletAddress: work.WalletAddress,
	}, nil
}

// Cancel clears the session under key. It reports whether one was active.
func (m *Manager) Cancel(ctx context.Context, key string) (bool, error) {
	unlock, err := m.lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	sess, err := m.load(ctx, key)
	if err != nil || sess == nil {
		return false, err
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("clear session: %w", err)
	}
	observability.RecordSessionFinished(string(sess.Kind), string(domain.StageCancelled))
	return true, nil
}

// Current returns a copy of the active session under key and its prompt.
// Returns ErrNoSession if there is none.
func (m *Manager) Current(ctx context.Context, key string) (*domain.ActionSession, string, error) {
	unlock, err := m.lock(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	sess, err := m.load(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if sess == nil {
		return nil, "", ErrNoSession
	}
	return sess, currentPrompt(sess), nil
}

// lock takes the in-process key lock and then the shared one, if any.
func (m *Manager) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := m.locks.lock(ctx, key)
	if err != nil || m.shared == nil {
		return unlock, err
	}
	release, err := m.shared.Lock(ctx, key)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// load returns the live session or nil. Idle sessions are deleted lazily.
// Callers hold the key lock.
func (m *Manager) load(ctx context.Context, key string) (*domain.ActionSession, error) {
	sess, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	idle := m.now().Sub(time.UnixMilli(sess.LastTouchedAt))
	if idle > m.idleTimeout || sess.Stage.Terminal() {
		if err := m.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		observability.RecordSessionExpired()
		m.logger.Debug("session expired", zap.String("key", key), zap.Duration("idle", idle))
		return nil, nil
	}
	return sess, nil
}

func requestFor(s *domain.ActionSession) builder.Request {
	get := func(name string) string {
		v, _ := s.Field(name)
		return v
	}
	return builder.Request{
		Kind:             s.Kind,
		WalletAddress:    s.WalletAddress,
		SourceToken:      get(domain.FieldSourceToken),
		DestinationToken: get(domain.FieldDestinationToken),
		Amount:           get(domain.FieldAmount),
		Name:             get(domain.FieldName),
		Symbol:           get(domain.FieldSymbol),
		Description:      get(domain.FieldDescription),
	}
}
