package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-action-relay/internal/builder"
	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
	"solana-action-relay/internal/storage/memory"
)

type fakeBuilder struct {
	mu    sync.Mutex
	err   error
	calls []builder.Request
}

func (f *fakeBuilder) Build(_ context.Context, req builder.Request) (*builder.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &builder.Result{
		PreviewText:     fmt.Sprintf("Swap %s %s for %s", req.Amount, req.SourceToken, req.DestinationToken),
		UnsignedPayload: []byte{1, 2, 3},
	}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, b *fakeBuilder) (*Manager, *memory.SessionStore, *clock) {
	t.Helper()
	store := memory.NewSessionStore()
	clk := &clock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	m := NewManager(Options{Store: store, Builder: b, Now: clk.Now})
	return m, store, clk
}

func TestManager_SwapHappyPath(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{}
	m, store, _ := newTestManager(t, b)

	reply, err := m.Advance(ctx, "chat-1", domain.ActionSwap, "I want to swap", WithWallet("Wallet111"))
	require.NoError(t, err)
	assert.Equal(t, domain.StageSourceToken, reply.Stage)

	for _, in := range []string{"SOL", "USDC", "1.5"} {
		reply, err = m.Advance(ctx, "chat-1", "", in)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StageAwaitingConfirmation, reply.Stage)

	reply, err = m.Advance(ctx, "chat-1", "", "proceed")
	require.NoError(t, err)
	assert.Equal(t, domain.StageExecuting, reply.Stage)
	require.NotNil(t, reply.Ready)
	assert.Equal(t, []byte{1, 2, 3}, reply.Ready.UnsignedPayload)
	assert.Equal(t, "Swap 1.5 SOL for USDC", reply.Prompt)

	require.Len(t, b.calls, 1)
	assert.Equal(t, builder.Request{
		Kind:             domain.ActionSwap,
		WalletAddress:    "Wallet111",
		SourceToken:      "SOL",
		DestinationToken: "USDC",
		Amount:           "1.5",
	}, b.calls[0])

	_, err = store.Get(ctx, "chat-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.Advance(ctx, "chat-1", "", "proceed")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_SameTokenReprompts(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "")
	require.NoError(t, err)
	_, err = m.Advance(ctx, "k", "", "SOL")
	require.NoError(t, err)

	reply, err := m.Advance(ctx, "k", "", "SOL")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDestinationToken, reply.Stage)

	sess, _, err := m.Current(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, sess.Fields, 1)
}

func TestManager_InvalidInputKeepsState(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", domain.ActionLaunch, "")
	require.NoError(t, err)
	before, err := store.Get(ctx, "k")
	require.NoError(t, err)

	clk.Add(time.Minute)
	reply, err := m.Advance(ctx, "k", "", "x")
	require.NoError(t, err)
	assert.Equal(t, domain.StageName, reply.Stage)

	after, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.Fields, after.Fields)
	assert.Greater(t, after.LastTouchedAt, before.LastTouchedAt)
}

func TestManager_Expiry(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "")
	require.NoError(t, err)

	clk.Add(DefaultIdleTimeout + time.Second)
	_, err = m.Advance(ctx, "k", "", "SOL")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_KindSwitchStartsFresh(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "")
	require.NoError(t, err)
	_, err = m.Advance(ctx, "k", "", "SOL")
	require.NoError(t, err)

	reply, err := m.Advance(ctx, "k", domain.ActionLaunch, "launch a token")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLaunch, reply.Kind)
	assert.Equal(t, domain.StageName, reply.Stage)

	sess, _, err := m.Current(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, sess.Fields)
}

func TestManager_SameKindContinues(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "")
	require.NoError(t, err)
	reply, err := m.Advance(ctx, "k", domain.ActionSwap, "SOL")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDestinationToken, reply.Stage)
}

func TestManager_NoSession(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", "", "SOL")
	assert.ErrorIs(t, err, ErrNoSession)

	reply, err := m.Advance(ctx, "k", "", "cancel")
	require.NoError(t, err)
	assert.Equal(t, "There is nothing to cancel.", reply.Prompt)

	_, err = m.Advance(ctx, "k", "stake", "")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = m.Advance(ctx, "", domain.ActionSwap, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, _, err = m.Current(ctx, "k")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_Cancel(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	ok, err := m.Cancel(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Advance(ctx, "k", domain.ActionSwap, "")
	require.NoError(t, err)
	ok, err = m.Cancel(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = m.Current(ctx, "k")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_CancelWordClearsSession(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "")
	require.NoError(t, err)
	reply, err := m.Advance(ctx, "k", "", "cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCancelled, reply.Stage)

	_, _, err = m.Current(ctx, "k")
	assert.ErrorIs(t, err, ErrNoSession)
}

func confirmSwap(t *testing.T, m *Manager, key string) {
	t.Helper()
	ctx := context.Background()
	_, err := m.Advance(ctx, key, domain.ActionSwap, "", WithWallet("W"))
	require.NoError(t, err)
	for _, in := range []string{"SOL", "USDC", "1"} {
		_, err = m.Advance(ctx, key, "", in)
		require.NoError(t, err)
	}
}

func TestManager_QuoteUnavailableKeepsConfirmation(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{err: fmt.Errorf("quote: %w", builder.ErrQuoteUnavailable)}
	m, _, _ := newTestManager(t, b)
	confirmSwap(t, m, "k")

	reply, err := m.Advance(ctx, "k", "", "proceed")
	assert.ErrorIs(t, err, builder.ErrQuoteUnavailable)
	assert.Equal(t, domain.StageAwaitingConfirmation, reply.Stage)
	assert.Nil(t, reply.Ready)

	sess, _, err := m.Current(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingConfirmation, sess.Stage)
	assert.True(t, sess.AwaitingConfirmation)

	b.mu.Lock()
	b.err = nil
	b.mu.Unlock()
	reply, err = m.Advance(ctx, "k", "", "proceed")
	require.NoError(t, err)
	assert.NotNil(t, reply.Ready)
}

func TestManager_BuildFailureClearsSession(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{err: fmt.Errorf("resolve: %w", builder.ErrUnsupportedPair)}
	m, _, _ := newTestManager(t, b)
	confirmSwap(t, m, "k")

	reply, err := m.Advance(ctx, "k", "", "yes")
	assert.ErrorIs(t, err, builder.ErrUnsupportedPair)
	assert.Equal(t, domain.StageCancelled, reply.Stage)

	_, _, err = m.Current(ctx, "k")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_ProceedWithoutWalletKeepsSession(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{}
	m, _, _ := newTestManager(t, b)

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "swap")
	require.NoError(t, err)
	for _, in := range []string{"SOL", "USDC", "1.5"} {
		_, err = m.Advance(ctx, "k", "", in)
		require.NoError(t, err)
	}

	reply, err := m.Advance(ctx, "k", "", "proceed")
	assert.ErrorIs(t, err, ErrNoWallet)
	assert.Equal(t, domain.StageAwaitingConfirmation, reply.Stage)
	assert.Contains(t, reply.Prompt, "Which wallet")
	assert.Nil(t, reply.Ready)
	assert.Empty(t, b.calls)

	sess, _, err := m.Current(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingConfirmation, sess.Stage)
	assert.Len(t, sess.Fields, 3)

	reply, err = m.Advance(ctx, "k", "", "proceed", WithWallet("Wallet111"))
	require.NoError(t, err)
	require.NotNil(t, reply.Ready)
	assert.Equal(t, "Wallet111", reply.WalletAddress)
	require.Len(t, b.calls, 1)
	assert.Equal(t, "Wallet111", b.calls[0].WalletAddress)
	assert.Equal(t, "1.5", b.calls[0].Amount)
}

func TestManager_ConcurrentTurnsAreLinearized(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{}
	m, _, _ := newTestManager(t, b)
	confirmSwap(t, m, "k")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	ready, noSession := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := m.Advance(ctx, "k", "", "proceed")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNoSession):
				noSession++
			case err == nil && reply.Ready != nil:
				ready++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ready)
	assert.Equal(t, n-1, noSession)
	assert.Len(t, b.calls, 1)
	assert.Equal(t, 0, m.locks.size())
}

func TestManager_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, &fakeBuilder{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("chat-%d", i)
			_, err := m.Advance(ctx, key, domain.ActionSwap, "")
			assert.NoError(t, err)
			_, err = m.Advance(ctx, key, "", "SOL")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		sess, _, err := m.Current(ctx, fmt.Sprintf("chat-%d", i))
		require.NoError(t, err)
		assert.Equal(t, domain.StageDestinationToken, sess.Stage)
	}
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	km := newKeyedMutex()
	unlock, err := km.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, km.size())
}

type recordingLocker struct {
	mu       sync.Mutex
	err      error
	held     map[string]bool
	acquired int
}

func (l *recordingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, fmt.Errorf("%s already held", key)
	}
	l.held[key] = true
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func TestManager_SharedLocker(t *testing.T) {
	ctx := context.Background()
	locker := &recordingLocker{held: make(map[string]bool)}
	m := NewManager(Options{Store: memory.NewSessionStore(), Builder: &fakeBuilder{}, Locker: locker})

	_, err := m.Advance(ctx, "k", domain.ActionSwap, "swap", WithWallet("W"))
	require.NoError(t, err)
	_, _, err = m.Current(ctx, "k")
	require.NoError(t, err)
	_, err = m.Cancel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, locker.acquired)
	assert.Empty(t, locker.held)

	locker.err = errors.New("redis down")
	_, err = m.Advance(ctx, "k", domain.ActionSwap, "swap")
	assert.ErrorContains(t, err, "lock session")
	assert.Equal(t, 0, m.locks.size())
}
