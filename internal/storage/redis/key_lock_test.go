package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-action-relay/internal/builder"
	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/session"
)

func TestKeyLock_Exclusive(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewKeyLock(client, 5*time.Second)

	unlock, err := lock.Lock(ctx, "chat-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = lock.Lock(waitCtx, "chat-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := lock.Lock(ctx, "chat-2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := lock.Lock(ctx, "chat-1")
	require.NoError(t, err)
	again()
}

func TestKeyLock_ExpiredHolderCannotRelease(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewKeyLock(client, time.Second)

	stale, err := lock.Lock(ctx, "chat-1")
	require.NoError(t, err)
	time.Sleep(1200 * time.Millisecond)

	fresh, err := lock.Lock(ctx, "chat-1")
	require.NoError(t, err)
	defer fresh()

	stale()
	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = lock.Lock(waitCtx, "chat-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingBuilder struct {
	mu    sync.Mutex
	calls int
}

func (b *countingBuilder) Build(_ context.Context, req builder.Request) (*builder.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	// Widen the window between load and save.
	time.Sleep(20 * time.Millisecond)
	return &builder.Result{PreviewText: "Swap " + req.Amount, UnsignedPayload: []byte{1}}, nil
}

func TestKeyLock_ManagersSharingStore(t *testing.T) {
	clientA, cleanup := setupRedis(t)
	defer cleanup()
	// A second connection stands in for another relay process.
	clientB := goredis.NewClient(&goredis.Options{Addr: clientA.Options().Addr})
	defer clientB.Close()

	b := &countingBuilder{}
	newManager := func(c *goredis.Client) *session.Manager {
		return session.NewManager(session.Options{
			Store:   NewSessionStore(c, time.Minute),
			Builder: b,
			Locker:  NewKeyLock(c, 5*time.Second),
		})
	}
	managers := []*session.Manager{newManager(clientA), newManager(clientB)}

	ctx := context.Background()
	_, err := managers[0].Advance(ctx, "chat-1", domain.ActionSwap, "swap", session.WithWallet("Wallet111"))
	require.NoError(t, err)
	for i, in := range []string{"SOL", "USDC", "1.5"} {
		_, err = managers[(i+1)%2].Advance(ctx, "chat-1", "", in)
		require.NoError(t, err)
	}

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	ready, noSession := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(m *session.Manager) {
			defer wg.Done()
			reply, err := m.Advance(ctx, "chat-1", "", "proceed")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, session.ErrNoSession):
				noSession++
			case err == nil && reply.Ready != nil:
				ready++
			default:
				t.Errorf("unexpected turn result: stage=%s err=%v", reply.Stage, err)
			}
		}(managers[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, ready)
	assert.Equal(t, n-1, noSession)
	assert.Equal(t, 1, b.calls)
}
