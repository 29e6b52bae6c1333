package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-action-relay/internal/events"
	"solana-action-relay/internal/solana"
)

// BalanceSource returns the current native balance of an address.
type BalanceSource interface {
	GetBalance(ctx context.Context, address string) (*solana.Balance, error)
}

// BalanceWatcher streams lamport changes of watched wallets from a Solana
// account subscription and publishes them as balance events.
type BalanceWatcher struct {
	ws       solana.WSClient
	balances BalanceSource
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	wg      sync.WaitGroup
}

// WatcherOptions for creating BalanceWatcher.
type WatcherOptions struct {
	// Required
	WS solana.WSClient

	// Optional
	Balances BalanceSource // initial balance on first watch
	Timeout  time.Duration // per ledger call, default 10s
	Logger   *zap.Logger
}

// NewBalanceWatcher creates a new BalanceWatcher.
func NewBalanceWatcher(opts WatcherOptions) *BalanceWatcher {
	w := &BalanceWatcher{
		ws:       opts.WS,
		balances: opts.Balances,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		watched:  make(map[string]struct{}),
	}
	if w.timeout <= 0 {
		w.timeout = 10 * time.Second
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.Named("watcher")
	return w
}

var _ Watcher = (*BalanceWatcher)(nil)

// Watch subscribes to wallet and forwards notifications to pub until
// Unwatch. Watching a watched wallet is a no-op.
func (w *BalanceWatcher) Watch(ctx context.Context, wallet string, pub events.Publisher) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[wallet]; ok {
		return nil
	}

	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	ch, err := w.ws.SubscribeAccount(subCtx, wallet)
	if err != nil {
		return err
	}
	w.watched[wallet] = struct{}{}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.publishInitial(wallet, pub)
		for n := range ch {
			pub.Publish(events.Balance(wallet, events.BalanceData{Lamports: n.Lamports, Slot: n.Slot}))
		}
	}()
	w.logger.Debug("watching wallet", zap.String("wallet", wallet))
	return nil
}

// publishInitial sends the current balance so subscribers start from a
// known value.
func (w *BalanceWatcher) publishInitial(wallet string, pub events.Publisher) {
	if w.balances == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	b, err := w.balances.GetBalance(ctx, wallet)
	if err != nil {
		w.logger.Debug("initial balance", zap.String("wallet", wallet), zap.Error(err))
		return
	}
	pub.Publish(events.Balance(wallet, events.BalanceData{Lamports: b.Lamports, Slot: b.Slot}))
}

// Unwatch stops the stream for wallet. The forwarding goroutine exits once
// the subscription channel is closed.
func (w *BalanceWatcher) Unwatch(ctx context.Context, wallet string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[wallet]; !ok {
		return
	}
	delete(w.watched, wallet)

	unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.ws.UnsubscribeAccount(unsubCtx, wallet); err != nil {
		w.logger.Warn("unsubscribe account", zap.String("wallet", wallet), zap.Error(err))
	}
}

// Watching reports whether wallet is watched.
func (w *BalanceWatcher) Watching(wallet string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[wallet]
	return ok
}

// Close unwatches every wallet and waits for forwarders to exit.
func (w *BalanceWatcher) Close() {
	w.mu.Lock()
	wallets := make([]string, 0, len(w.watched))
	for wallet := range w.watched {
		wallets = append(wallets, wallet)
	}
	w.mu.Unlock()

	for _, wallet := range wallets {
		w.Unwatch(context.Background(), wallet)
	}
	w.wg.Wait()
}
