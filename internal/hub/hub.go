// Package hub fans wallet events out to connected clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-action-relay/internal/events"
	"solana-action-relay/internal/observability"
)

// Defaults
const (
	DefaultMaxMissedPongs = 3
	DefaultQueueSize      = 256
	DefaultPingInterval   = 30 * time.Second
)

// Disconnect reasons reported to metrics.
const (
	ReasonClosed       = "closed"
	ReasonWriteError   = "write_error"
	ReasonSlowConsumer = "slow_consumer"
	ReasonLiveness     = "liveness"
	ReasonShutdown     = "shutdown"
)

var (
	// ErrUnknownConnection is returned for connection ids not registered.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrHubClosed is returned by Register after Close.
	ErrHubClosed = errors.New("hub closed")
)

// Conn is the transport of one client connection. Methods are called from a
// single writer goroutine, except Close.
type Conn interface {
	WriteText(data []byte) error
	WritePing() error
	Close() error
}

// Watcher observes wallets on behalf of the hub. Watch is called when a
// wallet gains its first subscriber, Unwatch when it loses the last one.
// Both must be idempotent.
type Watcher interface {
	Watch(ctx context.Context, wallet string, pub events.Publisher) error
	Unwatch(ctx context.Context, wallet string)
}

// Hub tracks client connections and the wallets each one watches.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	wallets map[string]map[string]*client // wallet -> conn id -> client
	closed  bool

	watchMu sync.Mutex
	watcher Watcher

	maxMissed int32
	queueSize int
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// Options for creating Hub.
type Options struct {
	Watcher        Watcher
	MaxMissedPongs int
	QueueSize      int
	Logger         *zap.Logger
}

// New creates a new Hub.
func New(opts Options) *Hub {
	h := &Hub{
		clients:   make(map[string]*client),
		wallets:   make(map[string]map[string]*client),
		watcher:   opts.Watcher,
		maxMissed: int32(opts.MaxMissedPongs),
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
	}
	if h.maxMissed <= 0 {
		h.maxMissed = DefaultMaxMissedPongs
	}
	if h.queueSize <= 0 {
		h.queueSize = DefaultQueueSize
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("hub")
	return h
}

var _ events.Publisher = (*Hub)(nil)

// client is one registered connection.
type client struct {
	id      string
	conn    Conn
	queue   chan outbound
	done    chan struct{}
	wallets map[string]struct{} // guarded by Hub.mu
	missed  atomic.Int32
	once    sync.Once
}

type outbound struct {
	data []byte
	kind events.Kind
	ping bool
}

// Register adds conn and returns its id. A {"type":"connected"} message is
// queued before anything else.
func (h *Hub) Register(conn Conn) (string, error) {
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		queue:   make(chan outbound, h.queueSize),
		done:    make(chan struct{}),
		wallets: make(map[string]struct{}),
	}
	ack, _ := json.Marshal(controlMessage{Type: "connected", ConnectionID: c.id})
	c.queue <- outbound{data: ack}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", ErrHubClosed
	}
	h.clients[c.id] = c
	h.wg.Add(1)
	conns, wallets := len(h.clients), len(h.wallets)
	h.mu.Unlock()

	go h.writeLoop(c)
	observability.UpdateHubSize(conns, wallets)
	h.logger.Debug("connection registered", zap.String("conn_id", c.id))
	return c.id, nil
}

// Subscribe adds wallet to the set watched by connID. Idempotent.
func (h *Hub) Subscribe(ctx context.Context, connID, wallet string) error {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	c.wallets[wallet] = struct{}{}
	subs, ok := h.wallets[wallet]
	if !ok {
		subs = make(map[string]*client)
		h.wallets[wallet] = subs
	}
	subs[connID] = c
	first := len(subs) == 1
	conns, wallets := len(h.clients), len(h.wallets)
	h.mu.Unlock()

	observability.UpdateHubSize(conns, wallets)
	if first {
		h.syncWatch(ctx, wallet)
	}
	return nil
}

// Unsubscribe removes wallet from the set watched by connID. Idempotent.
func (h *Hub) Unsubscribe(ctx context.Context, connID, wallet string) error {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	delete(c.wallets, wallet)
	last := h.dropSubscriber(wallet, connID)
	conns, wallets := len(h.clients), len(h.wallets)
	h.mu.Unlock()

	observability.UpdateHubSize(conns, wallets)
	if last {
		h.syncWatch(ctx, wallet)
	}
	return nil
}

// dropSubscriber removes connID from wallet's index and reports whether the
// wallet lost its last subscriber. Callers hold h.mu.
func (h *Hub) dropSubscriber(wallet, connID string) bool {
	subs, ok := h.wallets[wallet]
	if !ok {
		return false
	}
	if _, ok := subs[connID]; !ok {
		return false
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.wallets, wallet)
		return true
	}
	return false
}

// Disconnect removes connID from the registry and every wallet index in
// one step and closes the connection. It reports whether connID was known.
func (h *Hub) Disconnect(connID, reason string) bool {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, connID)
	var emptied []string
	for wallet := range c.wallets {
		if h.dropSubscriber(wallet, connID) {
			emptied = append(emptied, wallet)
		}
	}
	conns, wallets := len(h.clients), len(h.wallets)
	h.mu.Unlock()

	c.close()
	observability.UpdateHubSize(conns, wallets)
	observability.RecordHubDisconnect(reason)
	h.logger.Debug("connection removed", zap.String("conn_id", connID), zap.String("reason", reason))

	for _, wallet := range emptied {
		h.syncWatch(context.Background(), wallet)
	}
	return true
}

// Publish implements events.Publisher.
func (h *Hub) Publish(e events.Event) {
	h.Broadcast(e)
}

// Broadcast queues e for every connection watching e.WalletAddress and
// returns the number of recipients. Connections whose queue is full are
// removed.
func (h *Hub) Broadcast(e events.Event) int {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err), zap.String("kind", string(e.Kind)))
		return 0
	}

	var slow []string
	delivered := 0
	h.mu.RLock()
	for id, c := range h.wallets[e.WalletAddress] {
		if c.enqueue(outbound{data: data, kind: e.Kind}) {
			delivered++
		} else {
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.Warn("send queue full", zap.String("conn_id", id))
		h.Disconnect(id, ReasonSlowConsumer)
	}
	return delivered
}

// send queues a control message for connID.
func (h *Hub) send(connID string, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	queued := ok && c.enqueue(outbound{data: data})
	h.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	if !queued {
		h.Disconnect(connID, ReasonSlowConsumer)
	}
	return nil
}

// CheckLiveness pings every connection. Connections that missed more than
// MaxMissedPongs consecutive pings are removed. It returns the removed ids.
func (h *Hub) CheckLiveness() []string {
	var dead []string
	h.mu.RLock()
	for id, c := range h.clients {
		if c.missed.Add(1) > h.maxMissed {
			dead = append(dead, id)
			continue
		}
		if !c.enqueue(outbound{ping: true}) {
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dead {
		h.Disconnect(id, ReasonLiveness)
	}
	return dead
}

// Pong resets the missed-ping counter of connID.
func (h *Hub) Pong(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.missed.Store(0)
	}
}

// Run checks liveness every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckLiveness()
		}
	}
}

// Stats returns the number of connections and watched wallets.
func (h *Hub) Stats() (connections, wallets int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.wallets)
}

// Subscribers returns the number of connections watching wallet.
func (h *Hub) Subscribers(wallet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.wallets[wallet])
}

// Close disconnects every client and waits for writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id, ReasonShutdown)
	}
	h.wg.Wait()
}

// syncWatch brings the watcher in line with the current subscriber count
// of wallet. Calls are serialized so Watch and Unwatch cannot reorder.
func (h *Hub) syncWatch(ctx context.Context, wallet string) {
	if h.watcher == nil {
		return
	}
	h.watchMu.Lock()
	defer h.watchMu.Unlock()

	if h.Subscribers(wallet) > 0 {
		if err := h.watcher.Watch(ctx, wallet, h); err != nil {
			h.logger.Warn("watch wallet", zap.String("wallet", wallet), zap.Error(err))
		}
		return
	}
	h.watcher.Unwatch(ctx, wallet)
}

// enqueue adds m to the queue without blocking.
func (c *client) enqueue(m outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- m:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writeLoop is the only writer of c.conn. Messages are written in queue order.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.queue:
			var err error
			if m.ping {
				err = c.conn.WritePing()
			} else {
				err = c.conn.WriteText(m.data)
			}
			if err != nil {
				h.logger.Debug("write failed", zap.String("conn_id", c.id), zap.Error(err))
				h.Disconnect(c.id, ReasonWriteError)
				return
			}
			if m.kind != "" {
				observability.RecordHubDelivery(string(m.kind))
			}
		}
	}
}

// controlMessage is a non-event message exchanged with clients.
type controlMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Wallet       string `json:"wallet,omitempty"`
	Error        string `json:"error,omitempty"`
}
