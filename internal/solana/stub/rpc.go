// Package stub provides scripted Solana clients for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"solana-action-relay/internal/solana"
)

// ErrNotFound is returned when no balance is scripted for an address.
var ErrNotFound = errors.New("not found")

// SendResult is one scripted sendTransaction outcome.
type SendResult struct {
	Signature string
	Err       error
}

// RPCClient implements solana.RPCClient with scripted responses.
// Send results are consumed in order; the last one repeats once the
// script is exhausted.
type RPCClient struct {
	mu sync.Mutex

	SendResults []SendResult
	Simulation  *solana.SimulationResult
	SimulateErr error
	Balances    map[string]*solana.Balance

	sent      [][]byte
	simulated [][]byte
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Balances: make(map[string]*solana.Balance),
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// SendTransaction returns the next scripted result.
func (c *RPCClient) SendTransaction(_ context.Context, raw []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, append([]byte(nil), raw...))
	if len(c.SendResults) == 0 {
		return "", errors.New("stub: no send result scripted")
	}
	idx := len(c.sent) - 1
	if idx >= len(c.SendResults) {
		idx = len(c.SendResults) - 1
	}
	r := c.SendResults[idx]
	return r.Signature, r.Err
}

// SimulateTransaction returns the scripted simulation.
func (c *RPCClient) SimulateTransaction(_ context.Context, raw []byte) (*solana.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.simulated = append(c.simulated, append([]byte(nil), raw...))
	if c.SimulateErr != nil {
		return nil, c.SimulateErr
	}
	if c.Simulation == nil {
		return &solana.SimulationResult{}, nil
	}
	return c.Simulation, nil
}

// GetBalance returns the scripted balance for address.
func (c *RPCClient) GetBalance(_ context.Context, address string) (*solana.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.Balances[address]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Sent returns the payloads passed to SendTransaction.
func (c *RPCClient) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Simulated returns the payloads passed to SimulateTransaction.
func (c *RPCClient) Simulated() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.simulated...)
}

// WSClient implements solana.WSClient with caller-driven notifications.
type WSClient struct {
	mu       sync.Mutex
	channels map[string]chan solana.AccountNotification
	closed   bool

	// SubscribeErr, when set, fails every SubscribeAccount call.
	SubscribeErr error
}

// NewWSClient creates a new stub WebSocket client.
func NewWSClient() *WSClient {
	return &WSClient{channels: make(map[string]chan solana.AccountNotification)}
}

var _ solana.WSClient = (*WSClient)(nil)

// SubscribeAccount returns the channel for address, creating it on first use.
func (c *WSClient) SubscribeAccount(_ context.Context, address string) (<-chan solana.AccountNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	if c.closed {
		return nil, errors.New("stub: client closed")
	}
	ch, ok := c.channels[address]
	if !ok {
		ch = make(chan solana.AccountNotification, 16)
		c.channels[address] = ch
	}
	return ch, nil
}

// UnsubscribeAccount closes the channel for address.
func (c *WSClient) UnsubscribeAccount(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[address]; ok {
		close(ch)
		delete(c.channels, address)
	}
	return nil
}

// Close closes every channel.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, ch := range c.channels {
		close(ch)
		delete(c.channels, addr)
	}
	c.closed = true
	return nil
}

// Emit delivers n to the subscriber of n.Address. It reports false when
// nobody is subscribed.
func (c *WSClient) Emit(n solana.AccountNotification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[n.Address]
	if !ok {
		return false
	}
	ch <- n
	return true
}

// Subscribed reports whether address has a live subscription.
func (c *WSClient) Subscribed(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[address]
	return ok
}
