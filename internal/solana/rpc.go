package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the relay depends on.
type RPCClient interface {
	// SendTransaction submits a signed wire transaction and returns its signature.
	SendTransaction(ctx context.Context, raw []byte) (string, error)

	// SimulateTransaction runs the transaction without committing it.
	SimulateTransaction(ctx context.Context, raw []byte) (*SimulationResult, error)

	// GetBalance returns the lamport balance of an address.
	GetBalance(ctx context.Context, address string) (*Balance, error)
}

// SimulationResult is the value of a simulateTransaction response.
// Err is nil when the simulated execution succeeded.
type SimulationResult struct {
	Err           *TransactionError
	Logs          []string
	UnitsConsumed uint64
}

// Balance is a lamport balance observed at Slot.
type Balance struct {
	Lamports uint64
	Slot     int64
}
