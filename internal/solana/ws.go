package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeAccount streams balance changes of address. Subscribing to an
	// address that is already subscribed returns the existing channel.
	SubscribeAccount(ctx context.Context, address string) (<-chan AccountNotification, error)

	// UnsubscribeAccount stops the stream for address and closes its channel.
	UnsubscribeAccount(ctx context.Context, address string) error

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification represents an accountSubscribe message.
type AccountNotification struct {
	Address  string
	Slot     int64
	Lamports uint64
	Owner    string
}
