// Package events defines the wallet-scoped notifications pushed to clients.
package events

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant carried by an Event.
type Kind string

// Event kinds
const (
	KindBalance     Kind = "balance"
	KindPortfolio   Kind = "portfolio"
	KindTransaction Kind = "transaction"
)

// Data is implemented by every event payload variant.
type Data interface {
	eventKind() Kind
}

// BalanceData reports a change of a wallet's native balance.
type BalanceData struct {
	Lamports uint64 `json:"lamports"`
	Slot     int64  `json:"slot"`
}

// PortfolioData reports a change of the set of wallets an owner holds.
type PortfolioData struct {
	OwnerID  string `json:"owner_id"`
	WalletID string `json:"wallet_id"`
	Change   string `json:"change"` // "created" | "imported"
}

// TransactionData reports the final state of a relay attempt.
type TransactionData struct {
	Outcome    string `json:"outcome"` // "accepted" | "rejected"
	Signature  string `json:"signature,omitempty"`
	Error      string `json:"error,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func (BalanceData) eventKind() Kind     { return KindBalance }
func (PortfolioData) eventKind() Kind   { return KindPortfolio }
func (TransactionData) eventKind() Kind { return KindTransaction }

// Event is a tagged union: Kind always matches the dynamic type of Data.
type Event struct {
	Kind          Kind
	WalletAddress string
	Data          Data
}

// New builds an Event whose Kind is taken from the payload.
func New(wallet string, data Data) Event {
	return Event{Kind: data.eventKind(), WalletAddress: wallet, Data: data}
}

// Balance builds a balance event.
func Balance(wallet string, d BalanceData) Event { return New(wallet, d) }

// Portfolio builds a portfolio event.
func Portfolio(wallet string, d PortfolioData) Event { return New(wallet, d) }

// Transaction builds a transaction event.
func Transaction(wallet string, d TransactionData) Event { return New(wallet, d) }

// wireEvent is the JSON form sent to clients.
type wireEvent struct {
	Type   Kind            `json:"type"`
	Wallet string          `json:"wallet"`
	Data   json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {"type", "wallet", "data"}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("event %q has no data", e.Kind)
	}
	if e.Data.eventKind() != e.Kind {
		return nil, fmt.Errorf("event kind %q does not match data %T", e.Kind, e.Data)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return json.Marshal(wireEvent{Type: e.Kind, Wallet: e.WalletAddress, Data: data})
}

// UnmarshalJSON decodes the wire form back into the matching variant.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var data Data
	switch w.Type {
	case KindBalance:
		var d BalanceData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return err
		}
		data = d
	case KindPortfolio:
		var d PortfolioData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return err
		}
		data = d
	case KindTransaction:
		var d TransactionData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return err
		}
		data = d
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	*e = Event{Kind: w.Type, WalletAddress: w.Wallet, Data: data}
	return nil
}

// Publisher receives events for fan-out. Implementations must not block callers
// on slow recipients.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})
