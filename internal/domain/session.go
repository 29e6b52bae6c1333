package domain

// ActionKind identifies the on-chain action a session collects parameters for.
type ActionKind string

// Action kinds
const (
	ActionSwap   ActionKind = "swap"
	ActionLaunch ActionKind = "launch"
)

// Stage is a step of an ActionSession.
type Stage string

// Swap stages
const (
	StageSourceToken      Stage = "collecting_source_token"
	StageDestinationToken Stage = "collecting_destination_token"
	StageAmount           Stage = "collecting_amount"
)

// Launch stages
const (
	StageName        Stage = "collecting_name"
	StageSymbol      Stage = "collecting_symbol"
	StageDescription Stage = "collecting_description"
)

// Shared stages
const (
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageExecuting            Stage = "executing"
	StageCancelled            Stage = "cancelled"
)

// Field names collected by sessions.
const (
	FieldSourceToken      = "source_token"
	FieldDestinationToken = "destination_token"
	FieldAmount           = "amount"
	FieldName             = "name"
	FieldSymbol           = "symbol"
	FieldDescription      = "description"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageExecuting || s == StageCancelled
}

// CollectedField is one validated session input.
type CollectedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ActionSession holds the parameters of one pending action for a session key.
type ActionSession struct {
	Key                  string           `json:"key"`
	Kind                 ActionKind       `json:"kind"`
	Stage                Stage            `json:"stage"`
	Fields               []CollectedField `json:"fields"` // collection order
	AwaitingConfirmation bool             `json:"awaiting_confirmation"`
	WalletAddress        string           `json:"wallet_address,omitempty"`
	CreatedAt            int64            `json:"created_at"`      // ms
	LastTouchedAt        int64            `json:"last_touched_at"` // ms
}

// Field returns the value collected under name.
func (s *ActionSession) Field(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (s *ActionSession) Clone() *ActionSession {
	c := *s
	c.Fields = append([]CollectedField(nil), s.Fields...)
	return &c
}
