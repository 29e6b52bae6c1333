package domain

// RelayOutcome is the terminal state of a submission attempt.
type RelayOutcome string

// Relay outcome constants
const (
	RelayAccepted RelayOutcome = "accepted"
	RelayRejected RelayOutcome = "rejected"
)

// RelayAttempt records one submission of a signed payload. Append-only.
// Corresponds to relay_attempts table in ClickHouse.
type RelayAttempt struct {
	AttemptID     string       // deterministic hash, see idhash.ComputeAttemptID
	PayloadHash   string       // sha256 of the signed payload (hex)
	WalletAddress string       // affected wallet, may be empty
	AttemptNumber int          // 1-based attempt counter within one Submit call
	SubmittedAt   int64        // ms
	Outcome       RelayOutcome // accepted | rejected
	Signature     string       // set when accepted
	RawError      string       // set when rejected
	Diagnostic    string       // simulation diagnostic when rejected
}
