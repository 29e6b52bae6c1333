package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"solana-action-relay/internal/solana"
)

// Diagnostic explains a failed submission.
type Diagnostic struct {
	// InstructionIndex is the failing instruction, -1 if unknown.
	InstructionIndex int      `json:"instruction_index"`
	ErrorCode        string   `json:"error_code,omitempty"`
	Message          string   `json:"message"`
	Logs             []string `json:"logs,omitempty"`
}

// String returns the message.
func (d Diagnostic) String() string {
	return d.Message
}

// SubmissionFailedError is returned when a payload could not be relayed.
// Diagnostic.Message is never empty.
type SubmissionFailedError struct {
	RawError   string     `json:"raw_error"`
	Diagnostic Diagnostic `json:"diagnostic"`
	Attempts   int        `json:"attempts"`

	err error
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("submission failed after %d attempt(s): %s", e.Attempts, e.Diagnostic)
}

// Unwrap returns the last ledger error.
func (e *SubmissionFailedError) Unwrap() error {
	return e.err
}

// AsSubmissionFailed extracts a *SubmissionFailedError from err.
func AsSubmissionFailed(err error) (*SubmissionFailedError, bool) {
	var sf *SubmissionFailedError
	ok := errors.As(err, &sf)
	return sf, ok
}

// diagnose builds a diagnostic from a simulation. sim may be nil when the
// simulation itself failed with simErr. The result always has a message.
func diagnose(sendErr error, sim *solana.SimulationResult, simErr error) Diagnostic {
	d := Diagnostic{InstructionIndex: -1}
	if sim != nil {
		d.Logs = sim.Logs
	}

	switch {
	case sim != nil && sim.Err != nil:
		d.InstructionIndex = sim.Err.InstructionIndex
		d.ErrorCode = errorCode(sim.Err)
		d.Message = sim.Err.Error()
		if line := failureLog(sim.Logs); line != "" {
			d.Message += ": " + line
		}
	case sim != nil:
		d.Message = "simulation succeeded but submission failed: " + rawMessage(sendErr)
		d.ErrorCode = rpcCode(sendErr)
	case simErr != nil:
		d.Message = fmt.Sprintf("%s (simulation unavailable: %v)", rawMessage(sendErr), simErr)
		d.ErrorCode = rpcCode(sendErr)
	default:
		d.Message = rawMessage(sendErr)
		d.ErrorCode = rpcCode(sendErr)
	}
	return d
}

func errorCode(te *solana.TransactionError) string {
	if te.Custom != nil {
		return "Custom:" + strconv.FormatUint(uint64(*te.Custom), 10)
	}
	return te.Code
}

func rpcCode(err error) string {
	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		return strconv.Itoa(rpcErr.Code)
	}
	return ""
}

func rawMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// failureLog returns the last program log line reporting a failure.
func failureLog(logs []string) string {
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if strings.Contains(l, "failed") || strings.Contains(l, "Error") {
			return strings.TrimPrefix(l, "Program log: ")
		}
	}
	return ""
}
