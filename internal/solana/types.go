package solana

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TransactionError is a decoded runtime TransactionError.
//
// The RPC encodes it either as a bare string ("BlockhashNotFound") or as an
// object such as {"InstructionError":[2,{"Custom":6001}]}.
type TransactionError struct {
	// InstructionIndex is the failing instruction, or -1 when the error is
	// not attributed to an instruction.
	InstructionIndex int
	// Code is the variant name, e.g. "Custom", "InvalidAccountData",
	// "BlockhashNotFound".
	Code string
	// Custom is set when Code == "Custom".
	Custom *uint32
	// Raw is the original JSON.
	Raw json.RawMessage
}

// Error implements error.
func (e *TransactionError) Error() string {
	code := e.Code
	if e.Custom != nil {
		code = fmt.Sprintf("Custom(%d)", *e.Custom)
	}
	if e.InstructionIndex >= 0 {
		return fmt.Sprintf("instruction %d failed: %s", e.InstructionIndex, code)
	}
	return code
}

// ParseTransactionError decodes the err field of a simulation or status
// response. A JSON null yields (nil, nil).
func ParseTransactionError(raw json.RawMessage) (*TransactionError, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	te := &TransactionError{InstructionIndex: -1, Raw: append(json.RawMessage(nil), raw...)}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		te.Code = name
		return te, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode transaction error: %w", err)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("decode transaction error: empty object")
	}

	if body, ok := obj["InstructionError"]; ok {
		var pair []json.RawMessage
		if err := json.Unmarshal(body, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("decode instruction error: %s", string(body))
		}
		if err := json.Unmarshal(pair[0], &te.InstructionIndex); err != nil {
			return nil, fmt.Errorf("decode instruction index: %w", err)
		}
		if err := decodeInstructionErrorCode(pair[1], te); err != nil {
			return nil, err
		}
		return te, nil
	}

	// Other object variants, e.g. {"InsufficientFundsForRent":{"account_index":0}}.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	te.Code = keys[0]
	return te, nil
}

func decodeInstructionErrorCode(raw json.RawMessage, te *TransactionError) error {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		te.Code = name
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) == 0 {
		return fmt.Errorf("decode instruction error code: %s", string(raw))
	}
	if custom, ok := obj["Custom"]; ok {
		var code uint32
		if err := json.Unmarshal(custom, &code); err != nil {
			return fmt.Errorf("decode custom code: %w", err)
		}
		te.Code = "Custom"
		te.Custom = &code
		return nil
	}
	for k := range obj {
		te.Code = k
		break
	}
	return nil
}
