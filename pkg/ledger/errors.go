package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrBlockhashExpired means the transaction was not confirmed before its
	// blockhash passed its last valid block height
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")

	// ErrTransactionNotFound is returned when a transaction lookup finds nothing
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransactionErrorKind names the ledger's transaction error variants the
// pipeline reacts to. Other variants are carried verbatim.
type TransactionErrorKind string

const (
	KindAlreadyProcessed  TransactionErrorKind = "AlreadyProcessed"
	KindBlockhashNotFound TransactionErrorKind = "BlockhashNotFound"
	KindInstructionError  TransactionErrorKind = "InstructionError"
)

// TransactionError is a typed transaction rejection reported by the ledger,
// either while simulating (Preflight) or after execution.
type TransactionError struct {
	Kind TransactionErrorKind

	// InstructionIndex and CustomCode are set for instruction errors.
	// CustomCode is nil when the instruction failed with a builtin error.
	InstructionIndex int
	CustomCode       *uint32
	// Detail holds the builtin instruction error name when CustomCode is nil
	Detail string

	Preflight bool
}

func (e *TransactionError) Error() string {
	stage := "transaction"
	if e.Preflight {
		stage = "preflight"
	}
	switch {
	case e.Kind == KindInstructionError && e.CustomCode != nil:
		return fmt.Sprintf("%s failed: instruction %d: custom program error 0x%x", stage, e.InstructionIndex, *e.CustomCode)
	case e.Kind == KindInstructionError:
		return fmt.Sprintf("%s failed: instruction %d: %s", stage, e.InstructionIndex, e.Detail)
	default:
		return fmt.Sprintf("%s failed: %s", stage, e.Kind)
	}
}

// IsCustom reports whether e is a custom program error raised by the
// instruction at index with one of the given codes.
func (e *TransactionError) IsCustom(index int, codes ...uint32) bool {
	if e.Kind != KindInstructionError || e.CustomCode == nil || e.InstructionIndex != index {
		return false
	}
	for _, code := range codes {
		if *e.CustomCode == code {
			return true
		}
	}
	return false
}

// ParseTransactionError converts the JSON decoded form of a ledger
// transaction error into a TransactionError. Shapes understood:
//
//	"AlreadyProcessed"
//	{"InstructionError": [0, {"Custom": 6}]}
//	{"InstructionError": [1, "InvalidAccountData"]}
//	{"InsufficientFundsForRent": {"account_index": 0}}
//
// nil input yields nil.
func ParseTransactionError(raw interface{}) *TransactionError {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return &TransactionError{Kind: TransactionErrorKind(v)}
	case map[string]interface{}:
		if ie, ok := v[string(KindInstructionError)]; ok {
			return parseInstructionError(ie)
		}
		for name := range v {
			return &TransactionError{Kind: TransactionErrorKind(name)}
		}
	}
	return &TransactionError{Kind: TransactionErrorKind(fmt.Sprintf("%v", raw))}
}

func parseInstructionError(raw interface{}) *TransactionError {
	out := &TransactionError{Kind: KindInstructionError}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 2 {
		out.Detail = fmt.Sprintf("%v", raw)
		return out
	}
	if idx, ok := toInt(parts[0]); ok {
		out.InstructionIndex = idx
	}

	switch detail := parts[1].(type) {
	case string:
		out.Detail = detail
	case map[string]interface{}:
		if custom, ok := detail["Custom"]; ok {
			if code, ok := toInt(custom); ok && code >= 0 {
				c := uint32(code)
				out.CustomCode = &c
				return out
			}
		}
		for name := range detail {
			out.Detail = name
		}
	default:
		out.Detail = fmt.Sprintf("%v", detail)
	}
	return out
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	}
	// json.Number and friends
	if s, ok := v.(fmt.Stringer); ok {
		var out int
		if _, err := fmt.Sscanf(s.String(), "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}

// AsTransactionError unwraps err into a *TransactionError if it carries one.
func AsTransactionError(err error) (*TransactionError, bool) {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr, true
	}
	return nil, false
}
