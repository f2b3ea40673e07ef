package protocol

const (
	// Frame/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrLedgerNotFound  = "E_LEDGER_NOT_FOUND"

	// Ledger results.
	ErrDecode     = "E_DECODE"
	ErrStore      = "E_STORE"
	ErrChannel    = "E_CHANNEL"
	ErrConflict   = "E_CONFLICT"
	ErrBadRequest = "E_BAD_REQUEST"
	ErrNotFound   = "E_NOT_FOUND"
	ErrWrongRole  = "E_WRONG_ROLE"
	ErrLimit      = "E_LIMIT"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrLedgerNotFound:  {},
	ErrDecode:          {},
	ErrStore:           {},
	ErrChannel:         {},
	ErrConflict:        {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrWrongRole:       {},
	ErrLimit:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
