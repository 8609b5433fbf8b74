package protocol

const (
	// Request validation.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNothingToDo   = "E_NOTHING_TO_DO"

	// Capacity.
	ErrNoSource   = "E_NO_SOURCE"
	ErrOutOfRange = "E_OUT_OF_RANGE"

	// Job state.
	ErrConflict = "E_CONFLICT"
	ErrNotFound = "E_NOT_FOUND"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:    {},
	ErrInvalidTarget: {},
	ErrNothingToDo:   {},
	ErrNoSource:      {},
	ErrOutOfRange:    {},
	ErrConflict:      {},
	ErrNotFound:      {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
