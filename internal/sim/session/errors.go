package session

import (
	"errors"

	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/planner"
)

var (
	ErrNoSources    = errors.New("no source registered in world")
	ErrOutOfRange   = errors.New("no source in range of job")
	ErrDuplicateJob = errors.New("job with the same unique key is in flight")
	ErrJobNotFound  = errors.New("job not found")
	ErrUnknownWorld = errors.New("unknown world")
)

// ErrorCode maps a StartJob/CancelJob error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSources):
		return protocol.ErrNoSource
	case errors.Is(err, ErrOutOfRange):
		return protocol.ErrOutOfRange
	case errors.Is(err, ErrDuplicateJob):
		return protocol.ErrConflict
	case errors.Is(err, ErrJobNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, planner.ErrUnknownBlueprint):
		return protocol.ErrInvalidTarget
	case errors.Is(err, planner.ErrNothingToDo):
		return protocol.ErrNothingToDo
	case errors.Is(err, planner.ErrInvalidRequest), errors.Is(err, ErrUnknownWorld):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}
