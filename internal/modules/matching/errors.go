package matching

import (
	"errors"

	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrMatchAlreadyFinalized   = errors.New("match already finalized")
	ErrRequestAlreadyCommitted = errors.New("request already committed")
	ErrLockTimeout             = errors.New("request is busy; lock wait timed out")
	ErrInvalidRate             = errors.New("invalid rate")
	ErrReasonRequired          = errors.New("reason is required")
	ErrInvalidTransition       = errors.New("invalid match transition")
	ErrMatchingDelayed         = errors.New("candidate pool unavailable; matching delayed")
	ErrConflict                = errors.New("match state conflict")
)

// Kind classifies errors for transport mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindTransient  Kind = "transient"
	KindInternal   Kind = "internal"
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRate), errors.Is(err, ErrReasonRequired),
		errors.Is(err, request.ErrBadRequest), errors.Is(err, request.ErrInvalidBudget),
		errors.Is(err, request.ErrInvalidDeadline), errors.Is(err, types.ErrInvalidAmount):
		return KindValidation
	case errors.Is(err, ErrMatchNotFound), errors.Is(err, request.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMatchAlreadyFinalized), errors.Is(err, ErrRequestAlreadyCommitted),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict),
		errors.Is(err, request.ErrNotPending), errors.Is(err, request.ErrConflict):
		return KindState
	case errors.Is(err, ErrLockTimeout), errors.Is(err, ErrMatchingDelayed):
		return KindTransient
	}
	return KindInternal
}
