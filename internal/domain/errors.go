package domain

import "errors"

var (
	// ErrNotFound marks the absence of data as a normal, non-fatal result.
	ErrNotFound = errors.New("not found")

	// ErrRejected is the root of every tick validation failure. Rejections
	// are reported to the producer and never alter cached state.
	ErrRejected = errors.New("tick rejected")

	ErrUnknownTicker    = errors.New("unknown ticker")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTimestamp = errors.New("unparseable timestamp")
	ErrStaleTimestamp   = errors.New("timestamp not after last accepted")
	ErrFutureTimestamp  = errors.New("timestamp beyond clock skew allowance")
)

// RejectError carries the reason a tick was refused.
type RejectError struct {
	Reason error
}

func (e *RejectError) Error() string {
	return "tick rejected: " + e.Reason.Error()
}

func (e *RejectError) Unwrap() error { return e.Reason }

// Is makes every RejectError match ErrRejected in addition to its reason.
func (e *RejectError) Is(target error) bool { return target == ErrRejected }

func Reject(reason error) error {
	return &RejectError{Reason: reason}
}
