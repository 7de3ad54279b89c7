package exception

import "errors"

var (
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderDuplicate         = errors.New("order: duplicate id")
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	ErrOrderEmptyID           = errors.New("order: empty exchange order id")
	ErrOrderInvalidAmount     = errors.New("order: invalid amount")
	ErrOrderNotCancellable    = errors.New("order: not cancellable")
)

// ErrRiskLimit is a decision gate, not a failure. It is returned with the
// rejection reason so callers can distinguish it from connector errors.
var ErrRiskLimit = errors.New("risk: limit exceeded")
