package exception

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrConnectorTransient covers network and timeout failures that may succeed on retry.
	ErrConnectorTransient = errors.New("connector: transient")

	// ErrConnectorPermanent covers auth, balance and invalid-order failures.
	ErrConnectorPermanent = errors.New("connector: permanent")

	ErrConnectorRejected = errors.New("connector: order rejected")

	ErrChaosInjected = errors.New("connector: injected failure")
)

// Transient tags err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ErrConnectorTransient, err: err}
}

// Permanent tags err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ErrConnectorPermanent, err: err}
}

// IsTransient reports whether err is worth retrying. Unclassified errors are
// treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectorPermanent) {
		return false
	}
	if errors.Is(err, ErrConnectorTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsRejected reports whether the exchange refused an order.
func IsRejected(err error) bool {
	return errors.Is(err, ErrConnectorRejected)
}

// IsDataGap reports whether err is a market data gap.
func IsDataGap(err error) bool {
	return errors.Is(err, ErrDataGap)
}

// IsRiskLimit reports whether err is a risk gate decision.
func IsRiskLimit(err error) bool {
	return errors.Is(err, ErrRiskLimit)
}

type classified struct {
	class error
	err   error
}

func (c *classified) Error() string {
	return c.class.Error() + ", err: " + c.err.Error()
}

func (c *classified) Unwrap() []error {
	return []error{c.class, c.err}
}
