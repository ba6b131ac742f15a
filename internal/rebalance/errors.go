package rebalance

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectivityError marks a failed call to the node. The current pass is
// aborted and retried at the next interval; no pair state is touched.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("node unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// PaymentError is a definite failure reported by the node, counted against
// the pair's consecutive-failure tally.
type PaymentError struct {
	Reason string
}

func (e *PaymentError) Error() string {
	if e.Reason == "" {
		return "payment failed"
	}
	return "payment failed: " + e.Reason
}

var (
	// ErrNoRoute: the node found no path for the requested hints.
	ErrNoRoute = errors.New("no route for requested hints")
	// ErrNoBudget: fee allowance below the minimum viable fee. The attempt
	// is deferred, not failed.
	ErrNoBudget = errors.New("insufficient fee budget")
	// ErrAmbiguous: the payment outcome could not be confirmed within the
	// bounded reconciliation attempts.
	ErrAmbiguous = errors.New("payment outcome unresolved")
	// ErrSubmitUnknown: the submission request left the process but no
	// response arrived. The payment may or may not exist on the node; the
	// attempt must be reconciled by payment hash, never resubmitted.
	ErrSubmitUnknown = errors.New("payment submission outcome unknown")
)

var noRouteMarkers = []string{
	"route not found",
	"no route",
	"routenotfound",
	"cannot route",
}

// classifyFailure maps the node's free-form failure message onto the error
// taxonomy. Eclair reports pathfinding dead-ends inside the failure text of
// an otherwise ordinary failed payment.
func classifyFailure(reason string) error {
	lowered := strings.ToLower(reason)
	for _, marker := range noRouteMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %s", ErrNoRoute, reason)
		}
	}
	return &PaymentError{Reason: reason}
}
