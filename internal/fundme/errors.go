package fundme

import "errors"

// Rejections. Every one of them aborts the call with no state change.
var (
	ErrWindowClosed     = errors.New("window is closed")
	ErrBelowMinimum     = errors.New("send more ETH")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTargetNotReached = errors.New("balance must reach target")
	ErrWindowNotClosed  = errors.New("window is not closed")
	ErrTargetReached    = errors.New("cannot refund once target is met")
	ErrNoContribution   = errors.New("balance is empty")
)

// Faults raised while evaluating or settling a call.
var (
	ErrOracleFault         = errors.New("price oracle fault")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrInsufficientBalance = errors.New("insufficient held balance")
	ErrTransferFailed      = errors.New("value transfer failed")
)

var preconditions = []error{
	ErrWindowClosed,
	ErrBelowMinimum,
	ErrUnauthorized,
	ErrTargetNotReached,
	ErrWindowNotClosed,
	ErrTargetReached,
	ErrNoContribution,
	ErrArithmeticOverflow,
	ErrInsufficientBalance,
}

// IsPrecondition reports whether err is a rejection by the ledger rather
// than a fault on the way to it. Resending the same call will not help.
func IsPrecondition(err error) bool {
	for _, target := range preconditions {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
