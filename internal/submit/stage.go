package submit

import "errors"

type Stage string

const (
	StageIdle              Stage = "IDLE"
	StageCheckingRateLimit Stage = "CHECKING_RATE_LIMIT"
	StageRevalidating      Stage = "REVALIDATING_STOCK"
	StageAwaitingPayment   Stage = "AWAITING_PAYMENT"
	StageSubmitting        Stage = "SUBMITTING"
	StageSucceeded         Stage = "SUCCEEDED"
)

// String representation (for logging)
func (s Stage) String() string {
	return string(s)
}

var (
	// ErrSubmissionInFlight is the at-most-once contract: a trigger while the
	// guard token is held is a no-op.
	ErrSubmissionInFlight = errors.New("a submission attempt is already in flight")

	// ErrAttemptCancelled is returned when an in-flight attempt observes that
	// it was cancelled at a suspension point. Its results are discarded.
	ErrAttemptCancelled = errors.New("submission attempt was cancelled")

	// ErrTooLateToCancel is returned once order creation has been dispatched;
	// the flow must run to a terminal state.
	ErrTooLateToCancel = errors.New("order creation already dispatched")

	ErrNoPendingSession = errors.New("no pending payment session for this user")
)
