package domain

// RejectReason identifies which precondition a rejected operation failed.
// Callers outside the engine only see the boolean success flag; reasons exist
// for logging, event payloads, and tests.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonMalformed      RejectReason = "malformed"
	ReasonExpired        RejectReason = "order expired"
	ReasonMakerSignature RejectReason = "maker signature mismatch"
	ReasonTakerSignature RejectReason = "taker signature mismatch"
	ReasonTradeSpent     RejectReason = "trade already settled or cancelled"
	ReasonOverfill       RejectReason = "amount exceeds remaining capacity"
	ReasonRounding       RejectReason = "rounding error above tolerance"
	ReasonFunds          RejectReason = "insufficient balance or allowance"
	ReasonUnauthorized   RejectReason = "unauthorized"
)

// Result is the outcome of a settlement or cancellation attempt. Every engine
// entry point is total: preconditions that fail produce a Result with
// OK=false and a reason, never an error. Errors are reserved for
// infrastructure faults.
type Result struct {
	OK     bool
	Reason RejectReason
}

// Ok returns a successful Result.
func Ok() Result {
	return Result{OK: true}
}

// Rejected returns a failed Result carrying the given reason.
func Rejected(reason RejectReason) Result {
	return Result{Reason: reason}
}
