package domain

// Event is a lifecycle command applied to a payment.
type Event string

const (
	EventInitialize Event = "Initialize"
	EventShowForm   Event = "ShowForm"
	EventAuthorize  Event = "Authorize"
	EventConfirm    Event = "Confirm"
	EventCancel     Event = "Cancel"
	EventRefund     Event = "Refund"
	EventReject     Event = "Reject"
)

// TransitionErrorKind explains why a transition was rejected.
type TransitionErrorKind int

const (
	TransitionOK TransitionErrorKind = iota
	TransitionIllegalFrom
	TransitionGuardFailed
)

func (k TransitionErrorKind) String() string {
	switch k {
	case TransitionOK:
		return "ok"
	case TransitionIllegalFrom:
		return "illegal_from"
	case TransitionGuardFailed:
		return "guard_failed"
	default:
		return "unknown"
	}
}

// TransitionResult is the verdict of the state machine for one edge.
type TransitionResult struct {
	Valid bool
	Kind  TransitionErrorKind
}

// edges enumerates every legal transition. Anything absent is illegal;
// terminal states appear in no value set.
var edges = map[Event]map[PaymentStatus]PaymentStatus{
	EventInitialize: {StatusInit: StatusNew},
	EventShowForm:   {StatusNew: StatusFormShowed},
	EventAuthorize:  {StatusFormShowed: StatusAuthorized},
	EventConfirm:    {StatusAuthorized: StatusConfirmed},
	EventCancel: {
		StatusNew:        StatusCancelled,
		StatusFormShowed: StatusCancelled,
		StatusAuthorized: StatusCancelled,
	},
	EventRefund: {StatusConfirmed: StatusRefunded},
	EventReject: {
		StatusNew:        StatusRejected,
		StatusFormShowed: StatusRejected,
	},
}

// Transition answers whether event may fire from the given status and,
// if so, the resulting status. Pure and deterministic: no I/O, no
// clock. Callers serialize per payment via the payment-level lock.
func Transition(from PaymentStatus, event Event) (PaymentStatus, TransitionResult) {
	targets, ok := edges[event]
	if !ok {
		return from, TransitionResult{Valid: false, Kind: TransitionIllegalFrom}
	}
	to, ok := targets[from]
	if !ok {
		return from, TransitionResult{Valid: false, Kind: TransitionIllegalFrom}
	}
	return to, TransitionResult{Valid: true, Kind: TransitionOK}
}

// TransitionGuarded is Transition with an extra guard predicate checked
// only after the edge itself is legal. A failing guard yields
// TransitionGuardFailed and leaves the status unchanged.
func TransitionGuarded(from PaymentStatus, event Event, guard func() bool) (PaymentStatus, TransitionResult) {
	to, res := Transition(from, event)
	if !res.Valid {
		return from, res
	}
	if guard != nil && !guard() {
		return from, TransitionResult{Valid: false, Kind: TransitionGuardFailed}
	}
	return to, res
}

// CancelOutcome maps the current status to the effective cancellation
// event and resulting status: NEW/FORM_SHOWED and AUTHORIZED cancel
// (the latter a logical reversal), CONFIRMED refunds. The reversal
// nature is recorded on the transaction row, never as a status.
func CancelOutcome(from PaymentStatus) (Event, TransactionType) {
	switch from {
	case StatusAuthorized:
		return EventCancel, TxTypeVoid
	case StatusConfirmed:
		return EventRefund, TxTypeRefund
	default:
		return EventCancel, TxTypeStatusChange
	}
}
