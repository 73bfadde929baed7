package payment

// Status is the lifecycle state of a payment. Transitions are restricted to
// the edges in the transitions table; everything else is rejected.
type Status string

const (
	StatusInit            Status = "INIT"
	StatusNew             Status = "NEW"
	StatusFormShowed      Status = "FORM_SHOWED"
	StatusAuthorizing     Status = "AUTHORIZING"
	StatusThreeDSChecking Status = "THREE_DS_CHECKING"
	StatusThreeDSChecked  Status = "THREE_DS_CHECKED"
	StatusAuthorized      Status = "AUTHORIZED"
	StatusAuthFail        Status = "AUTH_FAIL"
	StatusConfirming      Status = "CONFIRMING"
	StatusConfirmed       Status = "CONFIRMED"
	StatusReversing       Status = "REVERSING"
	StatusReversed        Status = "REVERSED"
	StatusPartialReversed Status = "PARTIAL_REVERSED"
	StatusRefunding       Status = "REFUNDING"
	StatusRefunded        Status = "REFUNDED"
	StatusPartialRefunded Status = "PARTIAL_REFUNDED"
	StatusCancelling      Status = "CANCELLING"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
	StatusDeadlineExpired Status = "DEADLINE_EXPIRED"
)

// transitions is the full edge set of the payment state machine. A transition
// absent from this table is invalid regardless of caller.
var transitions = map[Status][]Status{
	StatusInit:       {StatusNew},
	StatusNew:        {StatusFormShowed, StatusCancelled, StatusDeadlineExpired},
	StatusFormShowed: {StatusAuthorizing, StatusDeadlineExpired},
	StatusAuthorizing: {
		StatusThreeDSChecking,
		StatusAuthorized,
		StatusAuthFail,
		StatusRejected,
	},
	StatusThreeDSChecking: {StatusThreeDSChecked, StatusAuthFail},
	StatusThreeDSChecked:  {StatusAuthorized, StatusAuthFail},
	StatusAuthorized:      {StatusConfirming, StatusReversing},
	StatusConfirming:      {StatusConfirmed},
	StatusConfirmed:       {StatusRefunding},
	StatusReversing:       {StatusReversed, StatusPartialReversed},
	StatusRefunding:       {StatusRefunded, StatusPartialRefunded},
	// AUTH_FAIL is re-entrant while authorize attempts remain; the guard in
	// machine.go enforces the attempt ceiling.
	StatusAuthFail: {StatusFormShowed},
	// No trigger produces CANCELLING: reversals and refunds carry their own
	// in-flight statuses. Declared so stored rows carrying it still parse.
	StatusCancelling: {},
}

// terminals have no outgoing edges at all.
var terminals = map[Status]bool{
	StatusCancelled:       true,
	StatusDeadlineExpired: true,
	StatusExpired:         true,
	StatusRejected:        true,
	StatusReversed:        true,
	StatusPartialReversed: true,
	StatusRefunded:        true,
	StatusPartialRefunded: true,
}

// IsTerminal reports whether the status has no outgoing edges. AUTH_FAIL is
// deliberately absent: it becomes effectively terminal only once the attempt
// budget is spent, which is an attempt-count guard, not a property of the
// status itself.
func (s Status) IsTerminal() bool {
	return terminals[s]
}

// CanTransitionTo reports whether the edge s -> to exists in the table.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if terminals[s] {
		return true
	}
	_, ok := transitions[s]
	return ok
}
