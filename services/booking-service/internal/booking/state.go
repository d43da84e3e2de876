package booking

// State is the position of a booking in the payment-gated flow.
type State string

const (
	StateSelectingSlot      State = "SELECTING_SLOT"
	StateCostComputed       State = "COST_COMPUTED"
	StateSessionCreated     State = "SESSION_CREATED"
	StateAwaitingPayment    State = "AWAITING_PAYMENT"
	StatePaymentVerified    State = "PAYMENT_VERIFIED"
	StateAppointmentCreated State = "APPOINTMENT_CREATED"

	StateSessionCreationFailed      State = "SESSION_CREATION_FAILED"
	StatePaymentVerificationTimeout State = "PAYMENT_VERIFICATION_TIMEOUT"
	StateAppointmentCreationFailed  State = "APPOINTMENT_CREATION_FAILED"
)

var stateTransitions = map[State][]State{
	StateSelectingSlot:   {StateCostComputed},
	StateCostComputed:    {StateSessionCreated, StateSessionCreationFailed},
	StateSessionCreated:  {StateAwaitingPayment, StatePaymentVerificationTimeout, StateAppointmentCreationFailed},
	StateAwaitingPayment: {StatePaymentVerified, StatePaymentVerificationTimeout, StateAppointmentCreationFailed},
	StatePaymentVerified: {StateAppointmentCreated, StatePaymentVerificationTimeout, StateAppointmentCreationFailed},
	// A timed-out verification may be retried by the patient.
	StatePaymentVerificationTimeout: {StatePaymentVerified, StatePaymentVerificationTimeout},
}

func CanTransition(from, to State) bool {
	for _, s := range stateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(stateTransitions[s]) == 0
}
