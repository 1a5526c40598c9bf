package checkout

// State is a step of the checkout flow.
type State string

const (
	StateReviewingOrder       State = "reviewing_order"
	StateCollectingInfo       State = "collecting_info"
	StateAwaitingPaymentSetup State = "awaiting_payment_setup"
	StateConfirmingPayment    State = "confirming_payment"
	StateReconciling          State = "reconciling"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

func (s State) String() string {
	return string(s)
}
