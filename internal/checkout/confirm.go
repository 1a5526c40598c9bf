package checkout

import (
	"context"
	"fmt"
	"log"
	"time"

	"storefront/internal/payment"
)

// run is one confirmation or resolution step, bound to its own cancellation
// token. The token is shared by the confirm call's hard timeout and the poll
// loop, and it is cancelled whenever the step ends or the machine closes.
type run struct {
	ctx          context.Context
	cancel       context.CancelFunc
	clientSecret string
	intentID     string
	attempt      int
}

// Confirm authorizes paymentMethodRef against the current intent and blocks
// until the attempt reaches an outcome. An empty ref reuses the previous one.
// Confirming an already successful checkout returns immediately without
// reconciling again.
func (m *Machine) Confirm(ctx context.Context, paymentMethodRef string) (View, error) {
	r, err := m.beginConfirm(ctx, paymentMethodRef, false)
	if err != nil || r == nil {
		return m.View(), err
	}
	m.confirm(r, paymentMethodRef)
	return m.View(), nil
}

// Submit starts a confirmation in the background. The in-flight guard is
// taken before Submit returns.
func (m *Machine) Submit(paymentMethodRef string) (View, error) {
	return m.background(func() (*run, error) {
		return m.beginConfirm(m.ctx, paymentMethodRef, false)
	}, func(r *run) { m.confirm(r, paymentMethodRef) })
}

// Retry re-confirms the same intent after a retryable failure. It never
// creates a new intent.
func (m *Machine) Retry(ctx context.Context) (View, error) {
	r, err := m.beginConfirm(ctx, "", true)
	if err != nil || r == nil {
		return m.View(), err
	}
	m.confirm(r, "")
	return m.View(), nil
}

func (m *Machine) SubmitRetry() (View, error) {
	return m.background(func() (*run, error) {
		return m.beginConfirm(m.ctx, "", true)
	}, func(r *run) { m.confirm(r, "") })
}

// CompleteAction resumes after the payer finished a required action by
// asking the processor for the intent's status. It is not a new attempt.
func (m *Machine) CompleteAction(ctx context.Context) (View, error) {
	r, err := m.beginAction(ctx)
	if err != nil {
		return m.View(), err
	}
	m.completeAction(r)
	return m.View(), nil
}

func (m *Machine) SubmitCompleteAction() (View, error) {
	return m.background(func() (*run, error) {
		return m.beginAction(m.ctx)
	}, m.completeAction)
}

// Restart begins a new attempt after a hard failure: the intent is dropped,
// the cart unlocked and the flow returns to the review step. A retryable
// failure must go through Retry on the same intent. Not available after a
// reconciliation failure, where the payment was already captured.
func (m *Machine) Restart() (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.viewLocked(), ErrClosed
	}
	if m.state != StateFailed || m.inFlight || m.failure == nil || m.failure.Retryable || m.failure.Kind == KindReconciliation {
		return m.viewLocked(), ErrInvalidTransition
	}

	log.Printf("[CHECKOUT] [INFO] checkout restarted for user %s after %s", m.userID, m.failure.Kind)
	m.intent = nil
	m.key = intentKey{}
	m.intentRef = ""
	m.paymentMethod = ""
	m.attempts = 0
	m.pendingAction = ""
	m.failure = nil
	m.lastError = nil
	m.cart.Unlock()
	m.state = StateReviewingOrder
	return m.viewLocked(), nil
}

func (m *Machine) background(begin func() (*run, error), work func(*run)) (View, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.View(), ErrClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	r, err := begin()
	if err != nil || r == nil {
		m.wg.Done()
		return m.View(), err
	}
	go func() {
		defer m.wg.Done()
		work(r)
	}()
	return m.View(), nil
}

// beginConfirm validates the transition and takes the in-flight guard. A nil
// run with a nil error means there is nothing to do.
func (m *Machine) beginConfirm(parent context.Context, paymentMethodRef string, retry bool) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.inFlight {
		return nil, ErrConfirmInFlight
	}
	if m.state == StateSucceeded {
		return nil, nil
	}

	if retry {
		if !m.canRetryLocked() {
			return nil, ErrRetryUnavailable
		}
	} else if m.state != StateConfirmingPayment {
		return nil, ErrInvalidTransition
	} else if m.attempts >= m.policy.MaxAttempts {
		return nil, ErrRetryUnavailable
	}
	if m.intent == nil {
		return nil, ErrNoIntent
	}

	if paymentMethodRef != "" {
		m.paymentMethod = paymentMethodRef
	}
	if m.paymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}

	m.attempts++
	m.failure = nil
	m.pendingAction = ""
	m.state = StateConfirmingPayment
	r := m.startRunLocked(parent)
	r.attempt = m.attempts
	return r, nil
}

func (m *Machine) beginAction(parent context.Context) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.inFlight {
		return nil, ErrConfirmInFlight
	}
	if m.state != StateConfirmingPayment || m.pendingAction == "" || m.intent == nil {
		return nil, ErrInvalidTransition
	}
	m.pendingAction = ""
	return m.startRunLocked(parent), nil
}

func (m *Machine) startRunLocked(parent context.Context) *run {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(m.ctx, cancel)
	m.inFlight = true
	m.cancelAttempt = func() {
		stop()
		cancel()
	}
	return &run{
		ctx:          ctx,
		cancel:       m.cancelAttempt,
		clientSecret: m.intent.ClientSecret,
		intentID:     m.intent.ID,
	}
}

func (m *Machine) confirm(r *run, paymentMethodRef string) {
	m.mu.Lock()
	ref := m.paymentMethod
	m.mu.Unlock()
	if paymentMethodRef != "" {
		ref = paymentMethodRef
	}

	callCtx, cancel := context.WithTimeout(payment.WithAttempt(r.ctx, r.attempt), m.policy.ConfirmTimeout)
	result, err := m.gateway.Confirm(callCtx, r.clientSecret, ref)
	timedOut := callCtx.Err() == context.DeadlineExceeded
	cancel()

	if err != nil {
		if timedOut {
			err = &payment.Error{Kind: payment.KindTimeout, Message: "confirmation timed out", Err: err}
		}
		m.fail(r, failureFromGateway(err))
		return
	}
	m.resolve(r, result)
}

func (m *Machine) completeAction(r *run) {
	callCtx, cancel := context.WithTimeout(r.ctx, m.policy.ConfirmTimeout)
	status, err := m.gateway.PollStatus(callCtx, r.clientSecret)
	cancel()

	if err != nil {
		m.fail(r, failureFromGateway(err))
		return
	}
	m.resolve(r, resultFromStatus(r.intentID, status))
}

func (m *Machine) resolve(r *run, result payment.ConfirmationResult) {
	intentID := result.IntentID
	if intentID == "" {
		intentID = r.intentID
	}

	switch result.Outcome {
	case payment.OutcomeSucceeded:
		m.reconcile(r, intentID, false)
	case payment.OutcomeProcessing:
		m.poll(r, intentID)
	case payment.OutcomeRequiresAction:
		m.awaitAction(r, result.NextStepRef)
	default:
		if result.ErrorKind == payment.KindRequiresNewAction {
			m.awaitAction(r, "authenticate")
			return
		}
		kind := result.ErrorKind
		if kind == "" {
			kind = payment.KindCardDeclined
		}
		m.fail(r, failureFromKind(kind, result.Message))
	}
}

// poll resolves a processing payment. When the budget runs out the payment
// is treated as successful: the order is recorded and the final status is
// left to the backend's asynchronous reconciliation. This favours not
// blocking the shopper over strict consistency.
func (m *Machine) poll(r *run, intentID string) {
	for i := 0; i < m.policy.PollAttempts; i++ {
		if err := waitOrCancel(r.ctx, m.policy.PollInterval); err != nil {
			m.interrupted(r)
			return
		}

		status, err := m.gateway.PollStatus(r.ctx, r.clientSecret)
		if r.ctx.Err() != nil {
			m.interrupted(r)
			return
		}
		if err != nil {
			log.Printf("[CHECKOUT] [WARN] status poll %d for %s failed: %v", i+1, intentID, err)
			continue
		}
		if status == payment.StatusProcessing {
			continue
		}
		m.resolve(r, resultFromStatus(intentID, status))
		return
	}

	log.Printf("[CHECKOUT] [WARN] payment %s still processing after %d polls, recording order optimistically", intentID, m.policy.PollAttempts)
	m.reconcile(r, intentID, true)
}

func (m *Machine) awaitAction(r *run, nextStep string) {
	if nextStep == "" {
		nextStep = string(payment.StatusRequiresAction)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.pendingAction = nextStep
		m.state = StateConfirmingPayment
	}
	m.endRunLocked(r)
}

// fail records a failure. A retryable failure on the last allowed attempt
// becomes final.
func (m *Machine) fail(r *run, f *Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endRunLocked(r)

	if m.closed {
		return
	}
	if f.Retryable && m.attempts >= m.policy.MaxAttempts {
		f.Retryable = false
		f.Message = fmt.Sprintf(msgAttemptsUsed, m.policy.MaxAttempts)
	}
	m.failure = f
	m.state = StateFailed
	log.Printf("[CHECKOUT] [WARN] payment attempt %d/%d for user %s failed: %v (retryable=%t)",
		m.attempts, m.policy.MaxAttempts, m.userID, f, f.Retryable)
}

// interrupted handles a run whose token was cancelled before an outcome.
// After Close nothing changes; a caller that gave up sees a timeout.
func (m *Machine) interrupted(r *run) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.mu.Lock()
		m.endRunLocked(r)
		m.mu.Unlock()
		return
	}
	m.fail(r, &Failure{Kind: KindTimeout, Retryable: true, Message: msgTimeout, Detail: "confirmation interrupted"})
}

func (m *Machine) endRunLocked(r *run) {
	m.inFlight = false
	r.cancel()
	m.cancelAttempt = nil
}

func resultFromStatus(intentID string, status payment.Status) payment.ConfirmationResult {
	switch status {
	case payment.StatusSucceeded:
		return payment.Succeeded(intentID)
	case payment.StatusProcessing:
		return payment.Processing(intentID)
	case payment.StatusRequiresAction:
		return payment.RequiresAction(intentID, string(payment.StatusRequiresAction))
	default:
		return payment.Failed("", payment.KindCardDeclined)
	}
}

func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
