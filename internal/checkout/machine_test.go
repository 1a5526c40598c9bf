package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
)

type fakeGateway struct {
	mu           sync.Mutex
	createCalls  int
	confirmCalls int
	pollCalls    int
	lastCreate   payment.IntentRequest
	createErr    error
	confirm      func(ctx context.Context, call int) (payment.ConfirmationResult, error)
	poll         func(call int) (payment.Status, error)
}

func (f *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = req
	if f.createErr != nil {
		return payment.Intent{}, f.createErr
	}
	id := "pi_1"
	if f.createCalls > 1 {
		id = "pi_" + string(rune('0'+f.createCalls))
	}
	return payment.Intent{
		ID:               id,
		ClientSecret:     id + "_secret_x",
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Status:           payment.StatusRequiresPaymentMethod,
	}, nil
}

func (f *fakeGateway) Confirm(ctx context.Context, clientSecret, _ string) (payment.ConfirmationResult, error) {
	f.mu.Lock()
	f.confirmCalls++
	call := f.confirmCalls
	fn := f.confirm
	f.mu.Unlock()
	if fn == nil {
		return payment.Succeeded(payment.IntentIDFromClientSecret(clientSecret)), nil
	}
	return fn(ctx, call)
}

func (f *fakeGateway) PollStatus(_ context.Context, _ string) (payment.Status, error) {
	f.mu.Lock()
	f.pollCalls++
	call := f.pollCalls
	fn := f.poll
	f.mu.Unlock()
	if fn == nil {
		return payment.StatusSucceeded, nil
	}
	return fn(call)
}

func (f *fakeGateway) counts() (create, confirm, poll int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.confirmCalls, f.pollCalls
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
	reqs  []ReconcileRequest
	err   error
}

func (f *fakeReconciler) Reconcile(_ context.Context, req ReconcileRequest) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return models.Order{}, f.err
	}
	return models.Order{
		ID:              "order_1",
		UserID:          req.UserID,
		PaymentIntentID: req.PaymentIntentID,
		Status:          models.OrderStatusPending,
	}, nil
}

func (f *fakeReconciler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testCustomer = models.CustomerInfo{
	Name:    "Ada Lovelace",
	Email:   "ada@example.com",
	Address: "1 Main St",
	City:    "London",
	ZipCode: "N1 9GU",
	Country: "UK",
}

var fastPolicy = Policy{
	MaxAttempts:    3,
	PollInterval:   time.Millisecond,
	PollAttempts:   5,
	ConfirmTimeout: time.Second,
}

func newTestMachine(t *testing.T, gw *fakeGateway, rec *fakeReconciler, policy Policy) *Machine {
	t.Helper()
	c, err := cart.New("usd", cart.Line{
		ProductID: "prod_1",
		Name:      "Widget",
		UnitPrice: decimal.RequireFromString("42.50"),
		Quantity:  1,
	})
	require.NoError(t, err)
	m := New(c, Options{UserID: "user_1", Gateway: gw, Reconciler: rec, Policy: policy})
	t.Cleanup(m.Close)
	return m
}

// toPayment walks the machine into the payment step.
func toPayment(t *testing.T, m *Machine) View {
	t.Helper()
	_, err := m.Advance()
	require.NoError(t, err)
	_, err = m.SubmitCustomerInfo(testCustomer)
	require.NoError(t, err)
	v, err := m.PrepareIntent(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateConfirmingPayment, v.State)
	return v
}

func TestCheckoutSuccess(t *testing.T) {
	gw := &fakeGateway{}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)

	v := toPayment(t, m)
	assert.Equal(t, int64(4250), v.AmountMinorUnits)
	assert.Equal(t, int64(4250), gw.lastCreate.AmountMinorUnits)
	assert.Equal(t, "usd", gw.lastCreate.Currency)
	assert.Equal(t, "ada@example.com", gw.lastCreate.CustomerEmail)
	assert.Equal(t, "pi_1", v.PaymentIntentID)
	assert.True(t, v.CartLocked)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	require.NotNil(t, v.Order)
	assert.Equal(t, "order_1", v.Order.ID)
	assert.False(t, v.Optimistic)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "pi_1", rec.reqs[0].PaymentIntentID)
	assert.Equal(t, testCustomer, rec.reqs[0].Customer)
	assert.Equal(t, 0, m.Cart().Len())
	assert.False(t, m.Cart().Locked())
}

func TestCartIsLockedOncePaymentStarts(t *testing.T) {
	m := newTestMachine(t, &fakeGateway{}, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	err := m.Cart().Add(cart.Line{ProductID: "prod_2", UnitPrice: decimal.NewFromInt(1), Quantity: 1})
	assert.ErrorIs(t, err, cart.ErrLocked)
	assert.ErrorIs(t, m.Cart().SetQuantity("prod_1", 3), cart.ErrLocked)
}

func TestPrepareIntentCreatesOneIntentPerAmount(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	_, err := m.PrepareIntent(context.Background())
	require.NoError(t, err)
	create, _, _ := gw.counts()
	assert.Equal(t, 1, create)

	// Leaving and re-entering payment with the same amount reuses the intent.
	_, err = m.Back()
	require.NoError(t, err)
	assert.False(t, m.Cart().Locked())
	_, err = m.SubmitCustomerInfo(testCustomer)
	require.NoError(t, err)
	v, err := m.PrepareIntent(context.Background())
	require.NoError(t, err)
	create, _, _ = gw.counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, "pi_1", v.PaymentIntentID)

	// A different amount needs a new intent.
	_, err = m.Back()
	require.NoError(t, err)
	_, err = m.Back()
	require.NoError(t, err)
	require.NoError(t, m.Cart().SetQuantity("prod_1", 2))
	_, err = m.Advance()
	require.NoError(t, err)
	_, err = m.SubmitCustomerInfo(testCustomer)
	require.NoError(t, err)
	v, err = m.PrepareIntent(context.Background())
	require.NoError(t, err)
	create, _, _ = gw.counts()
	assert.Equal(t, 2, create)
	assert.Equal(t, int64(8500), v.AmountMinorUnits)
	assert.NotEqual(t, "pi_1", v.PaymentIntentID)
}

func TestPrepareIntentFailureWaitsForExplicitRetry(t *testing.T) {
	gw := &fakeGateway{createErr: payment.ServerError(502, "bad gateway")}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	_, err := m.Advance()
	require.NoError(t, err)
	_, err = m.SubmitCustomerInfo(testCustomer)
	require.NoError(t, err)

	v, err := m.PrepareIntent(context.Background())
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindServer, f.Kind)
	assert.Equal(t, StateAwaitingPaymentSetup, v.State)
	require.NotNil(t, v.LastError)
	assert.False(t, m.Cart().Locked())
	firstRef := gw.lastCreate.OrderDetails.OrderID
	require.NotEmpty(t, firstRef)

	gw.mu.Lock()
	gw.createErr = nil
	gw.mu.Unlock()
	v, err = m.PrepareIntent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConfirmingPayment, v.State)
	assert.Nil(t, v.LastError)
	assert.Equal(t, firstRef, gw.lastCreate.OrderDetails.OrderID)
}

func TestCustomerValidationStaysLocal(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	_, err := m.Advance()
	require.NoError(t, err)

	bad := testCustomer
	bad.Email = ""
	bad.City = " "
	v, err := m.SubmitCustomerInfo(bad)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindValidation, verr.Kind())
	assert.Len(t, verr.Fields, 2)
	assert.Equal(t, StateCollectingInfo, v.State)
	create, _, _ := gw.counts()
	assert.Zero(t, create)
}

func TestAdvanceRejectsEmptyCart(t *testing.T) {
	c, err := cart.New("usd")
	require.NoError(t, err)
	m := New(c, Options{Gateway: &fakeGateway{}, Reconciler: &fakeReconciler{}})
	defer m.Close()

	_, err = m.Advance()
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestRetryIsCappedAtMaxAttempts(t *testing.T) {
	gw := &fakeGateway{confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
		return payment.ConfirmationResult{}, payment.NetworkError(errors.New("connection reset"))
	}}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, KindNetwork, v.Failure.Kind)
	assert.True(t, v.CanRetry)
	assert.Equal(t, 1, v.Attempts)

	v, err = m.Retry(context.Background())
	require.NoError(t, err)
	assert.True(t, v.CanRetry)
	assert.Equal(t, 2, v.Attempts)

	v, err = m.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v.Attempts)
	assert.False(t, v.CanRetry)
	assert.False(t, v.Failure.Retryable)
	assert.Contains(t, v.Message, "3 attempts")

	_, err = m.Retry(context.Background())
	assert.ErrorIs(t, err, ErrRetryUnavailable)

	create, confirm, _ := gw.counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, 3, confirm)
	assert.Zero(t, rec.count())
	assert.True(t, m.Cart().Locked())
}

func TestRetrySucceedsOnSameIntent(t *testing.T) {
	gw := &fakeGateway{confirm: func(_ context.Context, call int) (payment.ConfirmationResult, error) {
		if call == 1 {
			return payment.ConfirmationResult{}, payment.ServerError(503, "unavailable")
		}
		return payment.Succeeded("pi_1"), nil
	}}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, KindServer, v.Failure.Kind)

	_, err = m.Back()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	v, err = m.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	assert.Equal(t, "pi_1", v.PaymentIntentID)
	create, _, _ := gw.counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, 1, rec.count())
}

func TestDeclineIsFinalUntilRestart(t *testing.T) {
	gw := &fakeGateway{confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
		return payment.Failed("Your card was declined.", payment.KindCardDeclined), nil
	}}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_chargeDeclined")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, KindPaymentDeclined, v.Failure.Kind)
	assert.False(t, v.CanRetry)
	assert.Contains(t, v.Message, "Your card was declined.")

	_, err = m.Retry(context.Background())
	assert.ErrorIs(t, err, ErrRetryUnavailable)

	v, err = m.Restart()
	require.NoError(t, err)
	assert.Equal(t, StateReviewingOrder, v.State)
	assert.Empty(t, v.PaymentIntentID)
	assert.Zero(t, v.Attempts)
	assert.False(t, m.Cart().Locked())
}

func TestProcessingResolvedByPolling(t *testing.T) {
	gw := &fakeGateway{
		confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
			return payment.Processing("pi_1"), nil
		},
		poll: func(call int) (payment.Status, error) {
			if call < 3 {
				return payment.StatusProcessing, nil
			}
			return payment.StatusSucceeded, nil
		},
	}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	assert.False(t, v.Optimistic)
	_, _, polls := gw.counts()
	assert.Equal(t, 3, polls)
	assert.Equal(t, 1, rec.count())
}

func TestProcessingBudgetEndsInOptimisticOrder(t *testing.T) {
	gw := &fakeGateway{
		confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
			return payment.Processing("pi_1"), nil
		},
		poll: func(int) (payment.Status, error) {
			return payment.StatusProcessing, nil
		},
	}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	assert.True(t, v.Optimistic)
	assert.Equal(t, msgOptimistic, v.Message)
	require.Equal(t, 1, rec.count())
	assert.True(t, rec.reqs[0].Optimistic)

	_, _, polls := gw.counts()
	assert.Equal(t, fastPolicy.PollAttempts, polls)
	time.Sleep(20 * time.Millisecond)
	_, _, after := gw.counts()
	assert.Equal(t, polls, after)
}

func TestPollErrorsKeepPolling(t *testing.T) {
	gw := &fakeGateway{
		confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
			return payment.Processing("pi_1"), nil
		},
		poll: func(call int) (payment.Status, error) {
			if call == 1 {
				return "", payment.NetworkError(errors.New("reset"))
			}
			return payment.StatusSucceeded, nil
		},
	}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	assert.False(t, v.Optimistic)
}

func TestReconciliationFailureKeepsCart(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("backend returned 500")}
	m := newTestMachine(t, &fakeGateway{}, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, KindReconciliation, v.Failure.Kind)
	assert.True(t, v.Failure.ContactSupport)
	assert.False(t, v.CanRetry)
	assert.Nil(t, v.Order)
	assert.Equal(t, 1, m.Cart().Len())

	_, err = m.Restart()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Retry(context.Background())
	assert.ErrorIs(t, err, ErrRetryUnavailable)
	assert.Equal(t, 1, rec.count())
}

func TestReconcileRunsOncePerIntent(t *testing.T) {
	gw := &fakeGateway{}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	_, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, v.State)
	_, confirm, _ := gw.counts()
	assert.Equal(t, 1, confirm)
	assert.Equal(t, 1, rec.count())
}

func TestLedgerShortCircuitsKnownIntent(t *testing.T) {
	ledger := NewMemoryLedger()
	_, err := ledger.Claim(context.Background(), "pi_1")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(context.Background(), "pi_1", "order_existing"))

	c, err := cart.New("usd", cart.Line{ProductID: "prod_1", UnitPrice: decimal.RequireFromString("42.50"), Quantity: 1})
	require.NoError(t, err)
	rec := &fakeReconciler{}
	m := New(c, Options{UserID: "user_1", Gateway: &fakeGateway{}, Reconciler: rec, Ledger: ledger, Policy: fastPolicy})
	defer m.Close()
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	assert.Equal(t, "order_existing", v.Order.ID)
	assert.Zero(t, rec.count())
}

func TestRequiresActionThenComplete(t *testing.T) {
	gw := &fakeGateway{confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
		return payment.RequiresAction("pi_1", "use_stripe_sdk"), nil
	}}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_threeDSecure2Required")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmingPayment, v.State)
	assert.Equal(t, "use_stripe_sdk", v.PendingAction)
	assert.Nil(t, v.Failure)

	_, err = m.Back()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	v, err = m.CompleteAction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
	assert.Equal(t, 1, v.Attempts)
	assert.Equal(t, 1, rec.count())
}

func TestSecondConfirmWhileInFlightIsRejected(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{confirm: func(ctx context.Context, _ int) (payment.ConfirmationResult, error) {
		select {
		case <-release:
			return payment.Succeeded("pi_1"), nil
		case <-ctx.Done():
			return payment.ConfirmationResult{}, ctx.Err()
		}
	}}
	rec := &fakeReconciler{}
	m := newTestMachine(t, gw, rec, fastPolicy)
	toPayment(t, m)

	v, err := m.Submit("pm_card_visa")
	require.NoError(t, err)
	assert.True(t, v.ConfirmInFlight)

	_, err = m.Confirm(context.Background(), "pm_card_visa")
	assert.ErrorIs(t, err, ErrConfirmInFlight)
	_, err = m.Submit("pm_card_visa")
	assert.ErrorIs(t, err, ErrConfirmInFlight)

	close(release)
	require.Eventually(t, func() bool { return m.View().State == StateSucceeded }, time.Second, 5*time.Millisecond)
	_, confirm, _ := gw.counts()
	assert.Equal(t, 1, confirm)
	assert.Equal(t, 1, rec.count())
}

func TestConfirmTimeoutIsRetryable(t *testing.T) {
	gw := &fakeGateway{confirm: func(ctx context.Context, call int) (payment.ConfirmationResult, error) {
		if call > 1 {
			return payment.Succeeded("pi_1"), nil
		}
		<-ctx.Done()
		return payment.ConfirmationResult{}, ctx.Err()
	}}
	policy := fastPolicy
	policy.ConfirmTimeout = 20 * time.Millisecond
	m := newTestMachine(t, gw, &fakeReconciler{}, policy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, KindTimeout, v.Failure.Kind)
	assert.True(t, v.CanRetry)
	assert.False(t, v.ConfirmInFlight)

	v, err = m.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, v.State)
}

func TestCloseStopsPolling(t *testing.T) {
	gw := &fakeGateway{
		confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
			return payment.Processing("pi_1"), nil
		},
		poll: func(int) (payment.Status, error) {
			return payment.StatusProcessing, nil
		},
	}
	rec := &fakeReconciler{}
	policy := fastPolicy
	policy.PollInterval = 5 * time.Millisecond
	policy.PollAttempts = 1000
	m := newTestMachine(t, gw, rec, policy)
	toPayment(t, m)

	_, err := m.Submit("pm_card_visa")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, _, polls := gw.counts()
		return polls >= 2
	}, time.Second, time.Millisecond)

	m.Close()
	_, _, polls := gw.counts()
	time.Sleep(30 * time.Millisecond)
	_, _, after := gw.counts()
	assert.Equal(t, polls, after)
	assert.Zero(t, rec.count())

	_, err = m.Retry(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfirmRequiresPaymentStep(t *testing.T) {
	m := newTestMachine(t, &fakeGateway{}, &fakeReconciler{}, fastPolicy)

	_, err := m.Confirm(context.Background(), "pm_card_visa")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	toPayment(t, m)
	_, err = m.Confirm(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingPaymentMethod)
}

func TestBackBeforeConfirmReusesIntent(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	v, err := m.Back()
	require.NoError(t, err)
	assert.Equal(t, StateCollectingInfo, v.State)
	assert.False(t, m.Cart().Locked())

	v, err = m.Back()
	require.NoError(t, err)
	assert.Equal(t, StateReviewingOrder, v.State)

	_, err = m.Advance()
	require.NoError(t, err)
	_, err = m.SubmitCustomerInfo(testCustomer)
	require.NoError(t, err)
	v, err = m.PrepareIntent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pi_1", v.PaymentIntentID)

	create, _, _ := gw.counts()
	assert.Equal(t, 1, create)
}

func TestBackIsRejectedAfterAnAttempt(t *testing.T) {
	gw := &fakeGateway{confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
		return payment.RequiresAction("pi_1", "3ds"), nil
	}}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	_, err := m.Confirm(context.Background(), "pm_card_threeDSecure2Required")
	require.NoError(t, err)

	_, err = m.Back()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, m.Cart().Locked())
}

func TestMalformedButPresentEmailAdvances(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	_, err := m.Advance()
	require.NoError(t, err)

	info := testCustomer
	info.Email = "ada-at-example"
	v, err := m.SubmitCustomerInfo(info)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPaymentSetup, v.State)
}

func TestRestartNeedsAHardFailure(t *testing.T) {
	gw := &fakeGateway{confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
		return payment.ConfirmationResult{}, payment.NetworkError(errors.New("connection reset"))
	}}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	v, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	require.True(t, v.CanRetry)

	_, err = m.Restart()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, m.Cart().Locked())

	for i := 0; i < fastPolicy.MaxAttempts-1; i++ {
		_, err = m.Retry(context.Background())
		require.NoError(t, err)
	}
	v = m.View()
	require.False(t, v.CanRetry)

	v, err = m.Restart()
	require.NoError(t, err)
	assert.Equal(t, StateReviewingOrder, v.State)
	create, _, _ := gw.counts()
	assert.Equal(t, 1, create)
}

func TestConfirmCarriesAttemptNumber(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	gw := &fakeGateway{confirm: func(ctx context.Context, _ int) (payment.ConfirmationResult, error) {
		attempt, _ := payment.AttemptFrom(ctx)
		mu.Lock()
		seen = append(seen, attempt)
		mu.Unlock()
		return payment.ConfirmationResult{}, payment.NetworkError(errors.New("connection reset"))
	}}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)

	_, err := m.Confirm(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	_, err = m.Retry(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRestartUsesANewIntentReference(t *testing.T) {
	gw := &fakeGateway{confirm: func(context.Context, int) (payment.ConfirmationResult, error) {
		return payment.Failed("Your card was declined.", payment.KindCardDeclined), nil
	}}
	m := newTestMachine(t, gw, &fakeReconciler{}, fastPolicy)
	toPayment(t, m)
	firstRef := gw.lastCreate.OrderDetails.OrderID

	_, err := m.Confirm(context.Background(), "pm_card_chargeDeclined")
	require.NoError(t, err)
	_, err = m.Restart()
	require.NoError(t, err)

	v := toPayment(t, m)
	assert.NotEqual(t, "pi_1", v.PaymentIntentID)
	assert.NotEqual(t, firstRef, gw.lastCreate.OrderDetails.OrderID)
}
