// Package checkout drives a shopper from order review to a recorded order:
// it validates customer details, creates exactly one payment intent per
// amount, confirms it with bounded retries, resolves pending payments by
// polling and reconciles a captured payment into an order at most once.
package checkout

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
)

// Gateway is the payment surface the machine depends on.
type Gateway interface {
	CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error)
	Confirm(ctx context.Context, clientSecret, paymentMethodRef string) (payment.ConfirmationResult, error)
	PollStatus(ctx context.Context, clientSecret string) (payment.Status, error)
}

// ReconcileRequest carries everything needed to record a paid order.
type ReconcileRequest struct {
	PaymentIntentID string
	UserID          string
	Cart            cart.Snapshot
	Customer        models.CustomerInfo
	// Optimistic is set when the payment was still processing after the
	// polling budget and is treated as success.
	Optimistic bool
}

// Reconciler turns a successful charge into a durable order.
type Reconciler interface {
	Reconcile(ctx context.Context, req ReconcileRequest) (models.Order, error)
}

// Options is the explicit context a machine runs with.
type Options struct {
	UserID     string
	Gateway    Gateway
	Reconciler Reconciler
	Ledger     Ledger
	Policy     Policy
}

type intentKey struct {
	amount   int64
	currency string
	email    string
}

// Machine is one shopper's checkout. It is safe for concurrent use; network
// calls run without holding the lock.
type Machine struct {
	mu sync.Mutex

	userID     string
	gateway    Gateway
	reconciler Reconciler
	ledger     Ledger
	policy     Policy

	cart     *cart.Cart
	snapshot cart.Snapshot
	customer *models.CustomerInfo

	state     State
	failure   *Failure
	lastError *Failure

	intent        *payment.Intent
	key           intentKey
	intentRef     string
	paymentMethod string
	attempts      int
	pendingAction string
	inFlight      bool

	order        *models.Order
	orderCreated bool
	optimistic   bool

	ctx           context.Context
	cancel        context.CancelFunc
	cancelAttempt context.CancelFunc
	closed        bool
	wg            sync.WaitGroup
}

func New(c *cart.Cart, opts Options) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	ledger := opts.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Machine{
		userID:     opts.UserID,
		gateway:    opts.Gateway,
		reconciler: opts.Reconciler,
		ledger:     ledger,
		policy:     opts.Policy.withDefaults(),
		cart:       c,
		snapshot:   c.Snapshot(),
		state:      StateReviewingOrder,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Cart exposes the cart for edits; edits fail with cart.ErrLocked once the
// payment step has been entered.
func (m *Machine) Cart() *cart.Cart {
	return m.cart
}

// Advance moves from the order review to the customer details step.
func (m *Machine) Advance() (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.viewLocked(), ErrClosed
	}
	if m.state != StateReviewingOrder {
		return m.viewLocked(), ErrInvalidTransition
	}
	snapshot := m.cart.Snapshot()
	if snapshot.Empty() {
		return m.viewLocked(), ErrEmptyCart
	}
	m.snapshot = snapshot
	m.state = StateCollectingInfo
	return m.viewLocked(), nil
}

// Back steps to the previous screen. Leaving the payment step is only
// possible before any confirmation was attempted; it unlocks the cart and
// keeps the intent for reuse if the amount does not change.
func (m *Machine) Back() (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.viewLocked(), ErrClosed
	}
	switch m.state {
	case StateCollectingInfo:
		m.state = StateReviewingOrder
	case StateAwaitingPaymentSetup:
		if m.inFlight {
			return m.viewLocked(), ErrConfirmInFlight
		}
		m.state = StateCollectingInfo
	case StateConfirmingPayment:
		if m.inFlight || m.attempts > 0 || m.pendingAction != "" {
			return m.viewLocked(), ErrInvalidTransition
		}
		m.cart.Unlock()
		m.state = StateCollectingInfo
	default:
		return m.viewLocked(), ErrInvalidTransition
	}
	return m.viewLocked(), nil
}

// SubmitCustomerInfo validates the details and, when complete, moves on to
// payment setup. On validation failure the state is unchanged.
func (m *Machine) SubmitCustomerInfo(info models.CustomerInfo) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.viewLocked(), ErrClosed
	}
	if m.state != StateCollectingInfo {
		return m.viewLocked(), ErrInvalidTransition
	}
	if fields := info.Validate(); fields != nil {
		return m.viewLocked(), &ValidationError{Fields: fields}
	}
	m.customer = &info
	m.lastError = nil
	m.state = StateAwaitingPaymentSetup
	return m.viewLocked(), nil
}

// PrepareIntent creates the payment intent for the current amount and hands
// its client secret to the payment step. An intent already created for the
// same amount, currency and email is reused. A failed creation leaves the
// machine waiting for an explicit new call.
func (m *Machine) PrepareIntent(ctx context.Context) (View, error) {
	req, key, err := m.beginPrepare()
	if err != nil || req == nil {
		return m.View(), err
	}

	intent, err := m.gateway.CreateIntent(ctx, *req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false

	if m.closed {
		return m.viewLocked(), ErrClosed
	}
	if err != nil {
		m.cart.Unlock()
		if errors.Is(err, payment.ErrInvalidAmount) {
			return m.viewLocked(), ErrEmptyCart
		}
		f := failureFromGateway(err)
		f.Retryable = false
		m.lastError = f
		log.Printf("[CHECKOUT] [ERROR] payment intent creation failed for user %s: %v", m.userID, err)
		return m.viewLocked(), f
	}

	m.intent = &intent
	m.key = key
	m.intentRef = ""
	m.lastError = nil
	m.enterPaymentLocked()
	log.Printf("[CHECKOUT] [INFO] payment intent %s created for %d %s", intent.ID, key.amount, key.currency)
	return m.viewLocked(), nil
}

// beginPrepare returns the request to send, or nil when the existing intent
// can be reused.
func (m *Machine) beginPrepare() (*payment.IntentRequest, intentKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return nil, intentKey{}, ErrClosed
	case m.state == StateConfirmingPayment && m.intent != nil:
		return nil, intentKey{}, nil
	case m.state != StateAwaitingPaymentSetup:
		return nil, intentKey{}, ErrInvalidTransition
	case m.inFlight:
		return nil, intentKey{}, ErrConfirmInFlight
	}

	// The cart is locked before the amount is read so it cannot drift while
	// the intent is being created.
	m.cart.Lock()
	snapshot := m.cart.Snapshot()
	amount := snapshot.MinorUnits()
	if snapshot.Empty() || amount <= 0 {
		m.cart.Unlock()
		return nil, intentKey{}, ErrEmptyCart
	}
	key := intentKey{amount: amount, currency: snapshot.Currency, email: strings.ToLower(m.customer.Email)}
	m.snapshot = snapshot

	if m.intent != nil && m.key == key {
		m.enterPaymentLocked()
		return nil, key, nil
	}

	// The reference survives a failed creation so the retry is deduplicated
	// by the processor.
	if m.intentRef == "" {
		m.intentRef = uuid.NewString()
	}
	details := orderDetails(m.userID, snapshot, *m.customer)
	details.OrderID = m.intentRef

	m.inFlight = true
	return &payment.IntentRequest{
		AmountMinorUnits: amount,
		Currency:         snapshot.Currency,
		CustomerEmail:    m.customer.Email,
		OrderDetails:     details,
	}, key, nil
}

func (m *Machine) enterPaymentLocked() {
	m.cart.Lock()
	m.state = StateConfirmingPayment
}

// Close tears the machine down: pending timers and polls are cancelled, no
// reconciliation starts afterwards, and background work is awaited.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// Idle reports whether no network call is in flight.
func (m *Machine) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.inFlight
}

func orderDetails(userID string, snapshot cart.Snapshot, customer models.CustomerInfo) payment.OrderDetails {
	items := make([]payment.OrderDetail, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		items = append(items, payment.OrderDetail{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.UnitPrice.InexactFloat64(),
			Quantity:  line.Quantity,
			Total:     line.Subtotal().InexactFloat64(),
		})
	}
	return payment.OrderDetails{
		CustomerID:    userID,
		CustomerEmail: customer.Email,
		CustomerName:  customer.Name,
		Items:         items,
		TotalAmount:   snapshot.Total.InexactFloat64(),
		ShippingInfo:  customer,
	}
}
