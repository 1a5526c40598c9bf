package checkout

import (
	"context"
	"log"

	"storefront/internal/models"
)

// reconcile records the order for a captured payment. It runs at most once
// per intent: the ledger claim is taken before the backend is called and is
// kept when the call fails, so a lost response never produces a second
// order. Once started, reconciliation is not cancelled by the attempt token;
// only the confirm timeout bounds it.
func (m *Machine) reconcile(r *run, intentID string, optimistic bool) {
	m.mu.Lock()
	if m.closed {
		m.endRunLocked(r)
		m.mu.Unlock()
		return
	}
	if m.orderCreated {
		m.state = StateSucceeded
		m.endRunLocked(r)
		m.mu.Unlock()
		return
	}
	m.state = StateReconciling
	req := ReconcileRequest{
		PaymentIntentID: intentID,
		UserID:          m.userID,
		Cart:            m.snapshot,
		Optimistic:      optimistic,
	}
	if m.customer != nil {
		req.Customer = *m.customer
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), m.policy.ConfirmTimeout)
	defer cancel()

	order, err := m.recordOrder(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endRunLocked(r)

	if err != nil {
		m.failure = reconciliationFailure(err)
		m.state = StateFailed
		log.Printf("[CHECKOUT] [ERROR] payment %s (%d %s) succeeded but order reconciliation failed for user %s: %v",
			intentID, req.Cart.MinorUnits(), req.Cart.Currency, m.userID, err)
		return
	}

	m.order = &order
	m.orderCreated = true
	m.optimistic = optimistic
	m.failure = nil
	m.state = StateSucceeded
	m.cart.Clear()
	m.cart.Unlock()
	log.Printf("[CHECKOUT] [INFO] order %s recorded for payment %s (optimistic=%t)", order.ID, intentID, optimistic)
}

func (m *Machine) recordOrder(ctx context.Context, req ReconcileRequest) (models.Order, error) {
	claimed, err := m.ledger.Claim(ctx, req.PaymentIntentID)
	if err != nil {
		// The order store rejects a second order for the same intent, so a
		// ledger outage does not block the shopper.
		log.Printf("[CHECKOUT] [WARN] reconciliation ledger unavailable for %s: %v", req.PaymentIntentID, err)
		claimed = true
	}

	if !claimed {
		orderID, found, lookupErr := m.ledger.Lookup(ctx, req.PaymentIntentID)
		if lookupErr != nil {
			return models.Order{}, lookupErr
		}
		if !found {
			return models.Order{}, errReconcilePending
		}
		log.Printf("[CHECKOUT] [INFO] payment %s already reconciled as order %s", req.PaymentIntentID, orderID)
		return models.Order{
			ID:              orderID,
			UserID:          req.UserID,
			PaymentIntentID: req.PaymentIntentID,
			Currency:        req.Cart.Currency,
			Total:           req.Cart.Total.InexactFloat64(),
		}, nil
	}

	order, err := m.reconciler.Reconcile(ctx, req)
	if err != nil {
		return models.Order{}, err
	}
	if err := m.ledger.Complete(ctx, req.PaymentIntentID, order.ID); err != nil {
		log.Printf("[CHECKOUT] [WARN] could not record order %s in ledger: %v", order.ID, err)
	}
	return order, nil
}
