package checkout

import (
	"storefront/internal/cart"
	"storefront/internal/models"
)

// View is a read-only picture of the machine for the UI.
type View struct {
	State            State                `json:"state"`
	Cart             cart.Snapshot        `json:"cart"`
	AmountMinorUnits int64                `json:"amountMinorUnits"`
	CartLocked       bool                 `json:"cartLocked"`
	Customer         *models.CustomerInfo `json:"customerInfo,omitempty"`
	PaymentIntentID  string               `json:"paymentIntentId,omitempty"`
	ClientSecret     string               `json:"clientSecret,omitempty"`
	Attempts         int                  `json:"attempts"`
	MaxAttempts      int                  `json:"maxAttempts"`
	ConfirmInFlight  bool                 `json:"confirmInFlight"`
	CanRetry         bool                 `json:"canRetry"`
	PendingAction    string               `json:"pendingAction,omitempty"`
	Failure          *Failure             `json:"failure,omitempty"`
	LastError        *Failure             `json:"lastError,omitempty"`
	Order            *models.Order        `json:"order,omitempty"`
	Optimistic       bool                 `json:"optimistic,omitempty"`
	Message          string               `json:"message,omitempty"`
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	locked := m.cart.Locked()
	snapshot := m.snapshot
	if !locked && m.state != StateSucceeded {
		snapshot = m.cart.Snapshot()
	}
	v := View{
		State:            m.state,
		Cart:             snapshot,
		AmountMinorUnits: snapshot.MinorUnits(),
		CartLocked:       locked,
		Attempts:         m.attempts,
		MaxAttempts:      m.policy.MaxAttempts,
		ConfirmInFlight:  m.inFlight,
		PendingAction:    m.pendingAction,
		Failure:          m.failure,
		LastError:        m.lastError,
		Optimistic:       m.optimistic,
	}
	if m.customer != nil {
		c := *m.customer
		v.Customer = &c
	}
	if m.intent != nil {
		v.PaymentIntentID = m.intent.ID
		v.ClientSecret = m.intent.ClientSecret
	}
	if m.order != nil {
		o := *m.order
		v.Order = &o
	}
	v.CanRetry = m.canRetryLocked()

	switch {
	case m.failure != nil:
		v.Message = m.failure.Message
	case m.state == StateSucceeded && m.optimistic:
		v.Message = msgOptimistic
	}
	return v
}

func (m *Machine) canRetryLocked() bool {
	return !m.closed &&
		m.state == StateFailed &&
		m.failure != nil &&
		m.failure.Retryable &&
		!m.inFlight &&
		m.attempts < m.policy.MaxAttempts
}
