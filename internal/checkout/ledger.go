package checkout

import (
	"context"
	"sync"
)

// Ledger records which payment intents already produced an order. Claim is
// the at-most-once gate in front of reconciliation.
type Ledger interface {
	// Claim returns false when the intent was claimed before.
	Claim(ctx context.Context, intentID string) (bool, error)
	Complete(ctx context.Context, intentID, orderID string) error
	// Lookup returns the order recorded for the intent, if any.
	Lookup(ctx context.Context, intentID string) (string, bool, error)
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]string)}
}

func (l *MemoryLedger) Claim(_ context.Context, intentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[intentID]; ok {
		return false, nil
	}
	l.entries[intentID] = ""
	return true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, intentID, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[intentID] = orderID
	return nil
}

func (l *MemoryLedger) Lookup(_ context.Context, intentID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	orderID, ok := l.entries[intentID]
	if !ok || orderID == "" {
		return "", false, nil
	}
	return orderID, true, nil
}
