// Package cart holds the shopper's line items and produces the immutable
// snapshot that checkout charges against.
package cart

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrLocked          = errors.New("cart is locked during checkout")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidPrice    = errors.New("unit price must not be negative")
	ErrMissingProduct  = errors.New("productId is required")
)

// Line is a single product entry in the cart.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Subtotal is UnitPrice × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) validate() error {
	if strings.TrimSpace(l.ProductID) == "" {
		return ErrMissingProduct
	}
	if l.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if l.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// Cart is safe for concurrent use.
type Cart struct {
	mu       sync.Mutex
	lines    []Line
	currency string
	locked   bool
}

func New(currency string, lines ...Line) (*Cart, error) {
	c := &Cart{currency: strings.ToLower(strings.TrimSpace(currency))}
	if c.currency == "" {
		c.currency = "usd"
	}
	for _, line := range lines {
		if err := c.Add(line); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add inserts a line, merging quantities when the product is already present.
func (c *Cart) Add(line Line) error {
	if err := line.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrLocked
	}

	for i := range c.lines {
		if c.lines[i].ProductID == line.ProductID {
			c.lines[i].Quantity += line.Quantity
			c.lines[i].UnitPrice = line.UnitPrice
			if line.Name != "" {
				c.lines[i].Name = line.Name
			}
			return nil
		}
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *Cart) Remove(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrLocked
	}

	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) SetQuantity(productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrLocked
	}

	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Quantity = quantity
			return nil
		}
	}
	return ErrItemNotFound
}

// Clear removes every line. It is allowed while locked: clearing is how a
// completed checkout empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

func (c *Cart) Lock() {
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
}

func (c *Cart) Unlock() {
	c.mu.Lock()
	c.locked = false
	c.mu.Unlock()
}

func (c *Cart) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]Line, len(c.lines))
	copy(lines, c.lines)

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}

	return Snapshot{
		Lines:      lines,
		Total:      total,
		Currency:   c.currency,
		CapturedAt: time.Now(),
	}
}

func (c *Cart) String() string {
	s := c.Snapshot()
	return fmt.Sprintf("cart{lines=%d total=%s %s}", len(s.Lines), s.Total.StringFixed(2), s.Currency)
}
