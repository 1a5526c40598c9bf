package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// ValidOrderStatuses lists the statuses an admin may move an order to.
var ValidOrderStatuses = []string{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

func IsValidOrderStatus(status string) bool {
	for _, s := range ValidOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// OrderItem represents a single product entry within an order.
type OrderItem struct {
	ProductID string  `bson:"productId" json:"productId"`
	Name      string  `bson:"name" json:"name"`
	Price     float64 `bson:"price" json:"price"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Total     float64 `bson:"total" json:"total"`
}

// StatusHistoryEntry records one status transition of an order.
type StatusHistoryEntry struct {
	Status         string    `bson:"status" json:"status"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	UpdatedBy      string    `bson:"updatedBy" json:"updatedBy"`
	TrackingNumber string    `bson:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
}

// Order defines the persisted order document.
type Order struct {
	ID              string               `bson:"_id" json:"id"`
	UserID          string               `bson:"userId" json:"userId"`
	Items           []OrderItem          `bson:"items" json:"items"`
	Total           float64              `bson:"total" json:"total"`
	Currency        string               `bson:"currency,omitempty" json:"currency,omitempty"`
	Status          string               `bson:"status" json:"status"`
	CustomerInfo    CustomerInfo         `bson:"customerInfo" json:"customerInfo"`
	PaymentIntentID string               `bson:"paymentIntentId,omitempty" json:"paymentIntentId,omitempty"`
	TrackingNumber  string               `bson:"trackingNumber" json:"trackingNumber"`
	StatusHistory   []StatusHistoryEntry `bson:"statusHistory" json:"statusHistory"`
	CreatedAt       time.Time            `bson:"createdAt" json:"createdAt"`
	LastModified    *time.Time           `bson:"lastModified,omitempty" json:"lastModified,omitempty"`
}

// ItemsTotal sums price*quantity over the order items.
func (o Order) ItemsTotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// NewOrderID returns an id of the form order_<8 hex>_<unix seconds>.
func NewOrderID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("order_%s_%d", hex[:8], now.Unix())
}
