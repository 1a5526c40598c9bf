package backend

import (
	"context"
	"fmt"
	"log"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/payment"
)

// OrderReconciler records a paid checkout as an order through the backend.
type OrderReconciler struct {
	client *Client
}

func NewOrderReconciler(client *Client) *OrderReconciler {
	return &OrderReconciler{client: client}
}

// Reconcile asks the backend to acknowledge the payment and then creates the
// order. The acknowledgement is skipped for optimistic results because the
// backend refuses intents that have not settled yet.
func (r *OrderReconciler) Reconcile(ctx context.Context, req checkout.ReconcileRequest) (models.Order, error) {
	if !req.Optimistic {
		ack, err := r.client.ConfirmPayment(ctx, ConfirmPaymentRequest{
			PaymentIntentID: req.PaymentIntentID,
			OrderDetails: payment.OrderDetails{
				CustomerID:    req.UserID,
				CustomerEmail: req.Customer.Email,
				CustomerName:  req.Customer.Name,
				TotalAmount:   req.Cart.Total.InexactFloat64(),
				ShippingInfo:  req.Customer,
			},
		})
		if err != nil {
			return models.Order{}, fmt.Errorf("acknowledge payment %s: %w", req.PaymentIntentID, err)
		}
		if !ack.Success {
			return models.Order{}, fmt.Errorf("acknowledge payment %s: backend reported status %q", req.PaymentIntentID, ack.PaymentStatus)
		}
	}

	order, err := r.client.CreateOrder(ctx, CreateOrderRequest{
		UserID:          req.UserID,
		Items:           orderItems(req.Cart),
		Total:           req.Cart.Total.InexactFloat64(),
		Currency:        req.Cart.Currency,
		Status:          models.OrderStatusProcessing,
		CustomerInfo:    req.Customer,
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("create order for %s: %w", req.PaymentIntentID, err)
	}

	log.Printf("[ORDER] [INFO] order %s created for payment %s", order.ID, req.PaymentIntentID)
	return order, nil
}

func orderItems(snapshot cart.Snapshot) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.UnitPrice.InexactFloat64(),
			Quantity:  line.Quantity,
			Total:     line.Subtotal().InexactFloat64(),
		})
	}
	return items
}
