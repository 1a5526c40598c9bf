package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/payment"
)

// PaymentProvider creates and verifies payment intents with the processor.
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (payment.IntentRecord, error)
}

func CreatePaymentIntent(provider PaymentProvider, defaultCurrency string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /create-payment-intent"
		defer handlePanic(c, route)

		var req payment.IntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid request body")
			return
		}
		if req.AmountMinorUnits <= 0 {
			respondWithError(c, http.StatusBadRequest, route, "Invalid amount")
			return
		}
		req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
		if req.Currency == "" {
			req.Currency = defaultCurrency
		}
		p, ok := principal(c, route)
		if !ok {
			return
		}
		if req.OrderDetails.CustomerID == "" {
			req.OrderDetails.CustomerID = p.UserID
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
		defer cancel()

		intent, err := provider.CreatePaymentIntent(ctx, req)
		if err != nil {
			log.Printf("[PAYMENT] [ERROR] create intent for %d %s failed: %v", req.AmountMinorUnits, req.Currency, err)
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		log.Printf("[PAYMENT] [INFO] payment intent %s created for %d %s", intent.ID, intent.AmountMinorUnits, intent.Currency)
		c.JSON(http.StatusOK, gin.H{
			"clientSecret":    intent.ClientSecret,
			"paymentIntentId": intent.ID,
		})
	}
}

type confirmPaymentRequest struct {
	PaymentIntentID string               `json:"paymentIntentId"`
	OrderDetails    payment.OrderDetails `json:"orderDetails"`
}

func ConfirmPayment(provider PaymentProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /confirm-payment"
		defer handlePanic(c, route)

		var req confirmPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid request body")
			return
		}
		if strings.TrimSpace(req.PaymentIntentID) == "" {
			respondWithError(c, http.StatusBadRequest, route, "Payment intent ID is required")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
		defer cancel()

		record, err := provider.RetrieveIntent(ctx, req.PaymentIntentID)
		if err != nil {
			log.Printf("[PAYMENT] [ERROR] retrieve intent %s failed: %v", req.PaymentIntentID, err)
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		if record.Status != payment.StatusSucceeded {
			log.Printf("[PAYMENT] [WARN] intent %s not completed: %s", record.ID, record.Status)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":  "Payment not completed",
				"status": record.Status,
			})
			return
		}

		log.Printf("[PAYMENT] [INFO] payment %s confirmed, %d received", record.ID, record.AmountReceived)
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"orderId":        req.OrderDetails.OrderID,
			"paymentStatus":  record.Status,
			"amountReceived": record.AmountReceived,
		})
	}
}
