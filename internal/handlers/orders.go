package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/models"
)

// OrderStore persists orders.
type OrderStore interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, order models.Order) (models.Order, bool, error)
	List(ctx context.Context, f database.OrderFilter) ([]models.Order, int64, error)
	UpdateStatus(ctx context.Context, id string, u database.StatusUpdate) (models.Order, models.Order, error)
	Delete(ctx context.Context, id string) error
}

var now = time.Now

/* =========================
   REQUEST DTOs
========================= */

type createOrderItemRequest struct {
	ProductID string  `json:"productId" binding:"required"`
	Name      string  `json:"name"`
	Price     float64 `json:"price" binding:"gte=0"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	Total     float64 `json:"total"`
}

type createOrderRequest struct {
	UserID          string                   `json:"userId"`
	Items           []createOrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Total           *float64                 `json:"total"`
	Currency        string                   `json:"currency"`
	Status          string                   `json:"status"`
	CustomerInfo    models.CustomerInfo      `json:"customerInfo"`
	PaymentIntentID string                   `json:"paymentIntentId"`
}

type updateOrderRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"trackingNumber"`
}

/* =========================
   CREATE ORDER
========================= */

func CreateOrder(store OrderStore, publisher events.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders"
		defer handlePanic(c, route)

		p, ok := principal(c, route)
		if !ok {
			return
		}

		if err := ensureDBConnection(c.Request.Context(), store); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, "database unavailable")
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindingError(c, route, err)
			return
		}

		order, err := buildOrderFromRequest(req, p.UserID, now())
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		if p.Admin && strings.TrimSpace(req.UserID) != "" {
			order.UserID = strings.TrimSpace(req.UserID)
		}
		if !p.Admin && !isCustomerOrderStatus(order.Status) {
			respondWithError(c, http.StatusBadRequest, route, "invalid status")
			return
		}
		order.StatusHistory = []models.StatusHistoryEntry{{
			Status:    order.Status,
			Timestamp: order.CreatedAt,
			UpdatedBy: updatedBy(p.Email, p.UserID),
		}}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		stored, existing, err := store.Insert(ctx, order)
		if err != nil {
			log.Println("[ORDER] [ERROR] insert failed:", err)
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}
		if existing {
			// Another user's order for the same payment is never disclosed.
			if stored.UserID != order.UserID && !p.Admin {
				log.Printf("[ORDER] [WARN] user %s posted payment %s owned by another user", p.UserID, stored.PaymentIntentID)
				c.AbortWithStatus(http.StatusConflict)
				return
			}
			log.Printf("[ORDER] [INFO] order %s already exists for payment %s", stored.ID, stored.PaymentIntentID)
			c.JSON(http.StatusOK, gin.H{
				"id":      stored.ID,
				"message": "Order already exists",
				"order":   stored,
			})
			return
		}

		if err := publisher.Publish(ctx, events.OrderCreated(stored, stored.CreatedAt)); err != nil {
			log.Printf("[ORDER] [WARN] order.created event for %s not published: %v", stored.ID, err)
		}

		log.Printf("[ORDER] [INFO] order %s created for user %s", stored.ID, stored.UserID)
		c.JSON(http.StatusCreated, gin.H{
			"id":      stored.ID,
			"message": "Order created successfully",
			"order":   stored,
		})
	}
}

/* =========================
   GET ORDERS
========================= */

func GetOrders(store OrderStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders"
		defer handlePanic(c, route)

		p, ok := principal(c, route)
		if !ok {
			return
		}

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		filter := database.OrderFilter{Page: page, Limit: limit}
		if !p.Admin {
			filter.UserID = p.UserID
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		orders, total, err := store.List(ctx, filter)
		if err != nil {
			log.Println("[ORDER] [ERROR] list failed:", err)
			respondWithError(c, http.StatusInternalServerError, route, "Orders could not be fetched")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"orders":      orders,
			"isAdmin":     p.Admin,
			"totalOrders": total,
			"page":        page,
			"limit":       limit,
		})
	}
}

/* =========================
   ADMIN
========================= */

func UpdateOrderStatus(store OrderStore, publisher events.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /orders/:id"
		defer handlePanic(c, route)

		p, ok := principal(c, route)
		if !ok {
			return
		}

		var req updateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, "Status is required")
			return
		}
		status := strings.ToLower(strings.TrimSpace(req.Status))
		if !models.IsValidOrderStatus(status) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":         "Invalid status",
				"validStatuses": models.ValidOrderStatuses,
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		before, after, err := store.UpdateStatus(ctx, c.Param("id"), database.StatusUpdate{
			Status:         status,
			TrackingNumber: strings.TrimSpace(req.TrackingNumber),
			UpdatedBy:      updatedBy(p.Email, p.UserID),
			At:             now(),
		})
		if errors.Is(err, database.ErrOrderNotFound) {
			respondWithError(c, http.StatusNotFound, route, "order not found")
			return
		}
		if err != nil {
			log.Println("[ORDER] [ERROR] status update failed:", err)
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		if err := publisher.Publish(ctx, events.OrderStatusChanged(after, before.Status, *after.LastModified)); err != nil {
			log.Printf("[ORDER] [WARN] order.status_changed event for %s not published: %v", after.ID, err)
		}

		log.Printf("[ORDER] [INFO] order %s moved %s -> %s by %s", after.ID, before.Status, after.Status, p.UserID)
		c.JSON(http.StatusOK, gin.H{
			"message": "Order updated successfully",
			"order":   after,
		})
	}
}

func DeleteOrder(store OrderStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/orders/:id"
		defer handlePanic(c, route)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		err := store.Delete(ctx, c.Param("id"))
		if errors.Is(err, database.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "order deleted"})
	}
}

/* =========================
   BUILD ORDER
========================= */

func buildOrderFromRequest(req createOrderRequest, userID string, createdAt time.Time) (models.Order, error) {
	if len(req.Items) == 0 {
		return models.Order{}, errors.New("at least one item is required")
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		status = models.OrderStatusPending
	}
	if !models.IsValidOrderStatus(status) {
		return models.Order{}, errors.New("invalid status")
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return models.Order{}, errors.New("quantity must be greater than zero")
		}
		total := item.Total
		if total == 0 {
			total = item.Price * float64(item.Quantity)
		}
		items = append(items, models.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Price:     item.Price,
			Quantity:  item.Quantity,
			Total:     total,
		})
	}

	order := models.Order{
		ID:              models.NewOrderID(createdAt),
		UserID:          userID,
		Items:           items,
		Currency:        strings.ToLower(strings.TrimSpace(req.Currency)),
		Status:          status,
		CustomerInfo:    req.CustomerInfo,
		PaymentIntentID: strings.TrimSpace(req.PaymentIntentID),
		CreatedAt:       createdAt,
	}
	if req.Total != nil {
		order.Total = *req.Total
	} else {
		order.Total = order.ItemsTotal()
	}
	return order, nil
}

// isCustomerOrderStatus reports whether a non-admin may create an order in
// status. Later statuses are set by admins through status updates.
func isCustomerOrderStatus(status string) bool {
	return status == models.OrderStatusPending || status == models.OrderStatusProcessing
}

func updatedBy(email, userID string) string {
	if email != "" {
		return email
	}
	return userID
}
