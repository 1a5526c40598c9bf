package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

// MachineFactory builds a checkout machine acting on behalf of the caller.
type MachineFactory func(p middleware.Principal, c *cart.Cart) *checkout.Machine

type CheckoutHandler struct {
	sessions   *checkout.Registry
	newMachine MachineFactory
	currency   string
}

func NewCheckoutHandler(sessions *checkout.Registry, newMachine MachineFactory, defaultCurrency string) *CheckoutHandler {
	return &CheckoutHandler{sessions: sessions, newMachine: newMachine, currency: defaultCurrency}
}

// Register mounts the session API on an authenticated group.
func (h *CheckoutHandler) Register(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Delete)

	rg.POST("/:id/items", h.AddItem)
	rg.PATCH("/:id/items/:productId", h.UpdateItem)
	rg.DELETE("/:id/items/:productId", h.RemoveItem)

	rg.POST("/:id/advance", h.Advance)
	rg.POST("/:id/back", h.Back)
	rg.POST("/:id/customer", h.SubmitCustomer)
	rg.POST("/:id/intent", h.PrepareIntent)
	rg.POST("/:id/confirm", h.Confirm)
	rg.POST("/:id/action", h.CompleteAction)
	rg.POST("/:id/retry", h.Retry)
	rg.POST("/:id/restart", h.Restart)
}

type cartItemRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity" binding:"required"`
}

func (r cartItemRequest) line() cart.Line {
	return cart.Line{
		ProductID: strings.TrimSpace(r.ProductID),
		Name:      strings.TrimSpace(r.Name),
		UnitPrice: r.UnitPrice,
		Quantity:  r.Quantity,
	}
}

type createCheckoutRequest struct {
	Items    []cartItemRequest `json:"items"`
	Currency string            `json:"currency"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

type confirmRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

type sessionResponse struct {
	ID string `json:"id"`
	checkout.View
}

func (h *CheckoutHandler) Create(c *gin.Context) {
	const route = "POST /checkout"
	defer handlePanic(c, route)

	p, ok := principal(c, route)
	if !ok {
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, route, err)
		return
	}
	currency := req.Currency
	if strings.TrimSpace(currency) == "" {
		currency = h.currency
	}

	lines := make([]cart.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, item.line())
	}
	cc, err := cart.New(currency, lines...)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, route, err.Error())
		return
	}

	s := h.sessions.Add(p.UserID, h.newMachine(p, cc))
	log.Printf("[CHECKOUT] [INFO] session %s started for user %s", s.ID, p.UserID)
	c.JSON(http.StatusCreated, sessionResponse{ID: s.ID, View: s.Machine.View()})
}

func (h *CheckoutHandler) Get(c *gin.Context) {
	const route = "GET /checkout/:id"
	h.withSession(c, route, func(s *checkout.Session) (checkout.View, int, error) {
		return s.Machine.View(), http.StatusOK, nil
	})
}

func (h *CheckoutHandler) Delete(c *gin.Context) {
	const route = "DELETE /checkout/:id"
	defer handlePanic(c, route)

	p, ok := principal(c, route)
	if !ok {
		return
	}
	if err := h.sessions.Remove(c.Param("id"), p.UserID); err != nil {
		respondCheckoutError(c, route, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checkout closed"})
}

func (h *CheckoutHandler) AddItem(c *gin.Context) {
	const route = "POST /checkout/:id/items"
	h.withSession(c, route, func(s *checkout.Session) (checkout.View, int, error) {
		var req cartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return checkout.View{}, 0, errBadRequest
		}
		if err := s.Machine.Cart().Add(req.line()); err != nil {
			return s.Machine.View(), 0, err
		}
		return s.Machine.View(), http.StatusOK, nil
	})
}

func (h *CheckoutHandler) UpdateItem(c *gin.Context) {
	const route = "PATCH /checkout/:id/items/:productId"
	h.withSession(c, route, func(s *checkout.Session) (checkout.View, int, error) {
		var req updateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return checkout.View{}, 0, errBadRequest
		}
		if err := s.Machine.Cart().SetQuantity(c.Param("productId"), req.Quantity); err != nil {
			return s.Machine.View(), 0, err
		}
		return s.Machine.View(), http.StatusOK, nil
	})
}

func (h *CheckoutHandler) RemoveItem(c *gin.Context) {
	const route = "DELETE /checkout/:id/items/:productId"
	h.withSession(c, route, func(s *checkout.Session) (checkout.View, int, error) {
		if err := s.Machine.Cart().Remove(c.Param("productId")); err != nil {
			return s.Machine.View(), 0, err
		}
		return s.Machine.View(), http.StatusOK, nil
	})
}

func (h *CheckoutHandler) Advance(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/advance", func(s *checkout.Session) (checkout.View, int, error) {
		v, err := s.Machine.Advance()
		return v, http.StatusOK, err
	})
}

func (h *CheckoutHandler) Back(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/back", func(s *checkout.Session) (checkout.View, int, error) {
		v, err := s.Machine.Back()
		return v, http.StatusOK, err
	})
}

func (h *CheckoutHandler) SubmitCustomer(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/customer", func(s *checkout.Session) (checkout.View, int, error) {
		var info models.CustomerInfo
		if err := c.ShouldBindJSON(&info); err != nil {
			return checkout.View{}, 0, errBadRequest
		}
		v, err := s.Machine.SubmitCustomerInfo(info)
		return v, http.StatusOK, err
	})
}

func (h *CheckoutHandler) PrepareIntent(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/intent", func(s *checkout.Session) (checkout.View, int, error) {
		v, err := s.Machine.PrepareIntent(c.Request.Context())
		return v, http.StatusOK, err
	})
}

// Confirm starts the confirmation in the background; clients follow the
// outcome with GET.
func (h *CheckoutHandler) Confirm(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/confirm", func(s *checkout.Session) (checkout.View, int, error) {
		// An empty body reuses the payment method of the previous attempt.
		var req confirmRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				return checkout.View{}, 0, errBadRequest
			}
		}
		v, err := s.Machine.Submit(strings.TrimSpace(req.PaymentMethodID))
		return v, http.StatusAccepted, err
	})
}

func (h *CheckoutHandler) CompleteAction(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/action", func(s *checkout.Session) (checkout.View, int, error) {
		v, err := s.Machine.SubmitCompleteAction()
		return v, http.StatusAccepted, err
	})
}

func (h *CheckoutHandler) Retry(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/retry", func(s *checkout.Session) (checkout.View, int, error) {
		v, err := s.Machine.SubmitRetry()
		return v, http.StatusAccepted, err
	})
}

func (h *CheckoutHandler) Restart(c *gin.Context) {
	h.withSession(c, "POST /checkout/:id/restart", func(s *checkout.Session) (checkout.View, int, error) {
		v, err := s.Machine.Restart()
		return v, http.StatusOK, err
	})
}

func (h *CheckoutHandler) withSession(c *gin.Context, route string, fn func(*checkout.Session) (checkout.View, int, error)) {
	defer handlePanic(c, route)

	p, ok := principal(c, route)
	if !ok {
		return
	}
	s, err := h.sessions.Get(c.Param("id"), p.UserID)
	if err != nil {
		respondCheckoutError(c, route, err, nil)
		return
	}

	v, status, err := fn(s)
	if err != nil {
		respondCheckoutError(c, route, err, &sessionResponse{ID: s.ID, View: v})
		return
	}
	c.JSON(status, sessionResponse{ID: s.ID, View: v})
}

var errBadRequest = errors.New("invalid request body")

func respondCheckoutError(c *gin.Context, route string, err error, session *sessionResponse) {
	var validation *checkout.ValidationError
	if errors.As(err, &validation) {
		log.Printf("[%s] returning error %d: %v", route, http.StatusUnprocessableEntity, err)
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "invalid customer info",
			"kind":   validation.Kind(),
			"fields": validation.Fields,
		})
		return
	}

	var failure *checkout.Failure
	if errors.As(err, &failure) {
		log.Printf("[%s] returning error %d: %v", route, http.StatusBadGateway, err)
		body := gin.H{
			"error":     failure.Message,
			"kind":      failure.Kind,
			"retryable": failure.Retryable,
		}
		if session != nil {
			body["checkout"] = session
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, body)
		return
	}

	status := checkoutErrorStatus(err)
	log.Printf("[%s] returning error %d: %v", route, status, err)
	body := gin.H{"error": err.Error()}
	if session != nil && status == http.StatusConflict {
		body["checkout"] = session
	}
	c.AbortWithStatusJSON(status, body)
}

func checkoutErrorStatus(err error) int {
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound), errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrConfirmInFlight),
		errors.Is(err, checkout.ErrRetryUnavailable),
		errors.Is(err, checkout.ErrNoIntent),
		errors.Is(err, checkout.ErrClosed),
		errors.Is(err, cart.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrMissingPaymentMethod),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, cart.ErrMissingProduct):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
