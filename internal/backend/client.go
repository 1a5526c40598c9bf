// Package backend is the storefront's JSON client for the payment and order
// endpoints. Every call carries the shopper's bearer token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"storefront/internal/circuitbreaker"
	"storefront/internal/models"
	"storefront/internal/payment"
)

// TokenSource supplies the bearer token attached to backend calls.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	cb         *gobreaker.CircuitBreaker[[]byte]
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreaker(settings circuitbreaker.Settings) Option {
	return func(c *Client) { c.cb = newBreaker(settings) }
}

func NewClient(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		cb:         newBreaker(circuitbreaker.Settings{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(settings circuitbreaker.Settings) *gobreaker.CircuitBreaker[[]byte] {
	if settings.IsSuccessful == nil {
		// 4xx answers mean the backend is healthy.
		settings.IsSuccessful = func(err error) bool {
			var pe *payment.Error
			if errors.As(err, &pe) && pe.Kind == payment.KindServerError {
				return pe.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		}
	}
	return circuitbreaker.New[[]byte]("backend", settings)
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token TokenSource) *Client {
	clone := *c
	clone.token = token
	return &clone
}

type createIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// CreatePaymentIntent calls POST /create-payment-intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	var resp createIntentResponse
	if err := c.post(ctx, "/create-payment-intent", req, &resp); err != nil {
		return payment.Intent{}, err
	}
	if resp.PaymentIntentID == "" {
		resp.PaymentIntentID = payment.IntentIDFromClientSecret(resp.ClientSecret)
	}
	return payment.Intent{
		ID:               resp.PaymentIntentID,
		ClientSecret:     resp.ClientSecret,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Status:           payment.StatusRequiresPaymentMethod,
	}, nil
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string               `json:"paymentIntentId"`
	OrderDetails    payment.OrderDetails `json:"orderDetails"`
}

type ConfirmPaymentResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	PaymentStatus  string `json:"paymentStatus"`
	AmountReceived int64  `json:"amountReceived"`
}

// ConfirmPayment calls POST /confirm-payment, the backend's acknowledgement
// that the intent really succeeded.
func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (ConfirmPaymentResponse, error) {
	var resp ConfirmPaymentResponse
	if err := c.post(ctx, "/confirm-payment", req, &resp); err != nil {
		return ConfirmPaymentResponse{}, err
	}
	return resp, nil
}

type CreateOrderRequest struct {
	UserID          string              `json:"userId"`
	Items           []models.OrderItem  `json:"items"`
	Total           float64             `json:"total"`
	Currency        string              `json:"currency,omitempty"`
	Status          string              `json:"status"`
	CustomerInfo    models.CustomerInfo `json:"customerInfo"`
	PaymentIntentID string              `json:"paymentIntentId"`
}

type createOrderResponse struct {
	ID      string       `json:"id"`
	Message string       `json:"message"`
	Order   models.Order `json:"order"`
}

// CreateOrder calls POST /orders.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (models.Order, error) {
	var resp createOrderResponse
	if err := c.post(ctx, "/orders", req, &resp); err != nil {
		return models.Order{}, err
	}
	order := resp.Order
	if order.ID == "" {
		order.ID = resp.ID
	}
	if order.PaymentIntentID == "" {
		order.PaymentIntentID = req.PaymentIntentID
	}
	return order, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, path, payload)
	})
	if err != nil {
		if circuitbreaker.Rejected(err) {
			return &payment.Error{Kind: payment.KindTransientNetwork, Message: "backend temporarily unavailable", Err: err}
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &payment.Error{Kind: payment.KindServerError, StatusCode: http.StatusOK, Message: "invalid response body", Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("bearer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &payment.Error{Kind: payment.KindTimeout, Message: "backend request timed out", Err: err}
		}
		return nil, payment.NetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, payment.NetworkError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := http.StatusText(resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return nil, payment.ServerError(resp.StatusCode, msg)
	}
	return raw, nil
}
