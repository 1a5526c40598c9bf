package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/payment"
)

type fakeProvider struct {
	created   []payment.IntentRequest
	createErr error
	record    payment.IntentRecord
}

func (p *fakeProvider) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	p.created = append(p.created, req)
	if p.createErr != nil {
		return payment.Intent{}, p.createErr
	}
	return payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret_x", AmountMinorUnits: req.AmountMinorUnits, Currency: req.Currency}, nil
}

func (p *fakeProvider) RetrieveIntent(_ context.Context, id string) (payment.IntentRecord, error) {
	r := p.record
	r.ID = id
	return r, nil
}

func paymentRouter(provider *fakeProvider) http.Handler {
	r := newTestRouter()
	r.POST("/create-payment-intent", userAuth(), CreatePaymentIntent(provider, "usd"))
	r.POST("/confirm-payment", userAuth(), ConfirmPayment(provider))
	return r
}

func TestCreatePaymentIntent(t *testing.T) {
	provider := &fakeProvider{}
	r := paymentRouter(provider)
	token := userToken(t, "user_1", "ada@example.com")

	w := doJSON(t, r, http.MethodPost, "/create-payment-intent", token, map[string]any{
		"amount":        4250,
		"customerEmail": "ada@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "pi_1_secret_x", body["clientSecret"])
	assert.Equal(t, "pi_1", body["paymentIntentId"])

	require.Len(t, provider.created, 1)
	assert.Equal(t, int64(4250), provider.created[0].AmountMinorUnits)
	assert.Equal(t, "usd", provider.created[0].Currency)
	assert.Equal(t, "user_1", provider.created[0].OrderDetails.CustomerID)
}

func TestCreatePaymentIntentRejectsInvalidAmount(t *testing.T) {
	provider := &fakeProvider{}
	r := paymentRouter(provider)
	token := userToken(t, "user_1", "")

	for _, amount := range []int{0, -100} {
		w := doJSON(t, r, http.MethodPost, "/create-payment-intent", token, map[string]any{"amount": amount})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid amount", decode(t, w)["error"])
	}
	assert.Empty(t, provider.created)

	w := doJSON(t, r, http.MethodPost, "/create-payment-intent", "", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePaymentIntentProviderError(t *testing.T) {
	r := paymentRouter(&fakeProvider{createErr: errors.New("Your account cannot currently make live charges.")})
	w := doJSON(t, r, http.MethodPost, "/create-payment-intent", userToken(t, "user_1", ""), map[string]any{"amount": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "live charges")
}

func TestConfirmPayment(t *testing.T) {
	provider := &fakeProvider{record: payment.IntentRecord{Status: payment.StatusSucceeded, AmountReceived: 4250}}
	r := paymentRouter(provider)
	token := userToken(t, "user_1", "")

	w := doJSON(t, r, http.MethodPost, "/confirm-payment", token, map[string]any{
		"paymentIntentId": "pi_1",
		"orderDetails":    map[string]any{"orderId": "cart_7"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "cart_7", body["orderId"])
	assert.Equal(t, "succeeded", body["paymentStatus"])
	assert.Equal(t, float64(4250), body["amountReceived"])
}

func TestConfirmPaymentNotCompleted(t *testing.T) {
	provider := &fakeProvider{record: payment.IntentRecord{Status: payment.StatusProcessing}}
	r := paymentRouter(provider)
	token := userToken(t, "user_1", "")

	w := doJSON(t, r, http.MethodPost, "/confirm-payment", token, map[string]any{"paymentIntentId": "pi_1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Payment not completed", body["error"])
	assert.Equal(t, "processing", body["status"])

	w = doJSON(t, r, http.MethodPost, "/confirm-payment", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Payment intent ID is required", decode(t, w)["error"])
}
