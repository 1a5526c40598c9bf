package payment

import (
	"context"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// IntentRecord is what the backend learns about an intent when verifying it.
type IntentRecord struct {
	ID             string
	Status         Status
	Amount         int64
	AmountReceived int64
	Currency       string
}

// StripeProvider is the server-side half: it creates intents for the
// storefront and verifies them before orders are recorded.
type StripeProvider struct {
	client paymentintent.Client
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{client: newStripeClient(secretKey)}
}

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountMinorUnits),
		Currency:           stripe.String(req.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.AddMetadata("customer_email", req.CustomerEmail)
	params.AddMetadata("order_id", req.OrderDetails.OrderID)
	params.AddMetadata("customer_id", req.OrderDetails.CustomerID)
	if key := req.IdempotencyKey(); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := p.client.New(params)
	if err != nil {
		return Intent{}, stripeError(err)
	}
	return Intent{
		ID:               intent.ID,
		ClientSecret:     intent.ClientSecret,
		AmountMinorUnits: intent.Amount,
		Currency:         string(intent.Currency),
		Status:           ParseStatus(string(intent.Status)),
	}, nil
}

func (p *StripeProvider) RetrieveIntent(ctx context.Context, intentID string) (IntentRecord, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.client.Get(intentID, params)
	if err != nil {
		return IntentRecord{}, stripeError(err)
	}
	return IntentRecord{
		ID:             intent.ID,
		Status:         ParseStatus(string(intent.Status)),
		Amount:         intent.Amount,
		AmountReceived: intent.AmountReceived,
		Currency:       string(intent.Currency),
	}, nil
}
