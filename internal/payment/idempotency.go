package payment

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storefront/payment-intents"))

// IdempotencyKey identifies one intent creation. The same customer, order
// reference, amount, currency and email always yield the same key. Requests
// without an order reference have no stable identity and get no key.
func (r IntentRequest) IdempotencyKey() string {
	if r.OrderDetails.OrderID == "" {
		return ""
	}
	return idempotencyKey("create",
		r.OrderDetails.CustomerID,
		r.OrderDetails.OrderID,
		strconv.FormatInt(r.AmountMinorUnits, 10),
		strings.ToLower(r.Currency),
		strings.ToLower(strings.TrimSpace(r.CustomerEmail)),
	)
}

// ConfirmIdempotencyKey identifies one confirmation attempt of an intent.
func ConfirmIdempotencyKey(intentID string, attempt int) string {
	return idempotencyKey("confirm", intentID, strconv.Itoa(attempt))
}

func idempotencyKey(parts ...string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(strings.Join(parts, "|"))).String()
}

type attemptKey struct{}

// WithAttempt tags ctx with the confirmation attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFrom returns the attempt number set by WithAttempt.
func AttemptFrom(ctx context.Context) (int, bool) {
	attempt, ok := ctx.Value(attemptKey{}).(int)
	return attempt, ok && attempt > 0
}
