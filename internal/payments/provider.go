package payments

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

// Provider creates payment intents with an external gateway. The ledger only
// depends on this seam; swapping gateways is a config change.
type Provider interface {
	Name() string
	CreateIntent(p *models.Payment) (intentID string, err error)
}

// FromEnv picks the configured provider. Mock is the default and the only
// option outside production.
func FromEnv() Provider {
	if os.Getenv("PAYMENT_PROVIDER") == "stripe" {
		return NewStripeProvider(os.Getenv("STRIPE_SECRET_KEY"))
	}
	return MockProvider{}
}

/* ================================= Mock ================================= */

// MockProvider fabricates intent ids without talking to anyone. Completion
// happens through the dev-only endpoint.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) CreateIntent(p *models.Payment) (string, error) {
	return fmt.Sprintf("pi_mock_%d", time.Now().UnixNano()), nil
}

/* ================================ Stripe ================================ */

// StripeProvider creates real PaymentIntents. Completion arrives through the
// webhook endpoint.
type StripeProvider struct{}

func NewStripeProvider(key string) StripeProvider {
	stripe.Key = key
	return StripeProvider{}
}

func (StripeProvider) Name() string { return "stripe" }

func (StripeProvider) CreateIntent(p *models.Payment) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(p.AmountCents)),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		Metadata: map[string]string{
			"consultation_id": p.ConsultationID.String(),
			"payment_id":      p.ID.String(),
		},
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}
