// README: Stripe Checkout gateway and webhook verification.
package payment

import (
	"context"
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/webhook"

	"movedispatch/internal/types"
)

const eventCheckoutCompleted = "checkout.session.completed"

// StripeGateway creates Checkout sessions for card-paid moves.
type StripeGateway struct {
	successURL string
	cancelURL  string
}

// NewStripeGateway sets the process-wide Stripe key.
func NewStripeGateway(secretKey, successURL, cancelURL string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{successURL: successURL, cancelURL: cancelURL}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(string(req.MoveID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Amount.Currency),
					UnitAmount: stripe.Int64(req.Amount.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Label),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("move_id", string(req.MoveID))
	params.AddMetadata("customer_id", string(req.CustomerID))

	s, err := session.New(params)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

// WebhookEvent is the part of a verified webhook the service acts on.
type WebhookEvent struct {
	Type      string
	Reference string
	MoveID    types.ID
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// checkout session. Other event types come back with an empty Reference.
func ParseWebhook(payload []byte, signature, secret string) (WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("verify webhook: %w", err)
	}
	out := WebhookEvent{Type: string(event.Type)}
	if out.Type != eventCheckoutCompleted {
		return out, nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
	}
	out.Reference = cs.ID
	out.MoveID = types.ID(cs.ClientReferenceID)
	return out, nil
}

// OfflineGateway issues local references when no Stripe key is configured.
type OfflineGateway struct {
	BaseURL string
}

func (g OfflineGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (Session, error) {
	id := "offline_" + string(req.MoveID)
	return Session{ID: id, URL: g.BaseURL + "/payments/" + id}, nil
}
