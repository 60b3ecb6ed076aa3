// README: Notification channel contract and fan-out.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"movedispatch/internal/types"
)

// Event names delivered to clients.
const (
	EventOffer          = "move:offer"
	EventOfferWithdrawn = "move:offer_withdrawn"
	EventAccepted       = "move:accepted"
	EventAcceptConfirm  = "move:accept_confirmed"
	EventAcceptFailed   = "move:accept_failed"
	EventNoDrivers      = "move:no_drivers"
	EventStatus         = "move:status"
	EventCompleted      = "move:completed"
	EventCancelled      = "move:cancelled"
	EventPaymentLink    = "move:payment_link"
	EventPaymentDone    = "move:payment_completed"
)

// Notifier delivers an event to one user. Implementations must not block the
// caller on slow transports and never fail the calling operation.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, event string, payload any)
}

// Message is the envelope written to websocket clients and the event stream.
type Message struct {
	Type   string    `json:"type"`
	UserID types.ID  `json:"user_id"`
	Data   any       `json:"data"`
	At     time.Time `json:"at"`
}

// Fanout delivers to every sink in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, userID types.ID, event string, payload any) {
	for _, n := range f {
		n.Notify(ctx, userID, event, payload)
	}
}

type Nop struct{}

func (Nop) Notify(context.Context, types.ID, string, any) {}

// Logging records every notification at debug level.
type Logging struct {
	Log zerolog.Logger
}

func (l Logging) Notify(_ context.Context, userID types.ID, event string, _ any) {
	l.Log.Debug().Str("user_id", string(userID)).Str("event", event).Msg("notify")
}
