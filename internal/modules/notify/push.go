// README: Firebase Cloud Messaging push to per-user topics.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"

	"movedispatch/internal/types"
)

const pushTimeout = 5 * time.Second

// Push sends a data message to the topic "user_<id>", which the mobile apps
// subscribe to after sign-in. Sends run in the background.
type Push struct {
	client *messaging.Client
	log    zerolog.Logger
}

func NewPush(client *messaging.Client, log zerolog.Logger) *Push {
	return &Push{client: client, log: log.With().Str("component", "fcm").Logger()}
}

func (p *Push) Notify(_ context.Context, userID types.ID, event string, payload any) {
	msg, err := pushMessage(userID, event, payload)
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("encode push")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if _, err := p.client.Send(ctx, msg); err != nil {
			p.log.Warn().Err(err).Str("user_id", string(userID)).Str("event", event).Msg("send push")
		}
	}()
}

func pushMessage(userID types.ID, event string, payload any) (*messaging.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &messaging.Message{
		Topic: "user_" + string(userID),
		Data: map[string]string{
			"type":    event,
			"payload": string(data),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}, nil
}
