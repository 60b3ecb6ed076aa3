// README: Payment provider webhook.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/modules/payment"
)

const maxWebhookBody = 64 << 10

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, reference string) (*move.Move, error)
}

type PaymentHandler struct {
	confirmer PaymentConfirmer
	secret    string
}

func NewPaymentHandler(confirmer PaymentConfirmer, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{confirmer: confirmer, secret: webhookSecret}
}

// Webhook handles POST /api/payments/webhook. Events other than a completed
// checkout are acknowledged and ignored.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	ev, err := payment.ParseWebhook(body, c.GetHeader("Stripe-Signature"), h.secret)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid signature")
		return
	}
	if ev.Reference == "" {
		writeJSON(c, http.StatusOK, map[string]any{"received": true})
		return
	}
	if _, err := h.confirmer.ConfirmPayment(c.Request.Context(), ev.Reference); err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"received": true})
}
