// README: Payment service settles delivered moves (cash ledger entry or card checkout).
package payment

import (
	"context"
	"fmt"
	"time"

	"movedispatch/internal/modules/move"
)

type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error)
}

type Service struct {
	ledger  Ledger
	gateway Gateway
	now     func() time.Time
}

func NewService(ledger Ledger, gateway Gateway) *Service {
	return &Service{ledger: ledger, gateway: gateway, now: time.Now}
}

// FinalizeCash records a completed cash payment. Repeated calls are no-ops.
func (s *Service) FinalizeCash(ctx context.Context, m *move.Move) error {
	_, err := s.ledger.Record(ctx, Record{
		MoveID:    m.ID,
		Method:    move.PaymentCash,
		Amount:    m.Pricing.Total,
		Status:    move.PaymentCompleted,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: record cash payment: %v", move.ErrUpstream, err)
	}
	return nil
}

// CreateCardSession opens a hosted checkout for the move total and records
// the awaiting ledger entry.
func (s *Service) CreateCardSession(ctx context.Context, m *move.Move) (Session, error) {
	sess, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		MoveID:     m.ID,
		CustomerID: m.CustomerID,
		Amount:     m.Pricing.Total,
		Label:      fmt.Sprintf("Move %s", m.ID),
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: create checkout: %v", move.ErrUpstream, err)
	}
	if _, err := s.ledger.Record(ctx, Record{
		MoveID:    m.ID,
		Method:    move.PaymentCard,
		Amount:    m.Pricing.Total,
		Status:    move.PaymentAwaiting,
		Reference: sess.ID,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return Session{}, fmt.Errorf("%w: record card payment: %v", move.ErrUpstream, err)
	}
	return sess, nil
}

// MarkPaid settles the ledger entry after the gateway confirmed payment.
func (s *Service) MarkPaid(ctx context.Context, m *move.Move) error {
	return s.ledger.MarkCompleted(ctx, m.ID, s.now().UTC())
}
