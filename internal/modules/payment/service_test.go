// README: Card session, cash ledger and webhook tests.
package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type failingGateway struct{}

func (failingGateway) CreateCheckout(context.Context, CheckoutRequest) (Session, error) {
	return Session{}, errors.New("card network down")
}

func deliveredMove(method move.PaymentMethod) *move.Move {
	return &move.Move{
		ID:         "m1",
		CustomerID: "c1",
		Status:     move.StatusDelivered,
		Pricing:    move.Pricing{Total: types.Money{Amount: 4200, Currency: "USD"}},
		Payment:    move.Payment{Method: method},
	}
}

func TestFinalizeCashOnce(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, OfflineGateway{})

	m := deliveredMove(move.PaymentCash)
	require.NoError(t, svc.FinalizeCash(ctx, m))
	require.NoError(t, svc.FinalizeCash(ctx, m))

	r, err := ledger.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, move.PaymentCompleted, r.Status)
	assert.Equal(t, int64(4200), r.Amount.Amount)
}

func TestCreateCardSession(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, OfflineGateway{BaseURL: "http://localhost:8080"})

	sess, err := svc.CreateCardSession(ctx, deliveredMove(move.PaymentCard))
	require.NoError(t, err)
	assert.Equal(t, "offline_m1", sess.ID)
	assert.Equal(t, "http://localhost:8080/payments/offline_m1", sess.URL)

	r, err := ledger.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, move.PaymentAwaiting, r.Status)
	assert.Equal(t, "offline_m1", r.Reference)

	require.NoError(t, svc.MarkPaid(ctx, deliveredMove(move.PaymentCard)))
	r, err = ledger.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, move.PaymentCompleted, r.Status)
}

func TestCreateCardSessionGatewayFailure(t *testing.T) {
	svc := NewService(NewMemoryLedger(), failingGateway{})
	_, err := svc.CreateCardSession(context.Background(), deliveredMove(move.PaymentCard))
	assert.ErrorIs(t, err, move.ErrUpstream)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"type":"checkout.session.completed"}`), "t=1,v1=bad", "whsec_test")
	assert.Error(t, err)
}
