// README: Payment ledger records, one per delivered move.
package payment

import (
	"time"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type Record struct {
	MoveID    types.ID
	Method    move.PaymentMethod
	Amount    types.Money
	Status    move.PaymentStatus
	Reference string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is a hosted checkout the customer pays through.
type Session struct {
	ID  string
	URL string
}

type CheckoutRequest struct {
	MoveID     types.ID
	CustomerID types.ID
	Amount     types.Money
	Label      string
}
