// README: Collaborators the dispatch engine consumes.
package dispatch

import (
	"context"
	"time"

	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/modules/payment"
	"movedispatch/internal/types"
)

// Matcher finds candidates and keeps the durable trace of a move's
// solicitation (offered drivers, the live round and a lease) in step with the offer book.
type Matcher interface {
	FindNearbyDrivers(ctx context.Context, p types.Point, vehicleClass string, radiusMeters float64, excluding []types.ID) ([]matching.Nearby, error)
	Withdraw(ctx context.Context, driverID types.ID, vehicleClass string) error
	Restore(ctx context.Context, c matching.Candidate) error

	RecordOffer(ctx context.Context, moveID, driverID types.ID) error
	Offered(ctx context.Context, moveID types.ID) ([]types.ID, error)
	SaveRound(ctx context.Context, moveID types.ID, r matching.Round) error
	LoadRound(ctx context.Context, moveID types.ID) (matching.Round, error)
	ClaimLease(ctx context.Context, moveID types.ID, ttl time.Duration) (bool, error)
	RefreshLease(ctx context.Context, moveID types.ID, ttl time.Duration) error
	Forget(ctx context.Context, moveID types.ID) error
}

type Pricer interface {
	Price(ctx context.Context, pickup, delivery types.Point, vehicleClass string) (move.Pricing, error)
}

type Payments interface {
	FinalizeCash(ctx context.Context, m *move.Move) error
	CreateCardSession(ctx context.Context, m *move.Move) (payment.Session, error)
	MarkPaid(ctx context.Context, m *move.Move) error
}

type Drivers interface {
	GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error)
}
