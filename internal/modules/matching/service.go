// README: Matching service answers nearest-driver queries and keeps the index in step with availability.
package matching

import (
	"context"
	"time"

	"movedispatch/internal/types"
)

type Service struct {
	index  Index
	ledger Ledger
}

func NewService(index Index, ledger Ledger) *Service {
	return &Service{index: index, ledger: ledger}
}

// FindNearbyDrivers returns available drivers of vehicleClass within
// radiusMeters of p, closest first, skipping every id in excluding.
func (s *Service) FindNearbyDrivers(ctx context.Context, p types.Point, vehicleClass string, radiusMeters float64, excluding []types.ID) ([]Nearby, error) {
	hits, err := s.index.Search(ctx, p, vehicleClass, radiusMeters)
	if err != nil {
		return nil, err
	}
	if len(excluding) == 0 {
		return hits, nil
	}
	skip := make(map[types.ID]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}
	out := hits[:0]
	for _, h := range hits {
		if _, ok := skip[h.DriverID]; !ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// Withdraw removes an assigned driver from candidate searches.
func (s *Service) Withdraw(ctx context.Context, driverID types.ID, vehicleClass string) error {
	return s.index.Remove(ctx, driverID, vehicleClass)
}

// Restore puts a released driver back into candidate searches.
func (s *Service) Restore(ctx context.Context, c Candidate) error {
	return s.index.Add(ctx, c)
}

func (s *Service) RecordOffer(ctx context.Context, moveID, driverID types.ID) error {
	return s.ledger.RecordOffer(ctx, moveID, driverID)
}

func (s *Service) Offered(ctx context.Context, moveID types.ID) ([]types.ID, error) {
	return s.ledger.Offered(ctx, moveID)
}

func (s *Service) SaveRound(ctx context.Context, moveID types.ID, r Round) error {
	return s.ledger.SaveRound(ctx, moveID, r)
}

func (s *Service) LoadRound(ctx context.Context, moveID types.ID) (Round, error) {
	return s.ledger.LoadRound(ctx, moveID)
}

func (s *Service) ClaimLease(ctx context.Context, moveID types.ID, ttl time.Duration) (bool, error) {
	return s.ledger.ClaimLease(ctx, moveID, ttl)
}

func (s *Service) RefreshLease(ctx context.Context, moveID types.ID, ttl time.Duration) error {
	return s.ledger.RefreshLease(ctx, moveID, ttl)
}

func (s *Service) Forget(ctx context.Context, moveID types.ID) error {
	return s.ledger.Forget(ctx, moveID)
}
