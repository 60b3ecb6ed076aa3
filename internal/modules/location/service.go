// README: Location service handles driver position pings.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

// DriverLocator persists the last known driver position.
type DriverLocator interface {
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) (*driver.Driver, error)
}

type Index interface {
	Restore(ctx context.Context, c matching.Candidate) error
}

type Service struct {
	drivers DriverLocator
	store   Store
	index   Index
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(drivers DriverLocator, store Store, index Index, log zerolog.Logger) *Service {
	return &Service{
		drivers: drivers,
		store:   store,
		index:   index,
		log:     log.With().Str("component", "location").Logger(),
		now:     time.Now,
	}
}

type Update struct {
	DriverID  types.ID
	Position  types.Point
	AccuracyM float64
}

// Update records the ping and moves an available driver inside the geo index.
// Assigned drivers stay out of the index.
func (s *Service) Update(ctx context.Context, u Update) error {
	if !u.Position.Valid() {
		return fmt.Errorf("%w: position out of range", move.ErrValidation)
	}
	now := s.now().UTC()
	d, err := s.drivers.UpdateLocation(ctx, u.DriverID, u.Position, now)
	if err != nil {
		return err
	}
	if err := s.store.AppendSnapshot(ctx, Snapshot{
		DriverID:   u.DriverID,
		Position:   u.Position,
		AccuracyM:  u.AccuracyM,
		RecordedAt: now,
	}); err != nil {
		// history is best-effort; the authoritative position is already stored
		s.log.Warn().Err(err).Str("driver_id", string(u.DriverID)).Msg("append snapshot failed")
	}
	if d.Available && d.Approved {
		if err := s.index.Restore(ctx, matching.Candidate{DriverID: d.ID, VehicleClass: d.VehicleClass, Position: u.Position}); err != nil {
			s.log.Warn().Err(err).Str("driver_id", string(u.DriverID)).Msg("geo index refresh failed")
		}
	}
	return nil
}

func (s *Service) Recent(ctx context.Context, driverID types.ID, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.RecentSnapshots(ctx, driverID, limit)
}
