// README: Driver service handles onboarding, approval and availability toggles.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

// Index is the slice of the matching service that availability changes touch.
type Index interface {
	Restore(ctx context.Context, c matching.Candidate) error
	Withdraw(ctx context.Context, driverID types.ID, vehicleClass string) error
}

type Service struct {
	store Store
	index Index
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(store Store, index Index, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		index: index,
		log:   log.With().Str("component", "driver").Logger(),
		now:   time.Now,
	}
}

type RegisterCommand struct {
	DriverID     types.ID
	Name         string
	Phone        string
	VehicleClass string
	VehiclePlate string
}

type SetAvailabilityCommand struct {
	DriverID  types.ID
	Available bool
	Position  *types.Point
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Driver, error) {
	if cmd.DriverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", move.ErrValidation)
	}
	class := strings.TrimSpace(cmd.VehicleClass)
	if class == "" {
		return nil, fmt.Errorf("%w: vehicle class is required", move.ErrValidation)
	}
	return s.store.Upsert(ctx, &Driver{
		ID:           cmd.DriverID,
		Name:         cmd.Name,
		Phone:        cmd.Phone,
		VehicleClass: class,
		VehiclePlate: cmd.VehiclePlate,
		UpdatedAt:    s.now().UTC(),
	})
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.GetDriver(ctx, id)
}

// SetAvailability toggles whether the driver can be solicited. Going
// available while assigned to a non-terminal move is refused.
func (s *Service) SetAvailability(ctx context.Context, cmd SetAvailabilityCommand) (*Driver, error) {
	now := s.now().UTC()
	if cmd.Position != nil {
		if !cmd.Position.Valid() {
			return nil, fmt.Errorf("%w: position out of range", move.ErrValidation)
		}
		if _, err := s.store.UpdateLocation(ctx, cmd.DriverID, *cmd.Position, now); err != nil {
			return nil, err
		}
	}
	d, err := s.store.SetAvailable(ctx, cmd.DriverID, cmd.Available, now)
	if err != nil {
		return nil, err
	}
	s.syncIndex(ctx, d)
	return d, nil
}

func (s *Service) Approve(ctx context.Context, id types.ID, approved bool) (*Driver, error) {
	d, err := s.store.SetApproved(ctx, id, approved, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.syncIndex(ctx, d)
	return d, nil
}

// syncIndex mirrors the stored availability into the geo index. The store is
// authoritative; index failures are logged and healed by the next update.
func (s *Service) syncIndex(ctx context.Context, d *Driver) {
	var err error
	if d.Available && d.Approved && d.Location != nil {
		err = s.index.Restore(ctx, matching.Candidate{DriverID: d.ID, VehicleClass: d.VehicleClass, Position: *d.Location})
	} else {
		err = s.index.Withdraw(ctx, d.ID, d.VehicleClass)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("driver_id", string(d.ID)).Msg("geo index sync failed")
	}
}

// Reindex pushes every available driver into the geo index. Run at startup
// so an empty or flushed index does not hide drivers until their next ping.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	drivers, err := s.store.ListAvailable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list available drivers: %w", err)
	}
	n := 0
	for _, d := range drivers {
		if !d.Approved || d.Location == nil {
			continue
		}
		if err := s.index.Restore(ctx, matching.Candidate{DriverID: d.ID, VehicleClass: d.VehicleClass, Position: *d.Location}); err != nil {
			return n, fmt.Errorf("restore %s: %w", d.ID, err)
		}
		n++
	}
	s.log.Info().Int("drivers", n).Msg("geo index rebuilt")
	return n, nil
}
