// README: In-memory move and driver store; one mutex covers both so Apply is atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/location"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type Store struct {
	mu        sync.Mutex
	moves     map[types.ID]*move.Move
	events    map[types.ID][]move.Event
	drivers   map[types.ID]*driver.Driver
	snapshots map[types.ID][]location.Snapshot
	nextEvent int64
	nextSnap  int64
}

func New() *Store {
	return &Store{
		moves:     make(map[types.ID]*move.Move),
		events:    make(map[types.ID][]move.Event),
		drivers:   make(map[types.ID]*driver.Driver),
		snapshots: make(map[types.ID][]location.Snapshot),
	}
}

// Moves.

func (s *Store) Create(_ context.Context, m *move.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moves[m.ID]; ok {
		return move.ErrConflict
	}
	s.moves[m.ID] = m.Clone()
	actor := m.CustomerID
	s.appendEventLocked(move.Event{
		MoveID:     m.ID,
		FromStatus: move.StatusNone,
		ToStatus:   m.Status,
		Role:       move.RoleCustomer,
		ActorID:    &actor,
		CreatedAt:  m.CreatedAt,
	})
	return nil
}

func (s *Store) Get(_ context.Context, id types.ID) (*move.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moves[id]
	if !ok {
		return nil, move.ErrMoveNotFound
	}
	return m.Clone(), nil
}

func (s *Store) GetByPaymentReference(_ context.Context, ref string) (*move.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.moves {
		if ref != "" && m.Payment.Reference == ref {
			return m.Clone(), nil
		}
	}
	return nil, move.ErrMoveNotFound
}

func (s *Store) HasActiveByCustomer(_ context.Context, customerID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.moves {
		if m.CustomerID == customerID && !m.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListPending(_ context.Context, limit int) ([]*move.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*move.Move
	for _, m := range s.moves {
		if m.Status == move.StatusPending {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Apply(_ context.Context, c move.Change) (*move.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.moves[c.MoveID]
	if !ok {
		return nil, move.ErrMoveNotFound
	}
	if cur.Status != c.From || cur.Version != c.Version {
		return nil, move.ErrConflict
	}
	if c.AssignDriver != nil && cur.DriverID != nil {
		return nil, move.ErrConflict
	}

	var claimed, released *driver.Driver
	if c.AssignDriver != nil {
		d, ok := s.drivers[*c.AssignDriver]
		switch {
		case !ok:
			return nil, move.ErrDriverNotFound
		case !d.Approved:
			return nil, move.ErrDriverNotApproved
		case d.VehicleClass != c.VehicleClass:
			return nil, move.ErrVehicleMismatch
		case !d.Available:
			return nil, move.ErrDriverUnavailable
		}
		claimed = d
	}
	if c.ReleaseDriver != nil {
		released = s.drivers[*c.ReleaseDriver]
	}

	// All checks passed; mutate.
	next := cur.Clone()
	next.Status = c.To
	next.Version++
	next.StampTransition(c.To, c.At)
	if c.AssignDriver != nil {
		id := *c.AssignDriver
		next.DriverID = &id
	}
	if c.PaymentStatus != "" {
		next.Payment.Status = c.PaymentStatus
	}
	if c.Cancellation != nil {
		cp := *c.Cancellation
		next.Cancellation = &cp
	}
	s.moves[c.MoveID] = next

	if claimed != nil {
		claimed.Available = false
		claimed.UpdatedAt = c.At
	}
	if released != nil {
		released.Available = true
		if c.ReleaseAt != nil {
			p := *c.ReleaseAt
			released.Location = &p
		}
		released.UpdatedAt = c.At
	}
	s.appendEventLocked(move.Event{
		MoveID:     c.MoveID,
		FromStatus: c.From,
		ToStatus:   c.To,
		Role:       c.Role,
		ActorID:    c.ActorID,
		Reason:     c.Reason,
		CreatedAt:  c.At,
	})
	return next.Clone(), nil
}

func (s *Store) UpdatePayment(_ context.Context, id types.ID, from move.PaymentStatus, p move.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moves[id]
	if !ok {
		return false, move.ErrMoveNotFound
	}
	if m.Payment.Status != from {
		return false, nil
	}
	m.Payment.Status = p.Status
	if p.Reference != "" {
		m.Payment.Reference = p.Reference
	}
	if p.URL != "" {
		m.Payment.URL = p.URL
	}
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) Events(_ context.Context, id types.ID) ([]move.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]move.Event(nil), s.events[id]...), nil
}

func (s *Store) appendEventLocked(e move.Event) {
	s.nextEvent++
	e.ID = s.nextEvent
	s.events[e.MoveID] = append(s.events[e.MoveID], e)
}

// Drivers.

func (s *Store) Upsert(_ context.Context, d *driver.Driver) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.drivers[d.ID]
	if !ok {
		cp := d.Clone()
		cp.Available = false
		cp.Approved = false
		cp.Location = nil
		s.drivers[d.ID] = cp
		return cp.Clone(), nil
	}
	if cur.VehicleClass != d.VehicleClass {
		return nil, driver.ErrClassChange
	}
	cur.Name = d.Name
	cur.Phone = d.Phone
	cur.VehiclePlate = d.VehiclePlate
	cur.UpdatedAt = d.UpdatedAt
	return cur.Clone(), nil
}

func (s *Store) GetDriver(_ context.Context, id types.ID) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Store) SetAvailable(_ context.Context, id types.ID, available bool, at time.Time) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	if available {
		if !d.Approved {
			return nil, driver.ErrDriverNotApproved
		}
		for _, m := range s.moves {
			if m.HasDriver(id) && !m.Status.Terminal() {
				return nil, driver.ErrDriverBusy
			}
		}
	}
	d.Available = available
	d.UpdatedAt = at
	return d.Clone(), nil
}

func (s *Store) SetApproved(_ context.Context, id types.ID, approved bool, at time.Time) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	d.Approved = approved
	if !approved {
		d.Available = false
	}
	d.UpdatedAt = at
	return d.Clone(), nil
}

func (s *Store) UpdateLocation(_ context.Context, id types.ID, p types.Point, at time.Time) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	d.Location = &p
	d.UpdatedAt = at
	return d.Clone(), nil
}

func (s *Store) ListAvailable(_ context.Context) ([]*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*driver.Driver
	for _, d := range s.drivers {
		if d.Available && d.Approved && d.Location != nil {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Location snapshots.

func (s *Store) AppendSnapshot(_ context.Context, snap location.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSnap++
	snap.ID = s.nextSnap
	s.snapshots[snap.DriverID] = append(s.snapshots[snap.DriverID], snap)
	return nil
}

func (s *Store) RecentSnapshots(_ context.Context, driverID types.ID, limit int) ([]location.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.snapshots[driverID]
	out := make([]location.Snapshot, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}
