// README: In-process index and ledger for tests and single-node dev runs.
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"movedispatch/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	drivers map[string]map[types.ID]types.Point
	offered map[types.ID][]types.ID
	rounds  map[types.ID]Round
	leases  map[types.ID]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers: make(map[string]map[types.ID]types.Point),
		offered: make(map[types.ID][]types.ID),
		rounds:  make(map[types.ID]Round),
		leases:  make(map[types.ID]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Add(_ context.Context, c Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byClass, ok := s.drivers[c.VehicleClass]
	if !ok {
		byClass = make(map[types.ID]types.Point)
		s.drivers[c.VehicleClass] = byClass
	}
	byClass[c.DriverID] = c.Position
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, driverID types.ID, vehicleClass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drivers[vehicleClass], driverID)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, p types.Point, vehicleClass string, radiusMeters float64) ([]Nearby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byClass := s.drivers[vehicleClass]
	ids := make([]types.ID, 0, len(byClass))
	for id := range byClass {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []Nearby
	for _, id := range ids {
		d := distanceMeters(p, byClass[id])
		if d <= radiusMeters {
			out = append(out, Nearby{DriverID: id, DistanceMeters: d})
		}
	}
	// insertion sort is stable, so equal distances keep id order
	sortByDistance(out, func(n Nearby) float64 { return n.DistanceMeters })
	return out, nil
}

// Has reports whether the driver is indexed under vehicleClass.
func (s *MemoryStore) Has(driverID types.ID, vehicleClass string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.drivers[vehicleClass][driverID]
	return ok
}

func (s *MemoryStore) RecordOffer(_ context.Context, moveID, driverID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.offered[moveID] {
		if d == driverID {
			return nil
		}
	}
	s.offered[moveID] = append(s.offered[moveID], driverID)
	return nil
}

func (s *MemoryStore) Offered(_ context.Context, moveID types.ID) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ID(nil), s.offered[moveID]...), nil
}

func (s *MemoryStore) SaveRound(_ context.Context, moveID types.ID, r Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[moveID] = r
	return nil
}

func (s *MemoryStore) LoadRound(_ context.Context, moveID types.ID) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[moveID], nil
}

func (s *MemoryStore) ClaimLease(_ context.Context, moveID types.ID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.leases[moveID]; ok && s.now().Before(exp) {
		return false, nil
	}
	s.leases[moveID] = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) RefreshLease(_ context.Context, moveID types.ID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[moveID] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, moveID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, moveID)
	delete(s.offered, moveID)
	delete(s.rounds, moveID)
	return nil
}
