// README: Matching candidates and the Redis key layout.
package matching

import (
	"time"

	"movedispatch/internal/types"
)

// Candidate is an available driver placed in the index of its vehicle class.
type Candidate struct {
	DriverID     types.ID
	VehicleClass string
	Position     types.Point
}

// Nearby is one search hit, closest first.
type Nearby struct {
	DriverID       types.ID
	DistanceMeters float64
}

// Round is the durable copy of a move's live solicitation round. DriverID is
// empty between offers.
type Round struct {
	Attempt   int
	DriverID  types.ID
	ExpiresAt time.Time
}

// Targets reports whether driverID holds an unexpired offer in r.
func (r Round) Targets(driverID types.ID, now time.Time) bool {
	return driverID != "" && r.DriverID == driverID && now.Before(r.ExpiresAt)
}

const (
	driverGeoKeyPrefix = "matching:drivers:%s"
	offeredKeyPrefix   = "matching:move:%s:offered"
	roundKeyPrefix     = "matching:move:%s:round"
	leaseKeyPrefix     = "matching:move:%s:lease"
	// TTL for per-move keys (moves resolve well within a day).
	keyTTL = 24 * time.Hour
)
