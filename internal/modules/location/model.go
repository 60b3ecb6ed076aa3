// README: Driver location snapshot for persistence and replay.
package location

import (
	"time"

	"movedispatch/internal/types"
)

type Snapshot struct {
	ID         int64
	DriverID   types.ID
	Position   types.Point
	AccuracyM  float64
	RecordedAt time.Time
}
