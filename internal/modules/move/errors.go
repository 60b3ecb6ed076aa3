// README: Error taxonomy for move operations; specific errors wrap one of the kinds.
package move

import (
	"errors"
	"fmt"
)

// Kinds. Callers classify with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUpstream          = errors.New("upstream unavailable")
	ErrValidation        = errors.New("validation failed")
)

var (
	ErrMoveNotFound      = fmt.Errorf("%w: move", ErrNotFound)
	ErrDriverNotFound    = fmt.Errorf("%w: driver", ErrNotFound)
	ErrActiveMove        = fmt.Errorf("%w: customer already has an active move", ErrConflict)
	ErrDriverAssigned    = fmt.Errorf("%w: move already has a driver", ErrConflict)
	ErrDriverUnavailable = fmt.Errorf("%w: driver is not available", ErrConflict)
	ErrVehicleMismatch   = fmt.Errorf("%w: vehicle class does not match", ErrConflict)
	ErrNotOffered        = fmt.Errorf("%w: move is offered to another driver", ErrConflict)
	ErrDriverNotApproved = fmt.Errorf("%w: driver is not approved", ErrForbidden)
)
