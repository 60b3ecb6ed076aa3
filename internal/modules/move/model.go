// README: Move aggregate, status definitions and the transition table.
package move

import (
	"time"

	"movedispatch/internal/types"
)

type Status string

const (
	StatusNone              Status = "none"
	StatusPending           Status = "pending"
	StatusAccepted          Status = "accepted"
	StatusArrivedAtPickup   Status = "arrived_at_pickup"
	StatusPickedUp          Status = "picked_up"
	StatusInTransit         Status = "in_transit"
	StatusArrivedAtDelivery Status = "arrived_at_delivery"
	StatusDelivered         Status = "delivered"

	StatusCancelledByCustomer Status = "cancelled_by_customer"
	StatusCancelledByDriver   Status = "cancelled_by_driver"
	StatusCancelledByAdmin    Status = "cancelled_by_admin"
	StatusNoDriversAvailable  Status = "no_drivers_available"
)

// Role identifies who is acting on a move.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentAwaiting  PaymentStatus = "awaiting"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

// Pricing is the snapshot taken at creation; it never changes afterwards.
type Pricing struct {
	Base     types.Money `json:"base"`
	Distance types.Money `json:"distance"`
	Total    types.Money `json:"total"`
	Route    Route       `json:"route"`
}

type Payment struct {
	Method    PaymentMethod `json:"method"`
	Status    PaymentStatus `json:"status"`
	Reference string        `json:"reference,omitempty"`
	URL       string        `json:"url,omitempty"`
}

type Cancellation struct {
	Reason  string    `json:"reason"`
	Role    Role      `json:"role"`
	ActorID types.ID  `json:"actor_id"`
	At      time.Time `json:"at"`
}

type Move struct {
	ID           types.ID
	CustomerID   types.ID
	DriverID     *types.ID
	Status       Status
	Version      int
	Pickup       types.Location
	Delivery     types.Location
	VehicleClass string
	Items        []Item
	Pricing      Pricing
	Payment      Payment
	Cancellation *Cancellation
	ScheduledFor *time.Time

	CreatedAt         time.Time
	UpdatedAt         time.Time
	AcceptedAt        *time.Time
	ArrivedPickupAt   *time.Time
	PickedUpAt        *time.Time
	InTransitAt       *time.Time
	ArrivedDeliveryAt *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// Event is one row of the audit trail; one is appended per transition.
type Event struct {
	ID         int64
	MoveID     types.ID
	FromStatus Status
	ToStatus   Status
	Role       Role
	ActorID    *types.ID
	Reason     string
	CreatedAt  time.Time
}

// AllowedTransitions represents the move state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending: {
		StatusAccepted, StatusNoDriversAvailable,
		StatusCancelledByCustomer, StatusCancelledByAdmin,
	},
	StatusAccepted: {
		StatusArrivedAtPickup,
		StatusCancelledByCustomer, StatusCancelledByDriver, StatusCancelledByAdmin,
	},
	StatusArrivedAtPickup: {
		StatusPickedUp,
		StatusCancelledByCustomer, StatusCancelledByDriver, StatusCancelledByAdmin,
	},
	StatusPickedUp: {
		StatusInTransit, StatusArrivedAtDelivery,
		StatusCancelledByCustomer, StatusCancelledByDriver, StatusCancelledByAdmin,
	},
	StatusInTransit: {
		StatusArrivedAtDelivery, StatusCancelledByAdmin,
	},
	StatusArrivedAtDelivery: {
		StatusDelivered, StatusCancelledByAdmin,
	},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelledByCustomer, StatusCancelledByDriver,
		StatusCancelledByAdmin, StatusNoDriversAvailable:
		return true
	}
	return false
}

// Progress reports whether s is a forward step a driver reports while moving the cargo.
func (s Status) Progress() bool {
	switch s {
	case StatusArrivedAtPickup, StatusPickedUp, StatusInTransit, StatusArrivedAtDelivery, StatusDelivered:
		return true
	}
	return false
}

// Cancelled reports whether s is one of the actor-specific cancellation states.
func (s Status) Cancelled() bool {
	return s == StatusCancelledByCustomer || s == StatusCancelledByDriver || s == StatusCancelledByAdmin
}

// ActiveStatuses lists every non-terminal status; used by active-move and availability checks.
func ActiveStatuses() []Status {
	return []Status{
		StatusPending, StatusAccepted, StatusArrivedAtPickup,
		StatusPickedUp, StatusInTransit, StatusArrivedAtDelivery,
	}
}

// CancelStatusFor maps an actor role to its cancellation state.
func CancelStatusFor(r Role) (Status, bool) {
	switch r {
	case RoleCustomer:
		return StatusCancelledByCustomer, true
	case RoleDriver:
		return StatusCancelledByDriver, true
	case RoleAdmin:
		return StatusCancelledByAdmin, true
	}
	return "", false
}

// CanCancel reports whether role may cancel a move currently in s.
func CanCancel(r Role, s Status) bool {
	switch r {
	case RoleCustomer:
		return s == StatusPending || s == StatusAccepted
	case RoleDriver:
		return s == StatusAccepted || s == StatusArrivedAtPickup
	case RoleAdmin:
		return !s.Terminal()
	}
	return false
}

// HasDriver reports whether d is the move's assigned driver.
func (m *Move) HasDriver(d types.ID) bool {
	return m.DriverID != nil && *m.DriverID == d
}

// Clone returns a deep copy safe to hand out of a store.
func (m *Move) Clone() *Move {
	cp := *m
	if m.DriverID != nil {
		d := *m.DriverID
		cp.DriverID = &d
	}
	if m.Items != nil {
		cp.Items = append([]Item(nil), m.Items...)
	}
	if m.Cancellation != nil {
		c := *m.Cancellation
		cp.Cancellation = &c
	}
	cp.ScheduledFor = cloneTime(m.ScheduledFor)
	cp.AcceptedAt = cloneTime(m.AcceptedAt)
	cp.ArrivedPickupAt = cloneTime(m.ArrivedPickupAt)
	cp.PickedUpAt = cloneTime(m.PickedUpAt)
	cp.InTransitAt = cloneTime(m.InTransitAt)
	cp.ArrivedDeliveryAt = cloneTime(m.ArrivedDeliveryAt)
	cp.DeliveredAt = cloneTime(m.DeliveredAt)
	cp.CancelledAt = cloneTime(m.CancelledAt)
	return &cp
}

// StampTransition sets the per-status timestamp for to.
func (m *Move) StampTransition(to Status, at time.Time) {
	t := at
	switch to {
	case StatusAccepted:
		m.AcceptedAt = &t
	case StatusArrivedAtPickup:
		m.ArrivedPickupAt = &t
	case StatusPickedUp:
		m.PickedUpAt = &t
	case StatusInTransit:
		m.InTransitAt = &t
	case StatusArrivedAtDelivery:
		m.ArrivedDeliveryAt = &t
	case StatusDelivered:
		m.DeliveredAt = &t
	case StatusCancelledByCustomer, StatusCancelledByDriver, StatusCancelledByAdmin:
		m.CancelledAt = &t
	}
	m.UpdatedAt = at
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
