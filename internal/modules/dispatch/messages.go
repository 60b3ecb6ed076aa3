// README: Notification payloads and customer-facing status messages.
package dispatch

import (
	"time"

	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type OfferPayload struct {
	MoveID       types.ID       `json:"move_id"`
	Pickup       types.Location `json:"pickup"`
	Delivery     types.Location `json:"delivery"`
	VehicleClass string         `json:"vehicle_class"`
	Items        []move.Item    `json:"items"`
	Price        types.Money    `json:"price"`
	Route        move.Route     `json:"route"`
	Attempt      int            `json:"attempt"`
	DistanceM    float64        `json:"distance_m"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

type WithdrawnPayload struct {
	MoveID types.ID `json:"move_id"`
	Reason string   `json:"reason"`
}

type AcceptedPayload struct {
	MoveID     types.ID       `json:"move_id"`
	Driver     driver.Summary `json:"driver"`
	ETAMinutes *float64       `json:"eta_minutes,omitempty"`
}

type ConfirmedPayload struct {
	MoveID   types.ID       `json:"move_id"`
	Pickup   types.Location `json:"pickup"`
	Delivery types.Location `json:"delivery"`
	Items    []move.Item    `json:"items"`
	Price    types.Money    `json:"price"`
}

type FailurePayload struct {
	MoveID types.ID `json:"move_id"`
	Reason string   `json:"reason"`
}

type StatusPayload struct {
	MoveID  types.ID    `json:"move_id"`
	Status  move.Status `json:"status"`
	Message string      `json:"message"`
}

type CancelledPayload struct {
	MoveID      types.ID    `json:"move_id"`
	Status      move.Status `json:"status"`
	Reason      string      `json:"reason"`
	CancelledBy move.Role   `json:"cancelled_by"`
}

type PaymentPayload struct {
	MoveID types.ID           `json:"move_id"`
	Method move.PaymentMethod `json:"method"`
	Status move.PaymentStatus `json:"status"`
	Amount types.Money        `json:"amount"`
	URL    string             `json:"url,omitempty"`
}

var statusMessages = map[move.Status]string{
	move.StatusPending:             "Looking for a driver",
	move.StatusAccepted:            "A driver accepted your move",
	move.StatusArrivedAtPickup:     "Your driver has arrived at the pickup address",
	move.StatusPickedUp:            "Your items have been picked up",
	move.StatusInTransit:           "Your items are on the way",
	move.StatusArrivedAtDelivery:   "Your driver has arrived at the delivery address",
	move.StatusDelivered:           "Your move is complete",
	move.StatusCancelledByCustomer: "The move was cancelled by the customer",
	move.StatusCancelledByDriver:   "The move was cancelled by the driver",
	move.StatusCancelledByAdmin:    "The move was cancelled by support",
	move.StatusNoDriversAvailable:  "No drivers are available right now",
}

func statusMessage(s move.Status) string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return string(s)
}
