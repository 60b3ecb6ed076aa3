// README: Driver availability record.
package driver

import (
	"fmt"
	"time"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

// Driver is keyed by the authenticated user id.
type Driver struct {
	ID           types.ID     `json:"id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone"`
	VehicleClass string       `json:"vehicle_class"`
	VehiclePlate string       `json:"vehicle_plate"`
	Available    bool         `json:"available"`
	Approved     bool         `json:"approved"`
	Location     *types.Point `json:"location,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Summary is what a customer sees about the assigned driver.
type Summary struct {
	ID           types.ID `json:"id"`
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	VehicleClass string   `json:"vehicle_class"`
	VehiclePlate string   `json:"vehicle_plate"`
}

func (d *Driver) Summary() Summary {
	return Summary{
		ID:           d.ID,
		Name:         d.Name,
		Phone:        d.Phone,
		VehicleClass: d.VehicleClass,
		VehiclePlate: d.VehiclePlate,
	}
}

func (d *Driver) Clone() *Driver {
	cp := *d
	if d.Location != nil {
		p := *d.Location
		cp.Location = &p
	}
	return &cp
}

var (
	ErrDriverBusy        = fmt.Errorf("%w: driver has an active move", move.ErrConflict)
	ErrClassChange       = fmt.Errorf("%w: vehicle class cannot change after registration", move.ErrConflict)
	ErrDriverNotApproved = move.ErrDriverNotApproved
	ErrNotFound          = move.ErrDriverNotFound
)
