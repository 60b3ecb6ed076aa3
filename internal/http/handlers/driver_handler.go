// README: Driver handlers for onboarding and availability.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/http/middleware"
	"movedispatch/internal/modules/driver"
	"movedispatch/internal/types"
)

type DriverHandler struct {
	drivers *driver.Service
}

func NewDriverHandler(drivers *driver.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers}
}

type registerDriverReq struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	VehicleClass string `json:"vehicle_class"`
	VehiclePlate string `json:"vehicle_plate"`
}

// Register handles POST /api/drivers/me. The driver id is the caller's uid.
func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		DriverID:     types.ID(middleware.CallerUID(c)),
		Name:         req.Name,
		Phone:        req.Phone,
		VehicleClass: req.VehicleClass,
		VehiclePlate: req.VehiclePlate,
	})
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// Me handles GET /api/drivers/me.
func (h *DriverHandler) Me(c *gin.Context) {
	d, err := h.drivers.Get(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type availabilityReq struct {
	Available *bool    `json:"available" binding:"required"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

// SetAvailability handles PUT /api/drivers/me/availability.
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing available")
		return
	}
	cmd := driver.SetAvailabilityCommand{
		DriverID:  types.ID(middleware.CallerUID(c)),
		Available: *req.Available,
	}
	if req.Lat != nil && req.Lng != nil {
		cmd.Position = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	d, err := h.drivers.SetAvailability(c.Request.Context(), cmd)
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}
