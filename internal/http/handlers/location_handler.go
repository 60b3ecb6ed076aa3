// README: Location handlers for driver pings and history.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/http/middleware"
	"movedispatch/internal/modules/location"
	"movedispatch/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationUpdateReq struct {
	Lat       *float64 `json:"lat" binding:"required"`
	Lng       *float64 `json:"lng" binding:"required"`
	AccuracyM float64  `json:"accuracy_m"`
}

// Update handles PUT /api/drivers/:id/location.
func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	// Only the authenticated driver may update their own location.
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req locationUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing lat or lng")
		return
	}
	err := h.location.Update(c.Request.Context(), location.Update{
		DriverID:  types.ID(id),
		Position:  types.Point{Lat: *req.Lat, Lng: *req.Lng},
		AccuracyM: req.AccuracyM,
	})
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

// History handles GET /api/drivers/:id/location/history for the driver or an admin.
func (h *LocationHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if middleware.CallerRole(c) != middleware.RoleAdmin && middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	snaps, err := h.location.Recent(c.Request.Context(), types.ID(id), limit)
	if err != nil {
		writeMoveError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, map[string]any{
			"lat":         s.Position.Lat,
			"lng":         s.Position.Lng,
			"accuracy_m":  s.AccuracyM,
			"recorded_at": s.RecordedAt,
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"snapshots": out})
}
