// README: Admin handlers for driver approval and manual re-dispatch.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/modules/driver"
	"movedispatch/internal/types"
)

type Reconciler interface {
	Resume(ctx context.Context, moveID types.ID) error
	Sweep(ctx context.Context) (int, error)
}

type AdminHandler struct {
	drivers    *driver.Service
	reconciler Reconciler
}

func NewAdminHandler(drivers *driver.Service, reconciler Reconciler) *AdminHandler {
	return &AdminHandler{drivers: drivers, reconciler: reconciler}
}

type approveReq struct {
	Approved *bool `json:"approved" binding:"required"`
}

// Approve handles POST /api/admin/drivers/:id/approval.
func (h *AdminHandler) Approve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req approveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing approved")
		return
	}
	d, err := h.drivers.Approve(c.Request.Context(), types.ID(id), *req.Approved)
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// Resume handles POST /api/admin/moves/:id/resume.
func (h *AdminHandler) Resume(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.reconciler.Resume(c.Request.Context(), types.ID(id)); err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, map[string]any{"status": "resumed"})
}

// Sweep handles POST /api/admin/sweep.
func (h *AdminHandler) Sweep(c *gin.Context) {
	n, err := h.reconciler.Sweep(c.Request.Context())
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"resumed": n})
}
