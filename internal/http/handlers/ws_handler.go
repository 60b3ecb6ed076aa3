// README: WebSocket endpoint; each authenticated user receives their notifications here.
package handlers

import (
	"github.com/gin-gonic/gin"

	"movedispatch/internal/http/middleware"
	"movedispatch/internal/modules/notify"
	"movedispatch/internal/types"
)

type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Connect handles GET /ws.
func (h *WSHandler) Connect(c *gin.Context) {
	if err := h.hub.Serve(c.Writer, c.Request, types.ID(middleware.CallerUID(c))); err != nil {
		// the upgrader has already written the error response
		_ = c.Error(err)
	}
}
