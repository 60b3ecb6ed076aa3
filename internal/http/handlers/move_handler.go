// README: Move handlers for customers (create/get/cancel) and drivers (accept/reject/status).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/http/middleware"
	"movedispatch/internal/modules/dispatch"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

// Dispatcher is the engine surface the HTTP layer drives.
type Dispatcher interface {
	Create(ctx context.Context, cmd dispatch.CreateCommand) (*move.Move, error)
	Accept(ctx context.Context, moveID, driverID types.ID) (*move.Move, error)
	Reject(ctx context.Context, moveID, driverID types.ID, reason string) error
	AdvanceStatus(ctx context.Context, moveID, driverID types.ID, to move.Status) (*move.Move, error)
	Cancel(ctx context.Context, moveID, actorID types.ID, role move.Role, reason string) (*move.Move, error)
	GetMove(ctx context.Context, moveID, requesterID types.ID, role move.Role) (*dispatch.MoveView, error)
	Events(ctx context.Context, moveID, requesterID types.ID, role move.Role) ([]move.Event, error)
}

// Geocoder resolves an address when the client sent no coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Location, error)
}

type MoveHandler struct {
	engine   Dispatcher
	geocoder Geocoder
}

// NewMoveHandler wires the handler; geocoder may be nil.
func NewMoveHandler(engine Dispatcher, geocoder Geocoder) *MoveHandler {
	return &MoveHandler{engine: engine, geocoder: geocoder}
}

type locationReq struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (l locationReq) toLocation() types.Location {
	return types.Location{Address: l.Address, Point: types.Point{Lat: l.Lat, Lng: l.Lng}}
}

func (h *MoveHandler) resolve(ctx context.Context, l locationReq) (types.Location, error) {
	loc := l.toLocation()
	if h.geocoder == nil || loc.Point != (types.Point{}) || l.Address == "" {
		return loc, nil
	}
	found, err := h.geocoder.Geocode(ctx, l.Address)
	if err != nil {
		return types.Location{}, fmt.Errorf("%w: geocode %q: %v", move.ErrUpstream, l.Address, err)
	}
	return found, nil
}

type createMoveReq struct {
	CustomerID    string      `json:"customer_id"`
	Pickup        locationReq `json:"pickup"`
	Delivery      locationReq `json:"delivery"`
	VehicleClass  string      `json:"vehicle_class"`
	Items         []move.Item `json:"items"`
	ScheduledFor  *time.Time  `json:"scheduled_for"`
	PaymentMethod string      `json:"payment_method"`
}

// Create handles POST /api/moves. Customers create moves for themselves only.
func (h *MoveHandler) Create(c *gin.Context) {
	var req createMoveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	uid := middleware.CallerUID(c)
	if req.CustomerID != "" && req.CustomerID != uid {
		writeError(c, http.StatusForbidden, "forbidden: customer_id does not match authenticated user")
		return
	}
	ctx := c.Request.Context()
	pickup, err := h.resolve(ctx, req.Pickup)
	if err != nil {
		writeMoveError(c, err)
		return
	}
	delivery, err := h.resolve(ctx, req.Delivery)
	if err != nil {
		writeMoveError(c, err)
		return
	}
	m, err := h.engine.Create(ctx, dispatch.CreateCommand{
		CustomerID:    types.ID(uid),
		Pickup:        pickup,
		Delivery:      delivery,
		VehicleClass:  req.VehicleClass,
		Items:         req.Items,
		ScheduledFor:  req.ScheduledFor,
		PaymentMethod: move.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toMoveResp(m))
}

// Get handles GET /api/moves/:id.
func (h *MoveHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.engine.GetMove(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)), move.Role(middleware.CallerRole(c)))
	if err != nil {
		writeMoveError(c, err)
		return
	}
	resp := toMoveResp(view.Move)
	resp.Solicitation = view.Solicitation
	writeJSON(c, http.StatusOK, resp)
}

// Events handles GET /api/moves/:id/events.
func (h *MoveHandler) Events(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.engine.Events(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)), move.Role(middleware.CallerRole(c)))
	if err != nil {
		writeMoveError(c, err)
		return
	}
	out := make([]eventResp, 0, len(events))
	for _, e := range events {
		out = append(out, eventResp{From: e.FromStatus, To: e.ToStatus, Role: e.Role, ActorID: e.ActorID, Reason: e.Reason, At: e.CreatedAt})
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": out})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /api/moves/:id/cancel for any role; the engine decides
// whether the caller may cancel in the current state.
func (h *MoveHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	m, err := h.engine.Cancel(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)), move.Role(middleware.CallerRole(c)), req.Reason)
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toMoveResp(m))
}

// Accept handles POST /api/drivers/moves/:id/accept.
func (h *MoveHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := h.engine.Accept(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toMoveResp(m))
}

type rejectReq struct {
	Reason string `json:"reason"`
}

// Reject handles POST /api/drivers/moves/:id/reject.
func (h *MoveHandler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rejectReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if err := h.engine.Reject(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)), req.Reason); err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "rejected"})
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

// Advance handles POST /api/drivers/moves/:id/status.
func (h *MoveHandler) Advance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing status")
		return
	}
	m, err := h.engine.AdvanceStatus(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)), move.Status(req.Status))
	if err != nil {
		writeMoveError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toMoveResp(m))
}

type moveResp struct {
	ID           types.ID                   `json:"id"`
	CustomerID   types.ID                   `json:"customer_id"`
	DriverID     *types.ID                  `json:"driver_id,omitempty"`
	Status       move.Status                `json:"status"`
	Version      int                        `json:"version"`
	Pickup       types.Location             `json:"pickup"`
	Delivery     types.Location             `json:"delivery"`
	VehicleClass string                     `json:"vehicle_class"`
	Items        []move.Item                `json:"items"`
	Pricing      move.Pricing               `json:"pricing"`
	Payment      move.Payment               `json:"payment"`
	Cancellation *move.Cancellation         `json:"cancellation,omitempty"`
	ScheduledFor *time.Time                 `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	AcceptedAt   *time.Time                 `json:"accepted_at,omitempty"`
	DeliveredAt  *time.Time                 `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time                 `json:"cancelled_at,omitempty"`
	Solicitation *dispatch.SolicitationView `json:"solicitation,omitempty"`
}

func toMoveResp(m *move.Move) moveResp {
	return moveResp{
		ID:           m.ID,
		CustomerID:   m.CustomerID,
		DriverID:     m.DriverID,
		Status:       m.Status,
		Version:      m.Version,
		Pickup:       m.Pickup,
		Delivery:     m.Delivery,
		VehicleClass: m.VehicleClass,
		Items:        m.Items,
		Pricing:      m.Pricing,
		Payment:      m.Payment,
		Cancellation: m.Cancellation,
		ScheduledFor: m.ScheduledFor,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		AcceptedAt:   m.AcceptedAt,
		DeliveredAt:  m.DeliveredAt,
		CancelledAt:  m.CancelledAt,
	}
}

type eventResp struct {
	From    move.Status `json:"from"`
	To      move.Status `json:"to"`
	Role    move.Role   `json:"role"`
	ActorID *types.ID   `json:"actor_id,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	At      time.Time   `json:"at"`
}
