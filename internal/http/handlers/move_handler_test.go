// README: Handler tests for move authorization checks and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/http/handlers"
	httpmiddleware "movedispatch/internal/http/middleware"
	"movedispatch/internal/infra"
	"movedispatch/internal/modules/dispatch"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

// stubDispatcher records the last command and returns err from every call.
type stubDispatcher struct {
	err        error
	created    dispatch.CreateCommand
	acceptedBy types.ID
	cancelRole move.Role
}

func (s *stubDispatcher) Create(_ context.Context, cmd dispatch.CreateCommand) (*move.Move, error) {
	s.created = cmd
	if s.err != nil {
		return nil, s.err
	}
	return &move.Move{ID: "m1", CustomerID: cmd.CustomerID, Status: move.StatusPending, Pickup: cmd.Pickup, Delivery: cmd.Delivery}, nil
}

func (s *stubDispatcher) Accept(_ context.Context, moveID, driverID types.ID) (*move.Move, error) {
	s.acceptedBy = driverID
	if s.err != nil {
		return nil, s.err
	}
	return &move.Move{ID: moveID, DriverID: &driverID, Status: move.StatusAccepted}, nil
}

func (s *stubDispatcher) Reject(context.Context, types.ID, types.ID, string) error {
	return s.err
}

func (s *stubDispatcher) AdvanceStatus(_ context.Context, moveID, _ types.ID, to move.Status) (*move.Move, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &move.Move{ID: moveID, Status: to}, nil
}

func (s *stubDispatcher) Cancel(_ context.Context, moveID, _ types.ID, role move.Role, _ string) (*move.Move, error) {
	s.cancelRole = role
	if s.err != nil {
		return nil, s.err
	}
	status, _ := move.CancelStatusFor(role)
	return &move.Move{ID: moveID, Status: status}, nil
}

func (s *stubDispatcher) GetMove(_ context.Context, moveID, _ types.ID, _ move.Role) (*dispatch.MoveView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dispatch.MoveView{Move: &move.Move{ID: moveID, Status: move.StatusPending}}, nil
}

func (s *stubDispatcher) Events(context.Context, types.ID, types.ID, move.Role) ([]move.Event, error) {
	return nil, s.err
}

type stubGeocoder struct {
	loc types.Location
	err error
}

func (g stubGeocoder) Geocode(context.Context, string) (types.Location, error) {
	return g.loc, g.err
}

// buildTestRouter wires a minimal Gin engine with the auth middleware and the move handler.
func buildTestRouter(verifier infra.TokenVerifier, engine handlers.Dispatcher, geocoder handlers.Geocoder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier))
	h := handlers.NewMoveHandler(engine, geocoder)
	r.POST("/api/moves", h.Create)
	r.GET("/api/moves/:id", h.Get)
	r.POST("/api/moves/:id/cancel", h.Cancel)
	driverOnly := r.Group("/api/drivers", httpmiddleware.RequireRole(httpmiddleware.RoleDriver))
	driverOnly.POST("/moves/:id/accept", h.Accept)
	driverOnly.POST("/moves/:id/status", h.Advance)
	return r
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createBody(customerID string) map[string]any {
	return map[string]any{
		"customer_id":    customerID,
		"pickup":         map[string]any{"address": "1 Pickup St", "lat": 25.03, "lng": 121.56},
		"delivery":       map[string]any{"address": "9 Delivery Rd", "lat": 25.05, "lng": 121.53},
		"vehicle_class":  "van",
		"payment_method": "cash",
	}
}

// TestCreate_Unauthenticated verifies that requests without a valid token are rejected.
func TestCreate_Unauthenticated(t *testing.T) {
	r := buildTestRouter(&stubTokenVerifier{err: errors.New("no token")}, &stubDispatcher{}, nil)
	w := doRequest(r, http.MethodPost, "/api/moves", createBody("abc123"), "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// TestCreate_WrongCustomerID verifies that a customer cannot create a move for another user.
func TestCreate_WrongCustomerID(t *testing.T) {
	engine := &stubDispatcher{}
	r := buildTestRouter(makeVerifier("realUID", ""), engine, nil)
	w := doRequest(r, http.MethodPost, "/api/moves", createBody("otherUID"), "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if engine.created.CustomerID != "" {
		t.Errorf("engine should not be called, got customer %q", engine.created.CustomerID)
	}
}

func TestCreate_UsesCallerUID(t *testing.T) {
	engine := &stubDispatcher{}
	r := buildTestRouter(makeVerifier("realUID", ""), engine, nil)
	w := doRequest(r, http.MethodPost, "/api/moves", createBody(""), "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if engine.created.CustomerID != "realUID" {
		t.Errorf("customer = %q, want realUID", engine.created.CustomerID)
	}
	if engine.created.PaymentMethod != move.PaymentCash {
		t.Errorf("payment method = %q", engine.created.PaymentMethod)
	}
}

func TestCreate_GeocodesAddressWithoutCoordinates(t *testing.T) {
	engine := &stubDispatcher{}
	geo := stubGeocoder{loc: types.Location{Address: "Resolved 1", Point: types.Point{Lat: 1, Lng: 2}}}
	r := buildTestRouter(makeVerifier("realUID", ""), engine, geo)
	body := createBody("")
	body["pickup"] = map[string]any{"address": "somewhere"}
	w := doRequest(r, http.MethodPost, "/api/moves", body, "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if engine.created.Pickup.Point != (types.Point{Lat: 1, Lng: 2}) {
		t.Errorf("pickup = %+v, want geocoded point", engine.created.Pickup)
	}
	if engine.created.Delivery.Address != "9 Delivery Rd" {
		t.Errorf("delivery with coordinates should be kept, got %+v", engine.created.Delivery)
	}
}

func TestCreate_GeocodeFailureIsBadGateway(t *testing.T) {
	engine := &stubDispatcher{}
	r := buildTestRouter(makeVerifier("realUID", ""), engine, stubGeocoder{err: errors.New("quota")})
	body := createBody("")
	body["delivery"] = map[string]any{"address": "nowhere"}
	w := doRequest(r, http.MethodPost, "/api/moves", body, "Bearer sometoken")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

// TestAccept_RequiresDriverRole checks that a user without the driver role cannot accept a move.
func TestAccept_RequiresDriverRole(t *testing.T) {
	engine := &stubDispatcher{}
	r := buildTestRouter(makeVerifier("driverUID", ""), engine, nil) // no role claim
	w := doRequest(r, http.MethodPost, "/api/drivers/moves/m1/accept", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if engine.acceptedBy != "" {
		t.Errorf("engine should not be called")
	}
}

// TestAccept_ActsAsCaller checks that a driver always accepts as themself.
func TestAccept_ActsAsCaller(t *testing.T) {
	engine := &stubDispatcher{}
	r := buildTestRouter(makeVerifier("driverA", "driver"), engine, nil)
	w := doRequest(r, http.MethodPost, "/api/drivers/moves/m1/accept?driver_id=driverB", nil, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if engine.acceptedBy != "driverA" {
		t.Errorf("accepted by %q, want driverA", engine.acceptedBy)
	}
}

func TestGet_InvalidID(t *testing.T) {
	r := buildTestRouter(makeVerifier("u1", ""), &stubDispatcher{}, nil)
	w := doRequest(r, http.MethodGet, "/api/moves/bad%20id!", nil, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCancel_PassesRoleFromClaims(t *testing.T) {
	engine := &stubDispatcher{}
	r := buildTestRouter(makeVerifier("admin1", "admin"), engine, nil)
	w := doRequest(r, http.MethodPost, "/api/moves/m1/cancel", map[string]any{"reason": "fraud"}, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if engine.cancelRole != move.RoleAdmin {
		t.Errorf("role = %q, want admin", engine.cancelRole)
	}
}

func TestAdvance_MissingStatus(t *testing.T) {
	r := buildTestRouter(makeVerifier("d1", "driver"), &stubDispatcher{}, nil)
	w := doRequest(r, http.MethodPost, "/api/drivers/moves/m1/status", map[string]any{}, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad input", move.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: not yours", move.ErrForbidden), http.StatusForbidden},
		{move.ErrMoveNotFound, http.StatusNotFound},
		{move.ErrDriverAssigned, http.StatusConflict},
		{fmt.Errorf("%w: delivered to pending", move.ErrInvalidTransition), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: pricing", move.ErrUpstream), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := buildTestRouter(makeVerifier("d1", "driver"), &stubDispatcher{err: tc.err}, nil)
		w := doRequest(r, http.MethodPost, "/api/drivers/moves/m1/status", map[string]any{"status": "picked_up"}, "Bearer sometoken")
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}
