// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"movedispatch/internal/http/handlers"
	"movedispatch/internal/http/middleware"
	"movedispatch/internal/infra"
	"movedispatch/internal/modules/dispatch"
	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/location"
	"movedispatch/internal/modules/notify"
	"movedispatch/internal/observability"
)

type ServerDeps struct {
	Engine   *dispatch.Engine
	Drivers  *driver.Service
	Location *location.Service
	Hub      *notify.Hub
	// Geocoder is optional; leave nil when no maps key is configured.
	Geocoder      handlers.Geocoder
	Verifier      infra.TokenVerifier
	Metrics       *observability.Metrics
	MetricsPath   string
	WebhookSecret string
	Log           zerolog.Logger
}

func NewRouter(d ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log), middleware.Metrics(d.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if d.Metrics != nil && d.MetricsPath != "" {
		r.GET(d.MetricsPath, gin.WrapH(d.Metrics.Handler()))
	}

	payments := handlers.NewPaymentHandler(d.Engine, d.WebhookSecret)
	r.POST("/api/payments/webhook", payments.Webhook)

	authed := r.Group("/", middleware.Auth(d.Verifier))

	ws := handlers.NewWSHandler(d.Hub)
	authed.GET("/ws", ws.Connect)

	moves := handlers.NewMoveHandler(d.Engine, d.Geocoder)
	authed.POST("/api/moves", middleware.RequireRole(middleware.RoleCustomer), moves.Create)
	authed.GET("/api/moves/:id", moves.Get)
	authed.GET("/api/moves/:id/events", moves.Events)
	authed.POST("/api/moves/:id/cancel", moves.Cancel)

	drivers := handlers.NewDriverHandler(d.Drivers)
	locations := handlers.NewLocationHandler(d.Location)
	driverOnly := authed.Group("/api/drivers", middleware.RequireRole(middleware.RoleDriver))
	driverOnly.POST("/me", drivers.Register)
	driverOnly.GET("/me", drivers.Me)
	driverOnly.PUT("/me/availability", drivers.SetAvailability)
	driverOnly.PUT("/:id/location", locations.Update)
	driverOnly.POST("/moves/:id/accept", moves.Accept)
	driverOnly.POST("/moves/:id/reject", moves.Reject)
	driverOnly.POST("/moves/:id/status", moves.Advance)
	authed.GET("/api/drivers/:id/location/history", locations.History)

	admin := handlers.NewAdminHandler(d.Drivers, d.Engine)
	adminOnly := authed.Group("/api/admin", middleware.RequireRole(middleware.RoleAdmin))
	adminOnly.POST("/drivers/:id/approval", admin.Approve)
	adminOnly.POST("/moves/:id/resume", admin.Resume)
	adminOnly.POST("/sweep", admin.Sweep)

	return r
}
