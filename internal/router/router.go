package router // package router defines how HTTP routes are registered for the control API

import (
	"github.com/labstack/echo/v4" // Echo router
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp" // scrape handler

	"github.com/iliyamo/cinema-seat-sync/internal/handler"
	"github.com/iliyamo/cinema-seat-sync/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance: the health check and the Prometheus
// scrape endpoint for gatherer.
func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health) // liveness check for orchestrators
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterSession registers the session control routes under /v1/session.
// When controlSecret is set every route requires a control token.
func RegisterSession(e *echo.Echo, h *handler.SessionHandler, controlSecret string) {
	g := e.Group("/v1/session")
	g.Use(middleware.ControlAuth(controlSecret)) // no-op when the secret is empty

	// read-only view
	g.GET("", h.Get)
	g.GET("/notices", h.Notices)

	// actions
	g.POST("/seats/:id", h.SelectSeat)
	g.DELETE("/seats/:id", h.DeselectSeat)
	g.POST("/checkout", h.Checkout)
	g.POST("/handoff", h.HandOff)
	g.DELETE("/lease", h.Reset) // release everything and start over
}
