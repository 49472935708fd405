package handler // declare the package name; contains HTTP handlers

import (
	"net/http" // status codes

	"github.com/labstack/echo/v4" // Echo context
)

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems to verify that the agent is running.  It returns a
// plain text "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok") // plain text, no JSON envelope
}
