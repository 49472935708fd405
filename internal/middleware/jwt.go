package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo middleware types

	"github.com/iliyamo/cinema-seat-sync/internal/utils"
)

// ControlAuth returns an Echo middleware that validates a Bearer control
// token and injects its subject into the request context as "operator".
// An empty secret disables the check: the control API is then expected
// to listen on a trusted interface only.
func ControlAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		return func(c echo.Context) error {
			// A valid header starts with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ") // raw JWT string

			claims, err := utils.ParseControlToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set("operator", claims["sub"]) // available to handlers via c.Get("operator")
			return next(c)
		}
	}
}
