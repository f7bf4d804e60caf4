package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireCaller rejects requests that carry no caller identity. Role checks
// depend on entity state and live in the workflow services.
func RequireCaller() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if CallerFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "caller identity required")
			}
			return next(c)
		}
	}
}
