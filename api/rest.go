// Package api provides HTTP middleware for API key authentication.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIKeyAuth returns middleware validating the "X-API-Key" request header
// against validKey, rejecting a missing or mismatched key with 401.
func APIKeyAuth(validKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-API-Key")
			if key == "" || key != validKey {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
			}
			return next(c)
		}
	}
}
