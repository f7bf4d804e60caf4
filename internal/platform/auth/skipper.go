package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicPaths lists infrastructure endpoints that bypass authentication.
var publicPaths = map[string]bool{
	"/health":          true,
	"/health/backends": true,
	"/metrics":         true,
}

// AuthSkipper returns true for requests that need no verified caller: the
// public infrastructure paths, and reads that carry no Authorization header.
// A read that does present a token is still verified so handlers see the
// caller. Writes are never skipped.
func AuthSkipper(c echo.Context) bool {
	if IsPublicPath(c.Path()) {
		return true
	}
	switch c.Request().Method {
	case http.MethodGet, http.MethodHead:
		return c.Request().Header.Get("Authorization") == ""
	}
	return false
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
