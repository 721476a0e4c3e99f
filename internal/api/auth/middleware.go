package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for echo context values.
type ContextKey string

// AuthContextKey is where the middleware stores the actor context.
const AuthContextKey ContextKey = "auth_context"

// RequireAuth validates the Bearer token and stores the AuthContext on the
// request.
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			actor, err := tokenService.ValidateAccessToken(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(AuthContextKey), actor)
			return next(c)
		}
	}
}

// RequirePermission gates a route group on one permission. Must run after
// RequireAuth.
func RequirePermission(permission Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := GetAuthContext(c)
			if actor == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}
			if err := actor.RequirePermission(permission); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
			}
			return next(c)
		}
	}
}

// GetAuthContext returns the actor for the request, or nil outside
// authenticated routes.
func GetAuthContext(c echo.Context) *AuthContext {
	actor, _ := c.Get(string(AuthContextKey)).(*AuthContext)
	return actor
}
