package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// RegisterHandlers attaches the auth endpoints.
func RegisterHandlers(v1 *echo.Group, db *sql.DB, tokenService *TokenService) {
	users := NewUserStore(db)
	group := v1.Group("/auth")
	group.POST("/login", loginHandler(users, tokenService))
	group.GET("/me", meHandler(), RequireAuth(tokenService))
}

func loginHandler(users *UserStore, tokenService *TokenService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req LoginRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
		if req.Email == "" || req.Password == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "Email and password are required")
		}

		user, err := users.Authenticate(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
			}
			log.Error().Err(err).Msg("Login failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
		}

		token, expiresAt, err := tokenService.CreateAccessToken(user)
		if err != nil {
			log.Error().Err(err).Msg("Token creation failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
		}

		log.Info().Str("email", user.Email).Str("role", user.Role).Msg("Admin login")
		return c.JSON(http.StatusOK, LoginResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresAt:   expiresAt,
			User:        user,
		})
	}
}

func meHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := GetAuthContext(c)
		if actor == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
		}
		return c.JSON(http.StatusOK, actor)
	}
}
