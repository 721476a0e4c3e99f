package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/api/auth"
	"github.com/keygate/internal/auditlog"
	"github.com/keygate/internal/license"
	"github.com/keygate/internal/settings"
)

func (s *Server) attachSettingsRoutes(g *echo.Group) {
	secure := auth.RequirePermission(auth.PermissionManageSettings)
	g.GET("/settings", s.handleGetSettings, secure)
	g.PUT("/settings", s.handlePutSettings, secure)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	values, err := s.settings.All(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Settings read failed")
		return respondError(c, err)
	}
	return respondOK(c, "Settings retrieved", values)
}

// settableKeys are the keys PUT accepts, with a validator for each. Unknown
// keys are rejected rather than stored, so typos do not create dead entries.
var settableKeys = map[string]func(string) bool{
	settings.KeyDefaultValidityDays:   isPositiveInt,
	settings.KeyDefaultMaxActivations: isPositiveInt,
	settings.KeyExpiryNoticeDays:      isPositiveInt,
}

func isPositiveInt(v string) bool {
	n, err := strconv.Atoi(v)
	return err == nil && n > 0
}

func (s *Server) handlePutSettings(c echo.Context) error {
	var req map[string]string
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}
	if len(req) == 0 {
		return respondError(c, license.NewValidationError("", "no settings provided"))
	}

	for key, value := range req {
		valid, known := settableKeys[key]
		if !known {
			return respondError(c, license.NewValidationError(key, "unknown setting"))
		}
		if !valid(value) {
			return respondError(c, license.NewValidationError(key, "must be a positive integer"))
		}
	}

	ctx := c.Request().Context()
	for key, value := range req {
		if err := s.settings.Set(ctx, key, value); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Settings write failed")
			return respondError(c, err)
		}
	}

	s.auditEntry(c, auditlog.LevelInfo, "", "Settings updated", map[string]any{
		"keys": keysOf(req),
	})

	values, err := s.settings.All(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, "Settings updated", values)
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
