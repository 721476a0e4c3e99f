package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/license"
)

func (s *Server) attachReportRoutes(g *echo.Group) {
	g.GET("/reports/status-counts", s.handleStatusCounts)
	g.GET("/reports/expiring", s.handleExpiring)
}

func (s *Server) handleStatusCounts(c echo.Context) error {
	counts, err := s.svc.Store().CountByStatus(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Status count report failed")
		return respondError(c, err)
	}
	return respondOK(c, "Status counts retrieved", map[string]any{
		"counts": counts,
	})
}

const defaultExpiringDays = 30

func (s *Server) handleExpiring(c echo.Context) error {
	days := defaultExpiringDays
	if raw := c.QueryParam("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return respondError(c, license.NewValidationError("days", "must be a positive integer"))
		}
		days = v
	}

	licenses, err := s.svc.Store().ExpiringWithin(c.Request().Context(), days)
	if err != nil {
		log.Error().Err(err).Msg("Expiring report failed")
		return respondError(c, err)
	}
	return respondOK(c, "Expiring licenses retrieved", map[string]any{
		"days":     days,
		"licenses": licenses,
	})
}
