package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/api/auth"
)

func (s *Server) attachLogRoutes(g *echo.Group) {
	g.GET("/logs", s.handleListLogs, auth.RequirePermission(auth.PermissionViewLogs))
}

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 200
)

func (s *Server) handleListLogs(c echo.Context) error {
	limit := defaultLogPageSize
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLogPageSize {
		limit = maxLogPageSize
	}
	offset := 0
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}

	ctx := c.Request().Context()
	entries, err := s.audit.List(ctx, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Audit log listing failed")
		return respondError(c, err)
	}
	total, err := s.audit.Count(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Audit log count failed")
		return respondError(c, err)
	}

	return respondOK(c, "Audit log retrieved", map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}
