package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/api/auth"
	"github.com/keygate/internal/auditlog"
	"github.com/keygate/internal/license"
)

// attachLicenseRoutes registers the admin license CRUD and lifecycle
// endpoints. The group already requires a valid token; write routes add the
// matching permission on top.
func (s *Server) attachLicenseRoutes(g *echo.Group) {
	manage := auth.RequirePermission(auth.PermissionManageLicenses)

	g.GET("/licenses", s.handleListLicenses)
	g.GET("/licenses/:id", s.handleGetLicense)
	g.GET("/licenses/:id/activations", s.handleListActivations)
	g.GET("/activations", s.handleSearchActivations)

	g.POST("/licenses", s.handleCreateLicense, manage)
	g.PATCH("/licenses/:id", s.handleUpdateLicense, manage)
	g.POST("/licenses/:id/suspend", s.handleSuspendLicense, manage)
	g.POST("/licenses/:id/unsuspend", s.handleUnsuspendLicense, manage)
	g.POST("/licenses/:id/extend", s.handleExtendLicense, manage)
	g.POST("/licenses/:id/regenerate-key", s.handleRegenerateKey, manage)
	g.POST("/licenses/:id/activations/:domain/deactivate", s.handleAdminDeactivate, manage)

	g.POST("/licenses/:id/revoke", s.handleRevokeLicense, auth.RequirePermission(auth.PermissionRevokeLicenses))
	g.DELETE("/licenses/:id", s.handleDeleteLicense, auth.RequirePermission(auth.PermissionDeleteLicenses))
}

func licenseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, license.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

// CreateLicenseRequest is the admin payload for creating a license.
// MaxActivations and ExpiresAt fall back to the configured defaults.
type CreateLicenseRequest struct {
	ProductName    string     `json:"product_name"`
	CustomerName   string     `json:"customer_name"`
	CustomerEmail  string     `json:"customer_email"`
	AllowedDomains string     `json:"allowed_domains"`
	MaxActivations *int       `json:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at"`
	NeverExpires   bool       `json:"never_expires"`
	Notes          string     `json:"notes"`
}

func (s *Server) handleCreateLicense(c echo.Context) error {
	var req CreateLicenseRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}

	l, err := s.svc.Create(c.Request().Context(), license.CreateInput{
		ProductName:    req.ProductName,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		AllowedDomains: req.AllowedDomains,
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
		NeverExpires:   req.NeverExpires,
		Notes:          req.Notes,
	})
	if err != nil {
		if !license.IsValidation(err) {
			log.Error().Err(err).Msg("License creation failed")
		}
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelInfo, l.LicenseKey, "License created", map[string]any{
		"product":  l.ProductName,
		"customer": l.CustomerEmail,
	})
	return c.JSON(http.StatusCreated, Response{Success: true, Message: "License created", Data: l})
}

func (s *Server) handleListLicenses(c echo.Context) error {
	f := license.Filter{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		f.Offset = v
	}
	if f.Status != "" && !license.ValidStatus(f.Status) {
		return respondError(c, license.NewValidationError("status", "unknown status"))
	}

	ctx := c.Request().Context()
	licenses, err := s.svc.Store().List(ctx, f)
	if err != nil {
		log.Error().Err(err).Msg("License listing failed")
		return respondError(c, err)
	}
	total, err := s.svc.Store().CountWithFilters(ctx, f)
	if err != nil {
		log.Error().Err(err).Msg("License count failed")
		return respondError(c, err)
	}

	return respondOK(c, "Licenses retrieved", map[string]any{
		"licenses": licenses,
		"total":    total,
		"limit":    f.Limit,
		"offset":   f.Offset,
	})
}

func (s *Server) handleGetLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	l, err := s.svc.Store().GetByID(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, "License retrieved", l)
}

// UpdateLicenseRequest is the whitelist of fields a PATCH may touch. Absent
// fields are left alone; clear_expires_at nulls the expiry.
type UpdateLicenseRequest struct {
	ProductName    *string    `json:"product_name"`
	CustomerName   *string    `json:"customer_name"`
	CustomerEmail  *string    `json:"customer_email"`
	AllowedDomains *string    `json:"allowed_domains"`
	MaxActivations *int       `json:"max_activations"`
	Status         *string    `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ClearExpiresAt bool       `json:"clear_expires_at"`
	Notes          *string    `json:"notes"`
}

func (s *Server) handleUpdateLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req UpdateLicenseRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}

	l, err := s.svc.Update(c.Request().Context(), id, license.UpdateInput{
		ProductName:    req.ProductName,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		AllowedDomains: req.AllowedDomains,
		MaxActivations: req.MaxActivations,
		Status:         req.Status,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
		Notes:          req.Notes,
	})
	if err != nil {
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelInfo, l.LicenseKey, "License updated", nil)
	return respondOK(c, "License updated", l)
}

func (s *Server) handleDeleteLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	l, err := s.svc.Store().GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Delete(ctx, id); err != nil {
		log.Error().Err(err).Int64("license_id", id).Msg("License deletion failed")
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelWarning, l.LicenseKey, "License deleted", nil)
	return respondOK(c, "License deleted", nil)
}

// SuspendRequest is the optional body for POST /licenses/:id/suspend.
type SuspendRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSuspendLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req SuspendRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}

	ctx := c.Request().Context()
	l, err := s.svc.Store().GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	l, err = s.svc.Suspend(ctx, l.LicenseKey)
	if err != nil {
		return respondError(c, err)
	}

	extra := map[string]any{}
	if req.Reason != "" {
		extra["reason"] = req.Reason
	}
	s.auditEntry(c, auditlog.LevelWarning, l.LicenseKey, "License suspended", extra)
	return respondOK(c, "License suspended", l)
}

func (s *Server) handleUnsuspendLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	l, err := s.svc.Store().GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	l, err = s.svc.Unsuspend(ctx, l.LicenseKey)
	if err != nil {
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelInfo, l.LicenseKey, "License unsuspended", map[string]any{
		"status": l.Status,
	})
	return respondOK(c, "License unsuspended", l)
}

func (s *Server) handleRevokeLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	before, err := s.svc.Store().GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	l, err := s.svc.Revoke(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelWarning, l.LicenseKey, "License revoked", map[string]any{
		"activations_released": before.CurrentActivations,
	})
	return respondOK(c, "License revoked", l)
}

// ExtendRequest is the body for POST /licenses/:id/extend.
type ExtendRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleExtendLicense(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req ExtendRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}

	ctx := c.Request().Context()
	expiresAt, err := s.svc.Extend(ctx, id, req.Days)
	if err != nil {
		return respondError(c, err)
	}
	l, err := s.svc.Store().GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelInfo, l.LicenseKey, "License extended", map[string]any{
		"days":       req.Days,
		"expires_at": expiresAt,
	})
	return respondOK(c, "License extended", l)
}

func (s *Server) handleRegenerateKey(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	l, err := s.svc.RegenerateKey(c.Request().Context(), id)
	if err != nil {
		if !license.IsValidation(err) {
			log.Error().Err(err).Int64("license_id", id).Msg("Key regeneration failed")
		}
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelWarning, l.LicenseKey, "License key regenerated", nil)
	return respondOK(c, "License key regenerated", l)
}

func (s *Server) handleListActivations(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	if _, err := s.svc.Store().GetByID(ctx, id); err != nil {
		return respondError(c, err)
	}
	activations, err := s.svc.Activations().ListByLicense(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("license_id", id).Msg("Activation listing failed")
		return respondError(c, err)
	}
	return respondOK(c, "Activations retrieved", map[string]any{
		"activations": activations,
	})
}

// handleSearchActivations searches activations across all licenses by
// domain or IP substring.
func (s *Server) handleSearchActivations(c echo.Context) error {
	limit := 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}

	activations, err := s.svc.Activations().Search(c.Request().Context(), c.QueryParam("search"), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Activation search failed")
		return respondError(c, err)
	}
	return respondOK(c, "Activations retrieved", map[string]any{
		"activations": activations,
	})
}

// handleAdminDeactivate forcibly releases one domain slot on behalf of the
// customer, going through the same service path as the public endpoint.
func (s *Server) handleAdminDeactivate(c echo.Context) error {
	id, err := licenseID(c)
	if err != nil {
		return respondError(c, err)
	}
	domain := c.Param("domain")
	if domain == "" {
		return respondError(c, license.NewValidationError("domain", "required"))
	}

	ctx := c.Request().Context()
	l, err := s.svc.Store().GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	count, err := s.svc.Deactivate(ctx, l.LicenseKey, domain)
	if err != nil {
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelInfo, l.LicenseKey, "Activation deactivated by admin", map[string]any{
		"domain":      license.NormalizeDomain(domain),
		"activations": count,
	})
	return respondOK(c, "Activation deactivated", nil)
}
