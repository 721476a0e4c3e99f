package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/auditlog"
	"github.com/keygate/internal/license"
)

// ValidateRequest is the body for POST /validate. Domain is optional for
// licenses without an allowed-domain list.
type ValidateRequest struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain,omitempty"`
}

// ActivateRequest is the body for POST /activate and POST /deactivate.
type ActivateRequest struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
}

func (s *Server) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}
	if req.LicenseKey == "" {
		return respondError(c, license.NewValidationError("license_key", "required"))
	}

	l, err := s.svc.Validate(c.Request().Context(), req.LicenseKey, req.Domain)
	if err != nil {
		if code := license.ErrorCode(err); code == "" && !license.IsValidation(err) {
			log.Error().Err(err).Msg("Validate failed")
		}
		valid := false
		status := httpStatusFor(err)
		resp := Response{Success: false, Valid: &valid, Message: messageFor(err), Error: license.ErrorCode(err)}
		if status == http.StatusInternalServerError {
			resp.Message = "Internal error"
			resp.Error = ""
		}
		return c.JSON(status, resp)
	}

	valid := true
	return c.JSON(http.StatusOK, Response{
		Success: true,
		Valid:   &valid,
		Message: "License is valid",
		Data:    publicLicense(l),
	})
}

func (s *Server) handleActivate(c echo.Context) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}
	if req.LicenseKey == "" {
		return respondError(c, license.NewValidationError("license_key", "required"))
	}
	if req.Domain == "" {
		return respondError(c, license.NewValidationError("domain", "required"))
	}

	actx := license.ActivationContext{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}

	res, err := s.svc.Activate(c.Request().Context(), req.LicenseKey, req.Domain, actx)
	if err != nil {
		if code := license.ErrorCode(err); code == "" && !license.IsValidation(err) {
			log.Error().Err(err).Msg("Activate failed")
		}
		s.auditEntry(c, auditlog.LevelWarning, license.NormalizeKey(req.LicenseKey), "Activation rejected", map[string]any{
			"domain": req.Domain,
			"reason": messageFor(err),
		})
		return respondError(c, err)
	}

	message := "License activated"
	if res.AlreadyActive {
		message = "License already activated for this domain"
	} else {
		s.auditEntry(c, auditlog.LevelInfo, res.License.LicenseKey, "License activated", map[string]any{
			"domain":      res.Activation.Domain,
			"activations": res.ActiveCount,
		})
		if s.jobs != nil {
			if err := s.jobs.EnqueueActivationNotice(c.Request().Context(), res.License.ID, res.Activation.Domain); err != nil {
				log.Error().Err(err).Msg("Failed to enqueue activation notice")
			}
		}
	}

	return respondOK(c, message, map[string]any{
		"activation_id":    res.Activation.ID,
		"domain":           res.Activation.Domain,
		"activation_token": res.Activation.Token,
		"activated_at":     res.Activation.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDeactivate(c echo.Context) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, license.NewValidationError("", "invalid request body"))
	}
	if req.LicenseKey == "" || req.Domain == "" {
		return respondError(c, license.NewValidationError("", "license_key and domain are required"))
	}

	count, err := s.svc.Deactivate(c.Request().Context(), req.LicenseKey, req.Domain)
	if err != nil {
		if code := license.ErrorCode(err); code == "" && !license.IsValidation(err) &&
			!errors.Is(err, license.ErrActivationNotFound) {
			log.Error().Err(err).Msg("Deactivate failed")
		}
		return respondError(c, err)
	}

	s.auditEntry(c, auditlog.LevelInfo, license.NormalizeKey(req.LicenseKey), "License deactivated", map[string]any{
		"domain":      license.NormalizeDomain(req.Domain),
		"activations": count,
	})
	return respondOK(c, "License deactivated for this domain", nil)
}
