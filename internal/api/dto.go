package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keygate/internal/license"
)

// Response is the uniform envelope for every API reply. Valid is only
// populated by the validate endpoint.
type Response struct {
	Success bool   `json:"success"`
	Valid   *bool  `json:"valid,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// licenseData is the public projection of a license; internal fields like
// notes and customer identity are not exposed to product callers.
type licenseData struct {
	LicenseKey  string     `json:"license_key"`
	ProductName string     `json:"product_name"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func publicLicense(l *license.License) licenseData {
	return licenseData{
		LicenseKey:  l.LicenseKey,
		ProductName: l.ProductName,
		Status:      l.Status,
		ExpiresAt:   l.ExpiresAt,
	}
}

// httpStatusFor maps lifecycle errors to HTTP statuses. Anything unmapped is
// an internal failure.
func httpStatusFor(err error) int {
	switch {
	case license.IsValidation(err), errors.Is(err, license.ErrNoFieldsToUpdate):
		return http.StatusBadRequest
	case errors.Is(err, license.ErrNotFound), errors.Is(err, license.ErrActivationNotFound):
		return http.StatusNotFound
	case errors.Is(err, license.ErrExpired),
		errors.Is(err, license.ErrSuspended),
		errors.Is(err, license.ErrRevoked),
		errors.Is(err, license.ErrNotActive),
		errors.Is(err, license.ErrDomainRequired),
		errors.Is(err, license.ErrDomainNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, license.ErrMaxActivations),
		errors.Is(err, license.ErrAlreadySuspended),
		errors.Is(err, license.ErrNotSuspended),
		errors.Is(err, license.ErrAlreadyRevoked):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// messageFor is the caller-facing text for a lifecycle error. Store failures
// must not leak connection details, so unmapped errors get a generic line.
func messageFor(err error) string {
	switch {
	case errors.Is(err, license.ErrNotFound):
		return "License not found"
	case errors.Is(err, license.ErrNotActive):
		return "License is not active"
	case errors.Is(err, license.ErrSuspended):
		return "License is suspended"
	case errors.Is(err, license.ErrRevoked):
		return "License has been revoked"
	case errors.Is(err, license.ErrExpired):
		return "License has expired"
	case errors.Is(err, license.ErrDomainRequired):
		return "Domain is required for this license"
	case errors.Is(err, license.ErrDomainNotAuthorized):
		return "Domain is not authorized for this license"
	case errors.Is(err, license.ErrMaxActivations):
		return "Maximum number of activations reached"
	case errors.Is(err, license.ErrActivationNotFound):
		return "No active activation for this domain"
	case errors.Is(err, license.ErrAlreadySuspended):
		return "License is already suspended"
	case errors.Is(err, license.ErrNotSuspended):
		return "License is not suspended"
	case errors.Is(err, license.ErrAlreadyRevoked):
		return "License is already revoked"
	case errors.Is(err, license.ErrNoFieldsToUpdate):
		return "No fields to update"
	case license.IsValidation(err):
		return err.Error()
	}
	return "Internal error"
}

// respondError writes the uniform failure envelope for a lifecycle error.
func respondError(c echo.Context, err error) error {
	status := httpStatusFor(err)
	resp := Response{
		Success: false,
		Message: messageFor(err),
		Error:   license.ErrorCode(err),
	}
	if status == http.StatusInternalServerError {
		// Logged by the handler; the caller gets no detail.
		resp.Message = "Internal error"
		resp.Error = ""
	}
	return c.JSON(status, resp)
}
