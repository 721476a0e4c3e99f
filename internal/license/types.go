package license

import (
	"strings"
	"time"
)

// Status values for the license lifecycle.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRevoked   = "revoked"
	StatusExpired   = "expired"
)

// Activation status values.
const (
	ActivationActive   = "active"
	ActivationInactive = "inactive"
)

// ValidStatus reports whether s is one of the closed set of license statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// License is a persisted entitlement record keyed by an opaque license key.
type License struct {
	ID                 int64      `db:"id" json:"id"`
	LicenseKey         string     `db:"license_key" json:"license_key"`
	ProductName        string     `db:"product_name" json:"product_name"`
	CustomerName       string     `db:"customer_name" json:"customer_name"`
	CustomerEmail      string     `db:"customer_email" json:"customer_email"`
	AllowedDomains     string     `db:"allowed_domains" json:"allowed_domains"`
	MaxActivations     int        `db:"max_activations" json:"max_activations"`
	CurrentActivations int        `db:"current_activations" json:"current_activations"`
	Status             string     `db:"status" json:"status"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expires_at"`
	Notes              string     `db:"notes" json:"notes"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the license is past its expiry. Expiration is a
// derived view: the stored status is not flipped by a background job, so every
// read that cares about expiry must call this.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// DomainPatterns splits the comma-separated allowed-domain list into trimmed,
// lower-cased patterns, dropping empties.
func (l *License) DomainPatterns() []string {
	if strings.TrimSpace(l.AllowedDomains) == "" {
		return nil
	}
	parts := strings.Split(l.AllowedDomains, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// Activation binds a license to one domain, counted against the license's
// activation limit. At most one row exists per (license, domain) pair.
type Activation struct {
	ID        int64     `db:"id" json:"id"`
	LicenseID int64     `db:"license_id" json:"license_id"`
	Domain    string    `db:"domain" json:"domain"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Token     string    `db:"token" json:"token"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ActivationContext carries request metadata recorded on an activation.
type ActivationContext struct {
	IPAddress string
	UserAgent string
}

// NormalizeDomain lower-cases and strips scheme, port, path and surrounding
// whitespace from a caller-supplied domain so stored domains compare cleanly.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}
