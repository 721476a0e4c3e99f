package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Defaults are the configuration values applied to licenses created without
// explicit limits. They are read per call so settings changes apply without a
// restart.
type Defaults struct {
	ValidityDays   int
	MaxActivations int
}

// DefaultsProvider supplies creation defaults, typically backed by the
// settings store with config-file fallback.
type DefaultsProvider interface {
	LicenseDefaults(ctx context.Context) Defaults
}

// StaticDefaults is a DefaultsProvider returning fixed values.
type StaticDefaults Defaults

func (d StaticDefaults) LicenseDefaults(context.Context) Defaults { return Defaults(d) }

const keyGenerationAttempts = 5

// Service orchestrates the license lifecycle over the two stores and the
// domain matcher. Audit logging and email notices are external collaborators
// owned by the API layer.
type Service struct {
	db          *sql.DB
	store       *Store
	activations *ActivationStore
	defaults    DefaultsProvider
	validate    *validator.Validate
	now         func() time.Time
}

func NewService(db *sql.DB, defaults DefaultsProvider) *Service {
	return &Service{
		db:          db,
		store:       NewStore(db),
		activations: NewActivationStore(db),
		defaults:    defaults,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Store exposes the license store for read-side listing and reports.
func (s *Service) Store() *Store { return s.store }

// Activations exposes the activation store for read-side listing.
func (s *Service) Activations() *ActivationStore { return s.activations }

// CreateInput is the payload for Create. MaxActivations and ExpiresAt fall
// back to the configured defaults when unset; NeverExpires forces a null
// expiry.
type CreateInput struct {
	ProductName    string     `validate:"required"`
	CustomerName   string     `validate:"required"`
	CustomerEmail  string     `validate:"required,email"`
	AllowedDomains string     `validate:"-"`
	MaxActivations *int       `validate:"omitempty,min=1"`
	ExpiresAt      *time.Time `validate:"-"`
	NeverExpires   bool       `validate:"-"`
	Notes          string     `validate:"-"`
}

// Create generates a key and inserts a new license, applying defaults from
// the settings provider.
func (s *Service) Create(ctx context.Context, in CreateInput) (*License, error) {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, NewValidationError(verrs[0].Field(), "invalid or missing value")
		}
		return nil, NewValidationError("", err.Error())
	}

	defaults := s.defaults.LicenseDefaults(ctx)

	l := &License{
		ProductName:    in.ProductName,
		CustomerName:   in.CustomerName,
		CustomerEmail:  in.CustomerEmail,
		AllowedDomains: in.AllowedDomains,
		Status:         StatusActive,
		Notes:          in.Notes,
	}
	if in.MaxActivations != nil {
		l.MaxActivations = *in.MaxActivations
	} else {
		l.MaxActivations = defaults.MaxActivations
	}
	if in.ExpiresAt != nil {
		l.ExpiresAt = in.ExpiresAt
	} else if !in.NeverExpires && defaults.ValidityDays > 0 {
		t := s.now().AddDate(0, 0, defaults.ValidityDays)
		l.ExpiresAt = &t
	}

	for attempt := 0; attempt < keyGenerationAttempts; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		l.LicenseKey = key
		err = s.store.Create(ctx, l)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, err
		}
		log.Warn().Str("license_key", key).Msg("License key collision, retrying")
	}
	return nil, ErrKeyGenerationFailure
}

// Validate is the read-only check used by the public API and as the first
// step of Activate. domain may be empty only for licenses without an
// allowed-domain list.
func (s *Service) Validate(ctx context.Context, key, domain string) (*License, error) {
	l, err := s.store.GetByKey(ctx, NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	if err := s.checkUsable(l); err != nil {
		return nil, err
	}

	patterns := l.DomainPatterns()
	if len(patterns) > 0 {
		if domain == "" {
			return nil, ErrDomainRequired
		}
		if !MatchesAny(NormalizeDomain(domain), patterns) {
			return nil, ErrDomainNotAuthorized
		}
	}
	return l, nil
}

// checkUsable rejects licenses whose stored or derived state forbids use.
func (s *Service) checkUsable(l *License) error {
	switch l.Status {
	case StatusSuspended:
		return ErrSuspended
	case StatusRevoked:
		return ErrRevoked
	case StatusExpired:
		return ErrExpired
	case StatusActive:
	default:
		return ErrNotActive
	}
	if l.IsExpired(s.now()) {
		return ErrExpired
	}
	return nil
}

// ActivationResult reports the outcome of Activate.
type ActivationResult struct {
	License       *License
	Activation    *Activation
	AlreadyActive bool
	ActiveCount   int
}

// Activate binds a license to a domain. It is idempotent per (license,
// domain): an existing active activation returns the same token, an inactive
// one is reactivated. The whole check-then-insert runs inside a transaction
// holding a row lock on the license, so concurrent activations cannot
// overshoot the limit.
func (s *Service) Activate(ctx context.Context, key, domain string, actx ActivationContext) (*ActivationResult, error) {
	if domain == "" {
		return nil, NewValidationError("domain", "required")
	}
	if _, err := s.Validate(ctx, key, domain); err != nil {
		return nil, err
	}
	domain = NormalizeDomain(domain)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin activate tx: %w", err)
	}
	defer tx.Rollback()

	store := s.store.WithTx(tx)
	activations := s.activations.WithTx(tx)

	l, err := store.GetByKeyForUpdate(ctx, NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	// Revalidate under the lock; status may have changed since the
	// unlocked check.
	if err := s.checkUsable(l); err != nil {
		return nil, err
	}

	existing, err := activations.GetByLicenseAndDomain(ctx, l.ID, domain)
	if err != nil && !errors.Is(err, ErrActivationNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.Status == ActivationActive {
			return &ActivationResult{License: l, Activation: existing, AlreadyActive: true, ActiveCount: l.CurrentActivations}, nil
		}
		if err := activations.SetStatus(ctx, existing.ID, ActivationActive); err != nil {
			return nil, err
		}
		if err := activations.SetContext(ctx, existing.ID, actx); err != nil {
			return nil, err
		}
		count, err := store.RecomputeActivations(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit activate tx: %w", err)
		}
		existing.Status = ActivationActive
		return &ActivationResult{License: l, Activation: existing, ActiveCount: count}, nil
	}

	active, err := activations.CountActive(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if active >= l.MaxActivations {
		return nil, ErrMaxActivations
	}

	token, err := GenerateActivationToken()
	if err != nil {
		return nil, err
	}
	created := &Activation{
		LicenseID: l.ID,
		Domain:    domain,
		IPAddress: actx.IPAddress,
		UserAgent: actx.UserAgent,
		Token:     token,
		Status:    ActivationActive,
	}
	if err := activations.Create(ctx, created); err != nil {
		return nil, err
	}
	count, err := store.RecomputeActivations(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activate tx: %w", err)
	}
	return &ActivationResult{License: l, Activation: created, ActiveCount: count}, nil
}

// Deactivate marks the (license, domain) activation inactive. A missing or
// already-inactive activation is ErrActivationNotFound, not a silent success.
func (s *Service) Deactivate(ctx context.Context, key, domain string) (int, error) {
	l, err := s.store.GetByKey(ctx, NormalizeKey(key))
	if err != nil {
		return 0, err
	}
	domain = NormalizeDomain(domain)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin deactivate tx: %w", err)
	}
	defer tx.Rollback()

	activations := s.activations.WithTx(tx)
	a, err := activations.GetByLicenseAndDomain(ctx, l.ID, domain)
	if err != nil {
		return 0, err
	}
	if a.Status != ActivationActive {
		return 0, ErrActivationNotFound
	}
	if err := activations.SetStatus(ctx, a.ID, ActivationInactive); err != nil {
		return 0, err
	}
	count, err := s.store.WithTx(tx).RecomputeActivations(ctx, l.ID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deactivate tx: %w", err)
	}
	return count, nil
}

// Suspend pauses a license without touching its activations, so the slots
// survive an unsuspend.
func (s *Service) Suspend(ctx context.Context, key string) (*License, error) {
	l, err := s.store.GetByKey(ctx, NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	switch l.Status {
	case StatusSuspended:
		return nil, ErrAlreadySuspended
	case StatusRevoked:
		return nil, ErrAlreadyRevoked
	}
	if err := s.store.UpdateStatus(ctx, l.ID, StatusSuspended); err != nil {
		return nil, err
	}
	l.Status = StatusSuspended
	return l, nil
}

// Unsuspend reactivates a suspended license. A license whose expiry passed
// while suspended lands in expired instead of silently coming back active.
func (s *Service) Unsuspend(ctx context.Context, key string) (*License, error) {
	l, err := s.store.GetByKey(ctx, NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	if l.Status != StatusSuspended {
		return nil, ErrNotSuspended
	}
	next := StatusActive
	if l.IsExpired(s.now()) {
		next = StatusExpired
	}
	if err := s.store.UpdateStatus(ctx, l.ID, next); err != nil {
		return nil, err
	}
	l.Status = next
	return l, nil
}

// Revoke terminally disables a license and forces all its activations
// inactive. There is no unrevoke.
func (s *Service) Revoke(ctx context.Context, id int64) (*License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin revoke tx: %w", err)
	}
	defer tx.Rollback()

	store := s.store.WithTx(tx)
	l, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status == StatusRevoked {
		return nil, ErrAlreadyRevoked
	}
	if err := store.UpdateStatus(ctx, id, StatusRevoked); err != nil {
		return nil, err
	}
	if err := s.activations.WithTx(tx).DeactivateAllForLicense(ctx, id); err != nil {
		return nil, err
	}
	count, err := store.RecomputeActivations(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit revoke tx: %w", err)
	}
	l.Status = StatusRevoked
	l.CurrentActivations = count
	return l, nil
}

// Extend pushes expires_at out by days, stacking from the current expiry so
// repeated extensions accumulate even when called before expiry.
func (s *Service) Extend(ctx context.Context, id int64, days int) (*time.Time, error) {
	if days <= 0 {
		return nil, NewValidationError("days", "must be positive")
	}
	return s.store.ExtendExpiry(ctx, id, days)
}

// RegenerateKey issues a new unique key for an existing license, invalidating
// the old one for future validation calls.
func (s *Service) RegenerateKey(ctx context.Context, id int64) (*License, error) {
	l, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < keyGenerationAttempts; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		err = s.store.SetKey(ctx, l.ID, key)
		if err == nil {
			l.LicenseKey = key
			return l, nil
		}
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, err
		}
	}
	return nil, ErrKeyGenerationFailure
}

// UpdateInput is the whitelist of mutable fields for partial updates.
type UpdateInput struct {
	ProductName    *string
	CustomerName   *string
	CustomerEmail  *string
	AllowedDomains *string
	MaxActivations *int
	Status         *string
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	Notes          *string
}

// Update applies a whitelisted partial update and returns the fresh record.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*License, error) {
	if in.CustomerEmail != nil {
		if err := s.validate.Var(*in.CustomerEmail, "required,email"); err != nil {
			return nil, NewValidationError("customer_email", "invalid email")
		}
	}
	if in.Status != nil && !ValidStatus(*in.Status) {
		return nil, NewValidationError("status", "unknown status")
	}
	if in.MaxActivations != nil && *in.MaxActivations < 1 {
		return nil, NewValidationError("max_activations", "must be at least 1")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback()

	store := s.store.WithTx(tx)
	current, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Revocation is terminal: a revoked license cannot be moved to any
	// other status through an update.
	if current.Status == StatusRevoked && in.Status != nil && *in.Status != StatusRevoked {
		return nil, ErrAlreadyRevoked
	}

	err = store.Update(ctx, id, UpdateFields{
		ProductName:    in.ProductName,
		CustomerName:   in.CustomerName,
		CustomerEmail:  in.CustomerEmail,
		AllowedDomains: in.AllowedDomains,
		MaxActivations: in.MaxActivations,
		Status:         in.Status,
		ExpiresAt:      in.ExpiresAt,
		ClearExpiresAt: in.ClearExpiresAt,
		Notes:          in.Notes,
	})
	if err != nil {
		return nil, err
	}

	// Revoking through an update takes the same path as Revoke: no
	// activation may stay active on a revoked license.
	if in.Status != nil && *in.Status == StatusRevoked && current.Status != StatusRevoked {
		if err := s.activations.WithTx(tx).DeactivateAllForLicense(ctx, id); err != nil {
			return nil, err
		}
		if _, err := store.RecomputeActivations(ctx, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update tx: %w", err)
	}
	return s.store.GetByID(ctx, id)
}

// Delete removes a license and its activations. Admin-only escape hatch; the
// normal end of life is Revoke.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}
