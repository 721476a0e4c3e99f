package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const activationColumns = `id, license_id, domain, ip_address, user_agent, token, status, created_at, updated_at`

// ActivationStore provides DB operations for per-domain activations.
type ActivationStore struct {
	db DBTX
}

func NewActivationStore(db DBTX) *ActivationStore { return &ActivationStore{db: db} }

// WithTx returns a store running against the given transaction.
func (s *ActivationStore) WithTx(tx *sql.Tx) *ActivationStore { return &ActivationStore{db: tx} }

func scanActivation(row interface{ Scan(dest ...any) error }) (*Activation, error) {
	var a Activation
	err := row.Scan(&a.ID, &a.LicenseID, &a.Domain, &a.IPAddress, &a.UserAgent,
		&a.Token, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan activation: %w", err)
	}
	return &a, nil
}

// Create inserts a new activation row and fills in id and timestamps.
func (s *ActivationStore) Create(ctx context.Context, a *Activation) error {
	row := s.db.QueryRowContext(ctx, `INSERT INTO activations
		(license_id, domain, ip_address, user_agent, token, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		a.LicenseID, a.Domain, a.IPAddress, a.UserAgent, a.Token, a.Status)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

// GetByLicenseAndDomain returns the single activation row for the pair, or
// ErrActivationNotFound.
func (s *ActivationStore) GetByLicenseAndDomain(ctx context.Context, licenseID int64, domain string) (*Activation, error) {
	return scanActivation(s.db.QueryRowContext(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE license_id=$1 AND domain=$2`,
		licenseID, domain))
}

// SetStatus flips an activation between active and inactive.
func (s *ActivationStore) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activations SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("update activation status: %w", err)
	}
	return requireRow(res)
}

// SetContext refreshes request metadata on reactivation.
func (s *ActivationStore) SetContext(ctx context.Context, id int64, ac ActivationContext) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE activations SET ip_address=$1, user_agent=$2, updated_at=now() WHERE id=$3`,
		ac.IPAddress, ac.UserAgent, id)
	if err != nil {
		return fmt.Errorf("update activation context: %w", err)
	}
	return nil
}

// DeactivateAllForLicense forces every activation for a license inactive.
// Used by revoke.
func (s *ActivationStore) DeactivateAllForLicense(ctx context.Context, licenseID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE activations SET status=$1, updated_at=now() WHERE license_id=$2 AND status=$3`,
		ActivationInactive, licenseID, ActivationActive)
	if err != nil {
		return fmt.Errorf("deactivate all: %w", err)
	}
	return nil
}

// ListByLicense returns all activations for a license, newest first.
func (s *ActivationStore) ListByLicense(ctx context.Context, licenseID int64) ([]Activation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE license_id=$1 ORDER BY created_at DESC`,
		licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Search returns a page of activations matching a case-insensitive substring
// across domain and IP address.
func (s *ActivationStore) Search(ctx context.Context, search string, limit, offset int) ([]Activation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activationColumns+` FROM activations
		 WHERE ($1 = '' OR domain ILIKE $2 OR ip_address ILIKE $2)
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		search, "%"+search+"%", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search activations: %w", err)
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountActive returns the number of active activations for a license.
func (s *ActivationStore) CountActive(ctx context.Context, licenseID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id=$1 AND status=$2`,
		licenseID, ActivationActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active activations: %w", err)
	}
	return n, nil
}
