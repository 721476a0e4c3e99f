package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx. Stores
// are built over it so lifecycle operations can run the same queries inside
// a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const licenseColumns = `id, license_key, product_name, customer_name, customer_email, allowed_domains, max_activations, current_activations, status, expires_at, notes, created_at, updated_at`

// Store provides DB operations for license records. All filter values go
// through parameter binding; no user input is concatenated into SQL.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store { return &Store{db: db} }

// WithTx returns a store running against the given transaction.
func (s *Store) WithTx(tx *sql.Tx) *Store { return &Store{db: tx} }

func scanLicense(row interface{ Scan(dest ...any) error }) (*License, error) {
	var l License
	err := row.Scan(&l.ID, &l.LicenseKey, &l.ProductName, &l.CustomerName, &l.CustomerEmail,
		&l.AllowedDomains, &l.MaxActivations, &l.CurrentActivations, &l.Status,
		&l.ExpiresAt, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan license: %w", err)
	}
	return &l, nil
}

// Create inserts a new license and fills in its generated id and timestamps.
// A duplicate license_key surfaces as ErrDuplicateKey so callers can retry
// with a fresh key.
func (s *Store) Create(ctx context.Context, l *License) error {
	row := s.db.QueryRowContext(ctx, `INSERT INTO licenses
		(license_key, product_name, customer_name, customer_email, allowed_domains, max_activations, status, expires_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		l.LicenseKey, l.ProductName, l.CustomerName, l.CustomerEmail,
		l.AllowedDomains, l.MaxActivations, l.Status, l.ExpiresAt, l.Notes)

	err := row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// GetByID returns the license or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*License, error) {
	return scanLicense(s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id=$1`, id))
}

// GetByKey returns the license for a key or ErrNotFound.
func (s *Store) GetByKey(ctx context.Context, key string) (*License, error) {
	return scanLicense(s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key=$1`, key))
}

// GetByKeyForUpdate locks the license row for the duration of the enclosing
// transaction. Used by activate to close the check-then-insert race on the
// activation limit.
func (s *Store) GetByKeyForUpdate(ctx context.Context, key string) (*License, error) {
	return scanLicense(s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key=$1 FOR UPDATE`, key))
}

// UpdateFields is the whitelist of mutable license fields for partial updates.
// Nil pointers are left untouched.
type UpdateFields struct {
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

// Update applies a partial update. Returns ErrNoFieldsToUpdate when the set
// is empty and ErrNotFound when the id is unknown.
func (s *Store) Update(ctx context.Context, id int64, f UpdateFields) error {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	if f.ProductName != nil {
		add("product_name", *f.ProductName)
	}
	if f.CustomerName != nil {
		add("customer_name", *f.CustomerName)
	}
	if f.CustomerEmail != nil {
		add("customer_email", *f.CustomerEmail)
	}
	if f.AllowedDomains != nil {
		add("allowed_domains", *f.AllowedDomains)
	}
	if f.MaxActivations != nil {
		add("max_activations", *f.MaxActivations)
	}
	if f.Status != nil {
		add("status", *f.Status)
	}
	if f.ExpiresAt != nil {
		add("expires_at", *f.ExpiresAt)
	} else if f.ClearExpiresAt {
		sets = append(sets, "expires_at=NULL")
	}
	if f.Notes != nil {
		add("notes", *f.Notes)
	}

	if len(sets) == 0 {
		return ErrNoFieldsToUpdate
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE licenses SET %s, updated_at=now() WHERE id=$%d`,
		strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	return requireRow(res)
}

// UpdateStatus sets the stored status.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("update license status: %w", err)
	}
	return requireRow(res)
}

// SetKey replaces the license key, invalidating the old one for future
// validation calls.
func (s *Store) SetKey(ctx context.Context, id int64, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET license_key=$1, updated_at=now() WHERE id=$2`, key, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("set license key: %w", err)
	}
	return requireRow(res)
}

// ExtendExpiry adds days to the current expires_at so repeated extensions
// stack from the existing expiry, not from "now". A never-expiring license
// starts counting from now.
func (s *Store) ExtendExpiry(ctx context.Context, id int64, days int) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE licenses
		 SET expires_at = COALESCE(expires_at, now()) + make_interval(days => $1), updated_at=now()
		 WHERE id=$2
		 RETURNING expires_at`, days, id)
	var expires time.Time
	if err := row.Scan(&expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("extend license: %w", err)
	}
	return &expires, nil
}

// RecomputeActivations rewrites current_activations from the activation rows
// and returns the new count. Always derived, never incremented blindly.
func (s *Store) RecomputeActivations(ctx context.Context, id int64) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE licenses
		 SET current_activations = (SELECT COUNT(*) FROM activations WHERE license_id=$1 AND status='active'),
		     updated_at = now()
		 WHERE id=$1
		 RETURNING current_activations`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("recompute activations: %w", err)
	}
	return count, nil
}

// Delete removes a license and (via FK cascade) its activations.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	return requireRow(res)
}

// Filter narrows List and CountWithFilters. Search is a case-insensitive
// substring match across key, product, customer name and email.
type Filter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

func (f Filter) where() (string, []any) {
	clauses := []string{}
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(license_key ILIKE $%d OR product_name ILIKE $%d OR customer_name ILIKE $%d OR customer_email ILIKE $%d)",
			n, n, n, n))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns a page of licenses, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]License, error) {
	where, args := f.where()
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM licenses%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		licenseColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CountWithFilters returns the total row count matching the filter, for
// pagination.
func (s *Store) CountWithFilters(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM licenses`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count licenses: %w", err)
	}
	return count, nil
}

// CountByStatus returns license counts keyed by stored status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ExpiringWithin returns active licenses whose expiry falls inside the next
// N days, soonest first.
func (s *Store) ExpiringWithin(ctx context.Context, days int) ([]License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses
		 WHERE status=$1 AND expires_at IS NOT NULL
		   AND expires_at > now() AND expires_at <= now() + make_interval(days => $2)
		 ORDER BY expires_at ASC`, StatusActive, days)
	if err != nil {
		return nil, fmt.Errorf("list expiring licenses: %w", err)
	}
	defer rows.Close()

	var out []License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
